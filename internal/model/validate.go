package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
)

// Checksums lists the supported fs.checksum algorithms.
var Checksums = []string{"MD5", "SHA-1", "SHA-256", "SHA-512", "CRC32"}

// Validate is the validation gate of a job. It checks rules the schema can't
// express and logs every violation. Returned error wraps ErrInvalidSettings
// and joins all violations.
func Validate(ctx context.Context, s Settings) error {
	var errs []error
	fail := func(path, format string, args ...any) {
		err := fmt.Errorf("%s: "+format, append([]any{path}, args...)...)
		slog.ErrorContext(ctx, "invalid settings", "path", path, "error", err)
		errs = append(errs, err)
	}

	if s.Name == "" {
		fail("name", "job name is required")
	} else if strings.ContainsAny(s.Name, `/\`) || s.Name == "." || s.Name == ".." {
		fail("name", "%q can't be used as a directory name", s.Name)
	}

	if s.Fs.URL == "" {
		fail("fs.url", "crawl root is required")
	}
	if s.Fs.Checksum != "" && !slices.Contains(Checksums, strings.ToUpper(s.Fs.Checksum)) {
		fail("fs.checksum", "algorithm %q is not supported: use one of %s", s.Fs.Checksum, strings.Join(Checksums, ", "))
	}
	if s.Fs.XMLSupport && s.Fs.JSONSupport {
		fail("fs", "xml_support and json_support can't be both enabled")
	}
	if s.Fs.Workers < 0 {
		fail("fs.workers", "must not be negative: got %d", s.Fs.Workers)
	}
	if s.Fs.IgnoreAbove != nil && *s.Fs.IgnoreAbove < 0 {
		fail("fs.ignore_above", "must not be negative: got %d", *s.Fs.IgnoreAbove)
	}
	if _, err := NewSchedule(s.Fs); err != nil {
		fail("fs", "%v", err)
	}

	if s.Server != nil && s.Protocol() != ProtocolLocal {
		if s.Server.Hostname == "" {
			fail("server.hostname", "required for protocol %s", s.Protocol())
		}
		if s.Server.Port < 0 || s.Server.Port > 65535 {
			fail("server.port", "out of range: got %d", s.Server.Port)
		}
	}

	if len(s.Elasticsearch.URLs) == 0 {
		fail("elasticsearch.urls", "at least one url is required")
	}
	for _, raw := range s.Elasticsearch.URLs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			fail("elasticsearch.urls", "%q must be an url with a scheme and a host, e.g. http://127.0.0.1:9200", raw)
		}
	}
	if s.Elasticsearch.APIKey != "" && s.Elasticsearch.Username != "" {
		fail("elasticsearch", "api_key and username can't be used together")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}
