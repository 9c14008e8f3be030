package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/Crawler/internal/model"
)

const (
	contentType    = "application/json"
	requestTimeout = 30 * time.Second
)

// ESError is a non successful Elasticsearch response.
type ESError struct {
	Status int
	Type   string
	Reason string
}

func (e *ESError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch: status code: %d, detail: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("elasticsearch: status code: %d, %s: %s", e.Status, e.Type, e.Reason)
}

// client is an Elasticsearch REST client shared by the services.
type client struct {
	urls     []*url.URL
	http     *http.Client
	username string
	password string
	apiKey   string

	mx      sync.Mutex
	current int
}

func newClient(cfg model.Elasticsearch) (*client, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.New("elasticsearch.urls is empty")
	}
	urls := make([]*url.URL, 0, len(cfg.URLs))
	for _, raw := range cfg.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("please define the elasticsearch url with a scheme, e.g. `http://127.0.0.1:9200`: got %q", raw)
		}
		urls = append(urls, u)
	}
	return &client{
		urls: urls,
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		username: cfg.Username,
		password: cfg.Password,
		apiKey:   cfg.APIKey,
	}, nil
}

// do sends a request to the current node. Transport errors move on to the
// next configured node, at most once per node.
func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	var errs []error
	for range c.urls {
		base := c.node()
		req, err := http.NewRequestWithContext(ctx, method, base.JoinPath(path).String(), bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", contentType)
		switch {
		case c.apiKey != "":
			req.Header.Set("Authorization", "ApiKey "+c.apiKey)
		case c.username != "":
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		slog.WarnContext(ctx, "elasticsearch node failed", "node", base.Redacted(), "error", err)
		errs = append(errs, err)
		c.next()
	}
	return nil, errors.Join(errs...)
}

func (c *client) node() *url.URL {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.urls[c.current]
}

func (c *client) next() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.current = (c.current + 1) % len(c.urls)
}

// call performs a request and decodes a successful JSON response into out
// when out is not nil.
func (c *client) call(ctx context.Context, method, path string, body, out any) (int, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, decodeResponse(resp, out)
}

func (c *client) close() {
	c.http.CloseIdleConnections()
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.Request.Method == http.MethodHead {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		ct, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if err != nil {
			return fmt.Errorf("failed to parse response content type header: %w", err)
		}
		if ct != contentType {
			return fmt.Errorf("expected `application/json` content type, got: %s", ct)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return nil
	}

	esErr := &ESError{Status: resp.StatusCode}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var problem struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(respBody, &problem) == nil && len(problem.Error) > 0 {
		var detail struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(problem.Error, &detail) == nil {
			esErr.Type, esErr.Reason = detail.Type, detail.Reason
		} else {
			esErr.Reason = strings.Trim(string(problem.Error), `"`)
		}
		return esErr
	}
	esErr.Reason = string(respBody)
	return esErr
}
