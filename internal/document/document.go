// Package document builds the JSON documents submitted to the index from file
// metadata and raw content. Content extraction is limited to UTF-8 text,
// JSON passthrough when json_support is enabled and XML to JSON conversion
// when xml_support is enabled.
package document

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io/fs"
	"mime"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrTooBig      = errors.New("file too big")
	ErrInvalidJSON = errors.New("invalid json document")
	ErrInvalidXML  = errors.New("invalid xml document")
)

// Options derived from the fs settings of a job.
type Options struct {
	Checksum     string
	IndexContent bool
	AddFilesize  bool
	IgnoreAbove  *int64
	JSONSupport  bool
	XMLSupport   bool
}

// Meta describes a crawled file or folder.
type Meta struct {
	Name    string
	Root    string // crawl root
	Virtual string // path relative to the root, always starts with /
	Real    string // path on the crawled host
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
	Owner   string
	Group   string
}

type Document struct {
	Content    string      `json:"content,omitempty"`
	File       File        `json:"file"`
	Path       Path        `json:"path"`
	Attributes *Attributes `json:"attributes,omitempty"`

	raw json.RawMessage
}

type File struct {
	Filename     string    `json:"filename"`
	Extension    string    `json:"extension,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	Filesize     *int64    `json:"filesize,omitempty"`
	IndexingDate time.Time `json:"indexing_date"`
	LastModified time.Time `json:"last_modified,omitzero"`
	Checksum     string    `json:"checksum,omitempty"`
	URL          string    `json:"url"`
}

type Path struct {
	Root    string `json:"root"`
	Virtual string `json:"virtual"`
	Real    string `json:"real"`
}

type Attributes struct {
	Owner       string `json:"owner,omitempty"`
	Group       string `json:"group,omitempty"`
	Permissions int    `json:"permissions"`
}

// Folder is the document stored in the folder index.
type Folder struct {
	Path Path `json:"path"`
	File struct {
		Filename     string    `json:"filename"`
		LastModified time.Time `json:"last_modified,omitzero"`
		IndexingDate time.Time `json:"indexing_date"`
	} `json:"file"`
}

// MarshalJSON emits the JSON object of a json_support or xml_support document.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.raw != nil {
		return d.raw, nil
	}
	type plain Document
	return json.Marshal(plain(d))
}

// ID returns a stable identifier of a real path.
func ID(real string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(real)).String()
}

// NeedsContent reports whether the file content must be read to build a document.
func (o Options) NeedsContent() bool {
	return o.IndexContent || o.Checksum != "" || o.JSONSupport || o.XMLSupport
}

// Build returns the document for a file. content may be nil when
// Options.NeedsContent is false. ErrTooBig is returned for files above
// the ignore_above limit.
func Build(meta Meta, content []byte, opts Options, now time.Time) (Document, error) {
	if opts.IgnoreAbove != nil && meta.Size > *opts.IgnoreAbove {
		return Document{}, fmt.Errorf("%s: %w: %d > %d", meta.Real, ErrTooBig, meta.Size, *opts.IgnoreAbove)
	}

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(meta.Name)), ".")
	if opts.JSONSupport && ext == "json" {
		if !json.Valid(content) || !bytes.HasPrefix(bytes.TrimSpace(content), []byte("{")) {
			return Document{}, fmt.Errorf("%s: %w", meta.Real, ErrInvalidJSON)
		}
		return Document{raw: json.RawMessage(bytes.TrimSpace(content))}, nil
	}
	if opts.XMLSupport && ext == "xml" {
		raw, err := xmlObject(content)
		if err != nil {
			return Document{}, fmt.Errorf("%s: %w: %w", meta.Real, ErrInvalidXML, err)
		}
		return Document{raw: raw}, nil
	}

	doc := Document{
		File: File{
			Filename:     meta.Name,
			Extension:    ext,
			ContentType:  contentType(meta.Name, content),
			IndexingDate: now.UTC(),
			LastModified: meta.ModTime.UTC(),
			URL:          "file://" + meta.Real,
		},
		Path: Path{
			Root:    meta.Root,
			Virtual: meta.Virtual,
			Real:    meta.Real,
		},
	}
	if opts.AddFilesize {
		size := meta.Size
		doc.File.Filesize = &size
	}
	if meta.Mode != 0 || meta.Owner != "" || meta.Group != "" {
		doc.Attributes = &Attributes{
			Owner:       meta.Owner,
			Group:       meta.Group,
			Permissions: permissions(meta.Mode),
		}
	}

	if opts.Checksum != "" {
		sum, err := Checksum(opts.Checksum, content)
		if err != nil {
			return Document{}, err
		}
		doc.File.Checksum = sum
	}

	if opts.IndexContent && utf8.Valid(content) {
		doc.Content = string(content)
	}
	return doc, nil
}

// BuildFolder returns the document of a crawled directory.
func BuildFolder(meta Meta, now time.Time) Folder {
	var f Folder
	f.Path = Path{Root: meta.Root, Virtual: meta.Virtual, Real: meta.Real}
	f.File.Filename = meta.Name
	f.File.LastModified = meta.ModTime.UTC()
	f.File.IndexingDate = now.UTC()
	return f
}

// Checksum returns the hex encoded digest of content.
func Checksum(algorithm string, content []byte) (string, error) {
	var h hash.Hash
	switch strings.ToUpper(algorithm) {
	case "MD5":
		h = md5.New()
	case "SHA-1":
		h = sha1.New()
	case "SHA-256":
		h = sha256.New()
	case "SHA-512":
		h = sha512.New()
	case "CRC32":
		h = crc32.NewIEEE()
	default:
		return "", fmt.Errorf("checksum algorithm %q is not supported", algorithm)
	}
	_, _ = h.Write(content)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func contentType(name string, content []byte) string {
	if len(content) > 0 {
		return mimetype.Detect(content).String()
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// permissions renders mode as the decimal form of its octal unix
// representation, 0644 => 644.
func permissions(mode fs.FileMode) int {
	perm := mode.Perm()
	return int(perm>>6&7)*100 + int(perm>>3&7)*10 + int(perm&7)
}
