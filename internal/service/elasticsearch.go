package service

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/CZERTAINLY/Crawler/internal/model"
)

//go:embed mappings/*.json
var mappings embed.FS

// Management is the Elasticsearch ManagementService.
type Management struct {
	client *client

	mx      sync.RWMutex
	version string
	started bool
}

func NewManagement(settings model.Settings) (*Management, error) {
	c, err := newClient(settings.Elasticsearch)
	if err != nil {
		return nil, err
	}
	return &Management{client: c}, nil
}

// Start connects to the cluster and reads its version.
func (m *Management) Start(ctx context.Context) error {
	var info struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if _, err := m.client.call(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	if info.Version.Number == "" {
		return errors.New("connecting to elasticsearch: version is missing in the response")
	}

	m.mx.Lock()
	defer m.mx.Unlock()
	m.version = info.Version.Number
	m.started = true
	slog.DebugContext(ctx, "elasticsearch management service started", "version", m.version)
	return nil
}

func (m *Management) Version() string {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.version
}

func (m *Management) Started() bool {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.started
}

func (m *Management) Close() error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.started = false
	m.client.close()
	return nil
}

// Documents is the Elasticsearch DocumentService.
type Documents struct {
	client      *client
	index       string
	indexFolder string

	mx      sync.RWMutex
	started bool
}

func NewDocuments(settings model.Settings) (*Documents, error) {
	c, err := newClient(settings.Elasticsearch)
	if err != nil {
		return nil, err
	}
	return &Documents{
		client:      c,
		index:       settings.Index(),
		indexFolder: settings.IndexFolder(),
	}, nil
}

func (d *Documents) Start(ctx context.Context) error {
	if _, err := d.client.call(ctx, http.MethodGet, "/", nil, nil); err != nil {
		return fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.started = true
	return nil
}

func (d *Documents) Started() bool {
	d.mx.RLock()
	defer d.mx.RUnlock()
	return d.started
}

// CreateSchema creates the documents and folders indices unless they exist.
func (d *Documents) CreateSchema(ctx context.Context) error {
	if !d.Started() {
		return ErrNotStarted
	}
	for _, idx := range []struct {
		name    string
		mapping string
	}{
		{d.index, "mappings/documents.json"},
		{d.indexFolder, "mappings/folders.json"},
	} {
		if err := d.createIndex(ctx, idx.name, idx.mapping); err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}
	return nil
}

func (d *Documents) createIndex(ctx context.Context, name, mappingPath string) error {
	status, err := d.client.call(ctx, http.MethodHead, "/"+name, nil, nil)
	var esErr *ESError
	switch {
	case err == nil && status == http.StatusOK:
		slog.DebugContext(ctx, "index already exists", "index", name)
		return nil
	case errors.As(err, &esErr) && esErr.Status == http.StatusNotFound:
	case err != nil:
		return err
	}

	raw, err := mappings.ReadFile(mappingPath)
	if err != nil {
		return err
	}
	_, err = d.client.call(ctx, http.MethodPut, "/"+name, json.RawMessage(raw), nil)
	if errors.As(err, &esErr) && esErr.Type == "resource_already_exists_exception" {
		return nil
	}
	if err == nil {
		slog.InfoContext(ctx, "index created", "index", name)
	}
	return err
}

// Index stores doc under id. An empty index means the documents index.
func (d *Documents) Index(ctx context.Context, index, id string, doc any) error {
	if !d.Started() {
		return ErrNotStarted
	}
	if index == "" {
		index = d.index
	}
	docPath, err := documentPath(index, id)
	if err != nil {
		return err
	}
	var resp struct {
		Result string `json:"result"`
	}
	if _, err := d.client.call(ctx, http.MethodPut, docPath, doc, &resp); err != nil {
		return fmt.Errorf("indexing %s/%s: %w", index, id, err)
	}
	slog.DebugContext(ctx, "document indexed", "index", index, "id", id, "result", resp.Result)
	return nil
}

// Delete removes a document, missing documents are not an error.
func (d *Documents) Delete(ctx context.Context, index, id string) error {
	if !d.Started() {
		return ErrNotStarted
	}
	if index == "" {
		index = d.index
	}
	docPath, err := documentPath(index, id)
	if err != nil {
		return err
	}
	_, err = d.client.call(ctx, http.MethodDelete, docPath, nil, nil)
	var esErr *ESError
	if errors.As(err, &esErr) && esErr.Status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", index, id, err)
	}
	return nil
}

// documentPath builds the escaped /<index>/_doc/<id> request path.
func documentPath(index, id string) (string, error) {
	if err := CheckName(index); err != nil {
		return "", err
	}
	if err := CheckName(id); err != nil {
		return "", err
	}
	return "/" + url.PathEscape(index) + "/_doc/" + url.PathEscape(id), nil
}

func (d *Documents) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.started = false
	d.client.close()
	return nil
}
