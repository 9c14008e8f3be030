// Package rest serves the optional HTTP interface of a crawl job: its status
// and a document upload endpoint indexing files pushed by clients.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CZERTAINLY/Crawler/internal/document"
	"github.com/CZERTAINLY/Crawler/internal/model"
	"github.com/CZERTAINLY/Crawler/internal/service"
)

const maxMemory = 32 << 20

// Server is the REST interface of a job.
type Server struct {
	settings model.Settings
	mgmt     service.ManagementService
	docs     service.DocumentService
	opts     document.Options
	now      func() time.Time

	mx   sync.Mutex
	srv  *http.Server
	addr net.Addr
	done chan error
}

func New(settings model.Settings, mgmt service.ManagementService, docs service.DocumentService) *Server {
	fs := settings.Fs
	return &Server{
		settings: settings,
		mgmt:     mgmt,
		docs:     docs,
		opts: document.Options{
			Checksum:     fs.Checksum,
			IndexContent: true,
			AddFilesize:  fs.AddFilesize,
			IgnoreAbove:  fs.IgnoreAbove,
			JSONSupport:  fs.JSONSupport,
			XMLSupport:   fs.XMLSupport,
		},
		now: time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleStatus)
	r.Post("/_document", s.handleUpload)
	r.Delete("/_document/{id}", s.handleDelete)
	return r
}

// Start listens on rest.url and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.srv != nil {
		return errors.New("rest server already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.settings.Rest.URL)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.settings.Rest.URL, err)
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
	s.addr = ln.Addr()
	s.done = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	slog.InfoContext(ctx, "rest server started", "addr", s.addr.String())
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.addr
}

// Shutdown stops the server gracefully. It is a no-op when not started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mx.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mx.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-done
}

type statusResponse struct {
	OK            bool   `json:"ok"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	Elasticsearch string `json:"elasticsearch"`
	Started       bool   `json:"started"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		OK:            true,
		Name:          s.settings.Name,
		Version:       model.Version(),
		Elasticsearch: s.mgmt.Version(),
		Started:       s.docs.Started(),
	})
}

type uploadResponse struct {
	OK       bool               `json:"ok"`
	Filename string             `json:"filename,omitempty"`
	URL      string             `json:"url,omitempty"`
	Doc      *document.Document `json:"doc,omitempty"`
	Message  string             `json:"message,omitempty"`
}

// handleUpload indexes the multipart "file" field. The optional id and
// index query parameters override the generated id and the job index,
// simulate=true returns the document without indexing it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: err.Error()})
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: "multipart field file is required"})
		return
	}
	defer func() {
		_ = f.Close()
	}()
	content, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: err.Error()})
		return
	}

	meta := document.Meta{
		Name:    header.Filename,
		Root:    "/",
		Virtual: "/" + header.Filename,
		Real:    header.Filename,
		Size:    int64(len(content)),
		ModTime: s.now(),
	}
	doc, err := document.Build(meta, content, s.opts, s.now())
	switch {
	case errors.Is(err, document.ErrTooBig):
		writeJSON(w, http.StatusRequestEntityTooLarge, uploadResponse{Message: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: err.Error()})
		return
	}

	query := r.URL.Query()
	if simulate, _ := strconv.ParseBool(query.Get("simulate")); simulate {
		writeJSON(w, http.StatusOK, uploadResponse{OK: true, Filename: header.Filename, Doc: &doc})
		return
	}

	id := query.Get("id")
	if id == "" {
		id = document.ID(meta.Real)
	}
	index := query.Get("index")
	if index == "" {
		index = s.settings.Index()
	}
	if err := checkNames(index, id); err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: err.Error()})
		return
	}
	if err := s.docs.Index(r.Context(), index, id, doc); err != nil {
		slog.ErrorContext(r.Context(), "can't index uploaded document", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		OK:       true,
		Filename: header.Filename,
		URL:      fmt.Sprintf("%s/%s/_doc/%s", s.settings.Elasticsearch.URLs[0], index, id),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	index := r.URL.Query().Get("index")
	if index == "" {
		index = s.settings.Index()
	}
	if err := checkNames(index, id); err != nil {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: err.Error()})
		return
	}
	if err := s.docs.Delete(r.Context(), index, id); err != nil {
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{OK: true})
}

func checkNames(index, id string) error {
	if err := service.CheckName(index); err != nil {
		return err
	}
	return service.CheckName(id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("can't write response", "error", err)
	}
}
