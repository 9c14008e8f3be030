package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CZERTAINLY/Crawler/internal/crawler"
	"github.com/CZERTAINLY/Crawler/internal/log"
	"github.com/CZERTAINLY/Crawler/internal/model"
	"github.com/CZERTAINLY/Crawler/internal/service"
	"github.com/CZERTAINLY/Crawler/internal/store"
)

var (
	ErrAlreadyStarted  = errors.New("session already started")
	ErrShutdownTimeout = errors.New("worker did not stop in time")
)

// Session is a single crawl job.
type Session struct {
	name     string
	jobDir   string
	settings model.Settings
	loop     int
	rest     bool

	mgmt    service.ManagementService
	docs    service.DocumentService
	worker  crawler.Worker
	history *history

	pollInterval    time.Duration
	shutdownTimeout time.Duration

	mx       sync.Mutex
	state    State
	launched bool
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// New validates settings, creates configRoot/<name> and selects the worker.
// No network I/O is done.
func New(ctx context.Context, configRoot string, settings model.Settings, loop int, rest bool, opts ...Option) (*Session, error) {
	ctx = log.ContextAttrs(ctx, slog.String("job", settings.Name))

	if err := os.MkdirAll(configRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating config dir %s: %w", configRoot, err)
	}
	if err := model.Validate(ctx, settings); err != nil {
		return nil, err
	}
	jobDir := filepath.Join(configRoot, settings.Name)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating job dir %s: %w", jobDir, err)
	}

	s := &Session{
		name:         settings.Name,
		jobDir:       jobDir,
		settings:     settings,
		loop:         loop,
		rest:         rest,
		history:      &history{},
		pollInterval: DefaultPollInterval,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.mgmt == nil || s.docs == nil {
		mgmt, err := service.NewManagement(settings)
		if err != nil {
			return nil, fmt.Errorf("creating management service: %w", err)
		}
		docs, err := service.NewDocuments(settings)
		if err != nil {
			return nil, fmt.Errorf("creating document service: %w", err)
		}
		s.mgmt, s.docs = mgmt, docs
	}

	worker, err := crawler.Select(settings.Protocol(), loop, crawler.Deps{
		Settings:  settings,
		Loop:      loop,
		Documents: s.docs,
		Recorder:  s.history,
	})
	if err != nil {
		return nil, err
	}
	s.worker = worker

	slog.DebugContext(ctx, "session constructed",
		"strategy", worker.Strategy(),
		"loop", loop,
		"rest", rest,
		"dir", jobDir)
	return s, nil
}

// Start brings up the services and launches the worker. Errors are returned
// unmodified and nothing is rolled back, call Close.
func (s *Session) Start(ctx context.Context) error {
	ctx = log.ContextAttrs(ctx, slog.String("job", s.name))

	s.mx.Lock()
	if s.state != Constructed {
		s.mx.Unlock()
		return ErrAlreadyStarted
	}
	if s.loop == 0 && !s.rest {
		s.mx.Unlock()
		slog.WarnContext(ctx, "loop is 0 and rest is disabled: nothing to do")
		s.finish()
		return nil
	}
	s.state = Starting
	s.mx.Unlock()

	if err := s.mgmt.Start(ctx); err != nil {
		return err
	}
	if err := s.docs.Start(ctx); err != nil {
		return err
	}
	if err := s.docs.CreateSchema(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "connected to elasticsearch", "version", s.mgmt.Version())

	if s.loop < 0 {
		slog.InfoContext(ctx, "watch mode: crawling until stopped", "strategy", s.worker.Strategy())
	}
	if s.loop != 0 {
		st, err := store.Open(ctx, filepath.Join(s.jobDir, store.FileName))
		if err != nil {
			return err
		}
		s.history.set(st)
	}

	s.worker.Monitor().SetClosed(false)
	s.mx.Lock()
	s.launched = true
	s.state = Running
	s.mx.Unlock()

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.finish()
		err := s.worker.Run(runCtx)
		if err != nil {
			slog.ErrorContext(runCtx, "crawler stopped with error", "error", err)
		} else {
			slog.DebugContext(runCtx, "crawler stopped")
		}
		s.mx.Lock()
		s.err = err
		s.mx.Unlock()
	}()
	return nil
}

func (s *Session) finish() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Close stops the worker, waits for it to exit and closes the services.
// It is safe on a session never started or partially started. A second
// call after a successful one returns nil.
func (s *Session) Close() error {
	ctx := log.ContextAttrs(context.Background(), slog.String("job", s.name))

	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	launched := s.launched
	s.state = Stopping
	s.mx.Unlock()

	monitor := s.worker.Monitor()
	monitor.SetClosed(true)
	monitor.Notify()

	if launched {
		if err := s.wait(ctx); err != nil {
			return err
		}
	} else {
		s.finish()
	}

	errs := []error{
		s.mgmt.Close(),
		s.docs.Close(),
		s.history.close(),
	}

	s.mx.Lock()
	s.closed = true
	s.state = Stopped
	s.mx.Unlock()
	slog.InfoContext(ctx, "session stopped")
	return errors.Join(errs...)
}

// wait polls the worker goroutine until it exits.
func (s *Session) wait(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.shutdownTimeout > 0 {
		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-s.done:
			return nil
		default:
		}
		select {
		case <-s.done:
			return nil
		case <-ticker.C:
			slog.DebugContext(ctx, "waiting for the crawler to stop")
		case <-deadline:
			return fmt.Errorf("%w: %s", ErrShutdownTimeout, s.shutdownTimeout)
		}
	}
}

func (s *Session) ManagementService() service.ManagementService { return s.mgmt }
func (s *Session) DocumentService() service.DocumentService     { return s.docs }
func (s *Session) Worker() crawler.Worker                       { return s.worker }
func (s *Session) Name() string                                 { return s.name }

func (s *Session) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// Done is closed when the worker goroutine exits. When there is nothing to
// run it is closed by Start, or by Close when Start was never called.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the result of the worker once Done is closed.
func (s *Session) Err() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.err
}

// LastRun returns the latest crawl pass recorded for the job.
func (s *Session) LastRun(ctx context.Context) (store.Run, error) {
	return s.history.lastRun(ctx)
}

var errNoHistory = errors.New("run history is not open")

// history forwards to the store opened by Start.
type history struct {
	mx    sync.RWMutex
	store *store.Store
}

func (h *history) set(st *store.Store) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.store = st
}

func (h *history) get() (*store.Store, error) {
	h.mx.RLock()
	defer h.mx.RUnlock()
	if h.store == nil {
		return nil, errNoHistory
	}
	return h.store, nil
}

func (h *history) StartRun(ctx context.Context) (string, error) {
	st, err := h.get()
	if err != nil {
		return "", err
	}
	return st.StartRun(ctx)
}

func (h *history) FinishRun(ctx context.Context, id string, indexed, failed int, runErr error) error {
	st, err := h.get()
	if err != nil {
		return err
	}
	return st.FinishRun(ctx, id, indexed, failed, runErr)
}

func (h *history) lastRun(ctx context.Context) (store.Run, error) {
	st, err := h.get()
	if err != nil {
		return store.Run{}, err
	}
	return st.LastRun(ctx)
}

func (h *history) close() error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.store == nil {
		return nil
	}
	err := h.store.Close()
	h.store = nil
	return err
}
