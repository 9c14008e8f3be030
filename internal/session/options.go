package session

import (
	"time"

	"github.com/CZERTAINLY/Crawler/internal/service"
)

const DefaultPollInterval = 500 * time.Millisecond

type Option func(*Session)

// WithServices replaces the Elasticsearch services built from settings.
func WithServices(mgmt service.ManagementService, docs service.DocumentService) Option {
	return func(s *Session) {
		s.mgmt = mgmt
		s.docs = docs
	}
}

// WithPollInterval sets how often Close checks the worker has exited.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithShutdownTimeout bounds the wait of Close for the worker. Zero waits
// forever.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.shutdownTimeout = d
	}
}
