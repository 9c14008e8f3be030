package crawler

import (
	"context"
	"sync"
	"time"
)

// Monitor is the cancellation primitive shared by a worker and its session.
// It holds the closed flag and wakes waiters parked in Wait. A new Monitor is
// closed, the session opens it right before the worker starts.
type Monitor struct {
	mx     sync.Mutex
	closed bool
	wake   chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		closed: true,
		wake:   make(chan struct{}),
	}
}

func (m *Monitor) Closed() bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.closed
}

// SetClosed changes the closed flag. It does not wake waiters, call Notify.
func (m *Monitor) SetClosed(closed bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.closed = closed
}

// Notify wakes every goroutine blocked in Wait.
func (m *Monitor) Notify() {
	m.mx.Lock()
	defer m.mx.Unlock()
	close(m.wake)
	m.wake = make(chan struct{})
}

// Wait blocks for d, until Notify is called or ctx is done. It returns
// false when the monitor is closed afterwards, so the caller must stop. A
// closed monitor returns false immediately.
func (m *Monitor) Wait(ctx context.Context, d time.Duration) bool {
	m.mx.Lock()
	if m.closed {
		m.mx.Unlock()
		return false
	}
	wake := m.wake
	m.mx.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-wake:
	case <-timer.C:
	case <-ctx.Done():
		return false
	}
	return !m.Closed()
}
