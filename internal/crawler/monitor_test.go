package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitor_ClosedByDefault(t *testing.T) {
	t.Parallel()
	m := NewMonitor()
	require.True(t, m.Closed())
	require.False(t, m.Wait(t.Context(), time.Hour))
}

func TestMonitor_Timeout(t *testing.T) {
	t.Parallel()
	m := NewMonitor()
	m.SetClosed(false)
	require.True(t, m.Wait(t.Context(), time.Millisecond))
}

func TestMonitor_Notify(t *testing.T) {
	t.Parallel()
	m := NewMonitor()
	m.SetClosed(false)

	done := make(chan bool)
	go func() {
		done <- m.Wait(t.Context(), time.Hour)
	}()

	require.Eventually(t, func() bool {
		m.SetClosed(true)
		m.Notify()
		select {
		case ok := <-done:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMonitor_NotifyOpen(t *testing.T) {
	t.Parallel()
	m := NewMonitor()
	m.SetClosed(false)

	done := make(chan bool)
	go func() {
		done <- m.Wait(t.Context(), time.Hour)
	}()

	require.Eventually(t, func() bool {
		m.Notify()
		select {
		case ok := <-done:
			return ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
