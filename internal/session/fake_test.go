package session_test

import (
	"context"
	"sync"
)

type fakeMgmt struct {
	mx       sync.Mutex
	startErr error
	closeErr error
	started  bool
	closed   int
}

func (m *fakeMgmt) Start(context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *fakeMgmt) Close() error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.started = false
	m.closed++
	return m.closeErr
}

func (m *fakeMgmt) Version() string { return "8.15.0" }

func (m *fakeMgmt) Started() bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.started
}

type fakeDocs struct {
	mx        sync.Mutex
	schemaErr error
	closeErr  error
	started   bool
	schema    bool
	closed    int
	indexed   map[string]int
	// block, when set, holds every Index call until it is closed
	block chan struct{}
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{indexed: make(map[string]int)}
}

func (d *fakeDocs) Start(context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.started = true
	return nil
}

func (d *fakeDocs) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.started = false
	d.closed++
	return d.closeErr
}

func (d *fakeDocs) CreateSchema(context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.schemaErr != nil {
		return d.schemaErr
	}
	d.schema = true
	return nil
}

func (d *fakeDocs) Index(_ context.Context, index, _ string, _ any) error {
	if d.block != nil {
		<-d.block
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.indexed[index]++
	return nil
}

func (d *fakeDocs) Delete(context.Context, string, string) error { return nil }

func (d *fakeDocs) Started() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.started
}

func (d *fakeDocs) count(index string) int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.indexed[index]
}
