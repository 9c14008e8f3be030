package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// fakeDocs records indexed documents in memory.
type fakeDocs struct {
	mx      sync.Mutex
	docs    map[string]map[string]json.RawMessage
	failOn  string
	started bool
	// onIndex runs after every stored document.
	onIndex func()
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[string]map[string]json.RawMessage), started: true}
}

func (f *fakeDocs) Start(context.Context) error        { return nil }
func (f *fakeDocs) Close() error                       { return nil }
func (f *fakeDocs) CreateSchema(context.Context) error { return nil }
func (f *fakeDocs) Started() bool                      { return f.started }

func (f *fakeDocs) Index(_ context.Context, index, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	f.mx.Lock()
	if f.failOn != "" && index == f.failOn {
		f.mx.Unlock()
		return errors.New("index rejected")
	}
	if f.docs[index] == nil {
		f.docs[index] = make(map[string]json.RawMessage)
	}
	f.docs[index][id] = raw
	onIndex := f.onIndex
	f.mx.Unlock()
	if onIndex != nil {
		onIndex()
	}
	return nil
}

func (f *fakeDocs) Delete(_ context.Context, index, id string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	delete(f.docs[index], id)
	return nil
}

func (f *fakeDocs) count(index string) int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.docs[index])
}

// virtuals returns path.virtual of every document in index.
func (f *fakeDocs) virtuals(index string) []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	var ret []string
	for _, raw := range f.docs[index] {
		var doc struct {
			Path struct {
				Virtual string `json:"virtual"`
			} `json:"path"`
		}
		if json.Unmarshal(raw, &doc) == nil {
			ret = append(ret, doc.Path.Virtual)
		}
	}
	return ret
}

type fakeRecorder struct {
	mx       sync.Mutex
	started  int
	finished []error
}

func (r *fakeRecorder) StartRun(context.Context) (string, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.started++
	return "run", nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, _ string, _, _ int, runErr error) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.finished = append(r.finished, runErr)
	return nil
}
