package broker

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/indexd/internal/engine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine is a controllable in-memory engine. Opens can be forced
// to fail or to block on a gate, and every start is counted so tests
// can assert single-flight behavior.
type fakeEngine struct {
	mu      sync.Mutex
	root    string
	starts  map[string]int
	failing map[string]error
	gates   map[string]chan struct{}
	handles map[string]*fakeHandle
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		root:    "/var/lib/indexd/indexes",
		starts:  make(map[string]int),
		failing: make(map[string]error),
		gates:   make(map[string]chan struct{}),
		handles: make(map[string]*fakeHandle),
	}
}

func (e *fakeEngine) Root() string { return e.root }

func (e *fakeEngine) Start(ctx context.Context, path string, opts engine.Options) (engine.Handle, error) {
	e.mu.Lock()
	e.starts[path]++
	gate := e.gates[path]
	failure := e.failing[path]
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	h := newFakeHandle(path)
	e.mu.Lock()
	e.handles[path] = h
	e.mu.Unlock()
	return h, nil
}

// failWith makes every subsequent open of path fail with err.
func (e *fakeEngine) failWith(path string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing[path] = err
}

// gate blocks opens of path until the returned release func is called.
func (e *fakeEngine) gate(path string) (release func()) {
	ch := make(chan struct{})
	e.mu.Lock()
	e.gates[path] = ch
	e.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (e *fakeEngine) startCount(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts[path]
}

func (e *fakeEngine) lastHandle(path string) *fakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[path]
}

// fakeHandle terminates synchronously on Close so tests can drive the
// lifecycle deterministically.
type fakeHandle struct {
	path string

	mu        sync.Mutex
	closed    bool
	stubborn  bool
	reason    engine.CloseReason
	deleted   bool
	snapshots []string
	snapErr   error
	terr      error

	once sync.Once
	done chan struct{}
}

var _ engine.Handle = (*fakeHandle)(nil)

func newFakeHandle(path string) *fakeHandle {
	return &fakeHandle{path: path, done: make(chan struct{})}
}

func (h *fakeHandle) Path() string { return h.path }

func (h *fakeHandle) Close(reason engine.CloseReason) {
	h.mu.Lock()
	ignore := h.stubborn
	h.mu.Unlock()
	if ignore {
		return
	}
	h.terminate(reason, nil)
}

// setStubborn makes the handle ignore Close requests, simulating a
// handle stuck shutting down.
func (h *fakeHandle) setStubborn() {
	h.mu.Lock()
	h.stubborn = true
	h.mu.Unlock()
}

// fail simulates a crash: the handle terminates on its own.
func (h *fakeHandle) fail(err error) {
	h.terminate(engine.ReasonFailed, err)
}

func (h *fakeHandle) terminate(reason engine.CloseReason, err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.reason = reason
		h.terr = err
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *fakeHandle) Delete() error {
	h.mu.Lock()
	h.deleted = true
	h.mu.Unlock()
	h.terminate(engine.ReasonDeleted, nil)
	return nil
}

func (h *fakeHandle) CreateSnapshot(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return engine.ErrHandleClosed
	}
	if h.snapErr != nil {
		return h.snapErr
	}
	h.snapshots = append(h.snapshots, dir)
	return nil
}

func (h *fakeHandle) IndexDocument(id string, doc map[string]interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return engine.ErrHandleClosed
	}
	return nil
}

func (h *fakeHandle) DeleteDocument(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return engine.ErrHandleClosed
	}
	return nil
}

func (h *fakeHandle) Search(ctx context.Context, query string, limit int) ([]engine.SearchHit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, engine.ErrHandleClosed
	}
	return []engine.SearchHit{}, nil
}

func (h *fakeHandle) DocCount() (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, engine.ErrHandleClosed
	}
	return 0, nil
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terr
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) closeReason() engine.CloseReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

func (h *fakeHandle) wasDeleted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deleted
}

func (h *fakeHandle) snapshotDirs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.snapshots...)
}
