// Package broker mediates access to expensive index handles: it caches
// them under a bounded LRU policy, collapses concurrent opens of the
// same path into one, and purges entries when handles terminate.
//
// All cache and waiter state is owned by a single dispatch goroutine
// consuming one event at a time; nothing here takes a lock, and the
// loop itself never touches the disk.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/indexd/internal/engine"
	"github.com/Aman-CERP/indexd/internal/metrics"
	"github.com/Aman-CERP/indexd/pkg/version"
)

// Recorder observes open and close transitions, e.g. to feed the index
// registry. Implementations must not block: they are called from the
// dispatch loop.
type Recorder interface {
	RecordOpen(path string)

	// RecordClose receives the handle's terminal error, nil when the
	// close was graceful.
	RecordClose(path string, err error)
}

// Config configures a Broker.
type Config struct {
	// Capacity bounds the number of simultaneously open handles.
	// Defaults to 100.
	Capacity int

	// DefaultOptions is used by Open; OpenWithOptions overrides it.
	DefaultOptions engine.Options

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Recorder is optional.
	Recorder Recorder
}

// Broker coordinates handle opens against one engine.
type Broker struct {
	engine   engine.Engine
	logger   *slog.Logger
	opts     engine.Options
	recorder Recorder

	events   chan event
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// event is one message for the dispatch loop.
type event interface{}

type openReply struct {
	handle engine.Handle
	err    error
}

type openRequest struct {
	path  string
	opts  engine.Options
	reply chan openReply
}

type openDone struct {
	path    string
	handle  engine.Handle
	err     error
	started time.Time
}

type handleExited struct {
	handle engine.Handle
}

type lookupRequest struct {
	path  string
	reply chan engine.Handle
}

type touchRequest struct {
	path string
}

type closeRequest struct {
	prefix string // "" means everything
}

type shutdownRequest struct{}

type statsRequest struct {
	reply chan Stats
}

// Stats is a point-in-time view of loop state.
type Stats struct {
	LiveHandles  int
	Capacity     int
	PendingOpens int
	Paths        []string
}

// New creates a Broker and starts its dispatch loop.
func New(eng engine.Engine, cfg Config) (*Broker, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = 100
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := newHandleCache(cfg.Capacity, logger)
	if err != nil {
		return nil, fmt.Errorf("create handle cache: %w", err)
	}

	b := &Broker{
		engine:   eng,
		logger:   logger,
		opts:     cfg.DefaultOptions,
		recorder: cfg.Recorder,
		events:   make(chan event, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go b.run(cache, cfg.Capacity)
	return b, nil
}

// run owns all mutable state. Events are processed strictly one at a
// time; the per-path lifecycle is absent -> opening (waiters, no cache
// entry) -> cached (entry, no waiters) -> absent.
func (b *Broker) run(cache *handleCache, capacity int) {
	defer close(b.stopped)

	waiters := make(map[string][]chan openReply)
	shuttingDown := false

	for {
		select {
		case <-b.quit:
			return
		case ev := <-b.events:
			switch e := ev.(type) {
			case openRequest:
				b.handleOpenRequest(cache, waiters, shuttingDown, e)
			case openDone:
				b.handleOpenDone(cache, waiters, shuttingDown, e)
			case handleExited:
				b.handleExited(cache, e)
			case lookupRequest:
				h, _ := cache.Lookup(e.path)
				e.reply <- h
			case touchRequest:
				_, _ = cache.Lookup(e.path)
			case closeRequest:
				if e.prefix == "" {
					cache.CloseAll()
				} else {
					n := cache.CloseByPrefix(e.prefix)
					b.logger.Info("close by prefix",
						slog.String("prefix", e.prefix),
						slog.Int("handles", n))
				}
			case shutdownRequest:
				shuttingDown = true
				cache.CloseAll()
			case statsRequest:
				e.reply <- Stats{
					LiveHandles:  cache.Len(),
					Capacity:     capacity,
					PendingOpens: len(waiters),
					Paths:        cache.Paths(),
				}
			}
		}
	}
}

func (b *Broker) handleOpenRequest(cache *handleCache, waiters map[string][]chan openReply, shuttingDown bool, e openRequest) {
	if shuttingDown {
		e.reply <- openReply{err: ErrShuttingDown}
		return
	}

	if h, ok := cache.Lookup(e.path); ok {
		e.reply <- openReply{handle: h}
		return
	}

	if ws, ok := waiters[e.path]; ok {
		waiters[e.path] = append(ws, e.reply)
		return
	}

	// First requester: exactly one delegated start per path. The open
	// runs detached from any caller's context; callers only stop
	// waiting, never the open itself.
	waiters[e.path] = []chan openReply{e.reply}
	started := time.Now()
	go func() {
		h, err := b.engine.Start(context.Background(), e.path, e.opts)
		b.post(openDone{path: e.path, handle: h, err: err, started: started})
	}()
}

func (b *Broker) handleOpenDone(cache *handleCache, waiters map[string][]chan openReply, shuttingDown bool, e openDone) {
	ws := waiters[e.path]
	delete(waiters, e.path)

	elapsed := time.Since(e.started).Seconds()

	if e.err != nil {
		metrics.OpenResults.WithLabelValues("error").Inc()
		metrics.OpenDuration.WithLabelValues("error").Observe(elapsed)
		b.logger.Warn("index open failed",
			slog.String("path", e.path),
			slog.String("error", e.err.Error()))
		for _, w := range ws {
			w <- openReply{err: e.err}
		}
		return
	}

	if shuttingDown {
		e.handle.Close(engine.ReasonShutdown)
		for _, w := range ws {
			w <- openReply{err: ErrShuttingDown}
		}
		return
	}

	metrics.OpenResults.WithLabelValues("ok").Inc()
	metrics.OpenDuration.WithLabelValues("ok").Observe(elapsed)

	// Insert before replying so no watcher event can beat the entry,
	// then watch before replying so termination is never missed.
	cache.Insert(e.path, e.handle)
	b.watch(e.handle)
	if b.recorder != nil {
		b.recorder.RecordOpen(e.path)
	}
	for _, w := range ws {
		w <- openReply{handle: e.handle}
	}
}

func (b *Broker) handleExited(cache *handleCache, e handleExited) {
	path, _ := cache.PathOf(e.handle)
	if !cache.Remove(e.handle) {
		// Already evicted or replaced; nothing to do.
		return
	}
	terr := e.handle.Err()
	if terr != nil {
		metrics.HandleCloses.WithLabelValues(string(engine.ReasonFailed)).Inc()
		b.logger.Warn("handle crashed, cache entry purged",
			slog.String("path", path),
			slog.String("error", terr.Error()))
	} else {
		b.logger.Info("handle terminated, cache entry purged",
			slog.String("path", path))
	}
	if b.recorder != nil {
		b.recorder.RecordClose(path, terr)
	}
}

// watch observes one handle's termination. Exactly one exit event is
// posted per handle, whatever the cause.
func (b *Broker) watch(h engine.Handle) {
	go func() {
		<-h.Done()
		b.post(handleExited{handle: h})
	}()
}

// post delivers an event unless the loop is gone. A late open result
// arriving after shutdown gets its handle closed so it cannot leak.
func (b *Broker) post(ev event) {
	select {
	case b.events <- ev:
	case <-b.quit:
		if od, ok := ev.(openDone); ok && od.handle != nil {
			od.handle.Close(engine.ReasonShutdown)
		}
	}
}

// Open returns the cached handle for path, or joins/starts an open and
// waits for it. The context stops the wait only: the open itself runs
// to completion and resolves any remaining waiters.
func (b *Broker) Open(ctx context.Context, path string) (engine.Handle, error) {
	return b.OpenWithOptions(ctx, path, b.opts)
}

// OpenWithOptions is Open with explicit open options. When several
// callers race on one path, the first requester's options win.
func (b *Broker) OpenWithOptions(ctx context.Context, path string, opts engine.Options) (engine.Handle, error) {
	if err := engine.ValidatePath(path); err != nil {
		return nil, err
	}

	reply := make(chan openReply, 1)
	select {
	case b.events <- openRequest{path: path, opts: opts, reply: reply}:
	case <-b.quit:
		return nil, ErrShuttingDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.handle, r.err
	case <-ctx.Done():
		// Abandon the wait. The reply channel is buffered, so the
		// loop's send still lands and co-waiters are unaffected.
		return nil, ctx.Err()
	case <-b.quit:
		return nil, ErrShuttingDown
	}
}

// Touch marks path most recently used if cached. Fire-and-forget.
func (b *Broker) Touch(path string) {
	select {
	case b.events <- touchRequest{path: path}:
	case <-b.quit:
	}
}

// CloseAll asks every open handle to close. Fire-and-forget: entries
// disappear as terminations are observed.
func (b *Broker) CloseAll() {
	select {
	case b.events <- closeRequest{}:
	case <-b.quit:
	}
}

// CloseByPrefix asks every open handle under prefix to close.
// Fire-and-forget.
func (b *Broker) CloseByPrefix(prefix string) {
	select {
	case b.events <- closeRequest{prefix: prefix}:
	case <-b.quit:
	}
}

// lookup fetches the cached handle for path, updating recency. Returns
// nil when absent.
func (b *Broker) lookup(ctx context.Context, path string) (engine.Handle, error) {
	reply := make(chan engine.Handle, 1)
	select {
	case b.events <- lookupRequest{path: path, reply: reply}:
	case <-b.quit:
		return nil, ErrShuttingDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case h := <-reply:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.quit:
		return nil, ErrShuttingDown
	}
}

// Stats reports loop state for the status command and the metrics
// collector. Zero stats after shutdown.
func (b *Broker) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case b.events <- statsRequest{reply: reply}:
	case <-b.quit:
		return Stats{}
	}
	select {
	case s := <-reply:
		return s
	case <-b.quit:
		return Stats{}
	}
}

// Len reports the number of live cache entries.
func (b *Broker) Len() int {
	return b.Stats().LiveHandles
}

// RootDir returns the engine root all paths resolve against.
func (b *Broker) RootDir() string {
	return b.engine.Root()
}

// Version returns the build version identifier.
func (b *Broker) Version() string {
	return version.Short()
}

// Shutdown closes every handle, waits for the cache to drain (bounded
// by ctx), then stops the dispatch loop. Safe to call more than once.
func (b *Broker) Shutdown(ctx context.Context) error {
	select {
	case b.events <- shutdownRequest{}:
	case <-b.quit:
		return nil // Loop already stopped
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var remaining int
	for {
		remaining = b.Len()
		if remaining == 0 {
			b.stopLoop()
			return nil
		}
		select {
		case <-ctx.Done():
			b.stopLoop()
			return fmt.Errorf("shutdown with %d handles still open: %w", remaining, ctx.Err())
		case <-ticker.C:
		}
	}
}

// stopLoop stops the dispatch goroutine and waits for it to exit.
func (b *Broker) stopLoop() {
	b.stopOnce.Do(func() { close(b.quit) })
	<-b.stopped
}
