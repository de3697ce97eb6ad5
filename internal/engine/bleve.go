package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
)

// BleveEngine opens bleve indexes stored under a single root directory.
type BleveEngine struct {
	root        string
	logger      *slog.Logger
	openTimeout time.Duration
}

// NewBleveEngine creates an engine rooted at root, creating the root
// directory if needed. openTimeout bounds each Start; 0 means unbounded.
func NewBleveEngine(root string, logger *slog.Logger, openTimeout time.Duration) (*BleveEngine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", abs, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BleveEngine{root: abs, logger: logger, openTimeout: openTimeout}, nil
}

// Root returns the absolute root directory.
func (e *BleveEngine) Root() string {
	return e.root
}

// Start opens or creates the index at path. The open itself is not
// cancellable once the bleve call begins; on timeout the late result is
// closed in the background so no handle leaks.
func (e *BleveEngine) Start(ctx context.Context, path string, opts Options) (Handle, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	dir := filepath.Join(e.root, path)

	if e.openTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.openTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open index %q: %w", path, err)
	}

	type openResult struct {
		idx bleve.Index
		err error
	}
	resultCh := make(chan openResult, 1)
	go func() {
		idx, err := e.open(dir, opts)
		resultCh <- openResult{idx: idx, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("open index %q: %w", path, res.err)
		}
		h := newBleveHandle(path, dir, res.idx, e.logger)
		e.logger.Info("index opened",
			slog.String("path", path),
			slog.String("dir", dir))
		return h, nil
	case <-ctx.Done():
		// Reap the straggler so its directory lock is released
		go func() {
			if res := <-resultCh; res.idx != nil {
				_ = res.idx.Close()
			}
		}()
		return nil, fmt.Errorf("open index %q: %w", path, ctx.Err())
	}
}

// open runs the blocking bleve open/create sequence.
func (e *BleveEngine) open(dir string, opts Options) (bleve.Index, error) {
	if err := validateIndexIntegrity(dir); err != nil {
		e.logger.Warn("index integrity check failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("index at %s is corrupted: %w", dir, err)
	}

	idx, err := bleve.Open(dir)
	if err == bleve.ErrorIndexPathDoesNotExist {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("no index at %s", dir)
		}
		if mkErr := os.MkdirAll(filepath.Dir(dir), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create parent directory: %w", mkErr)
		}
		idx, err = bleve.New(dir, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// validateIndexIntegrity checks that an existing bleve index directory
// has a readable metadata file before bleve tries to open it. A missing
// directory is fine; creation handles that case.
func validateIndexIntegrity(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(dir, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// bleveHandle is one live bleve index.
type bleveHandle struct {
	path   string
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	idx    bleve.Index
	closed bool
	terr   error

	once sync.Once
	done chan struct{}
}

var _ Handle = (*bleveHandle)(nil)

func newBleveHandle(path, dir string, idx bleve.Index, logger *slog.Logger) *bleveHandle {
	return &bleveHandle{
		path:   path,
		dir:    dir,
		idx:    idx,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (h *bleveHandle) Path() string {
	return h.path
}

func (h *bleveHandle) Done() <-chan struct{} {
	return h.done
}

func (h *bleveHandle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.terr
}

// Close is asynchronous: the caller never waits for the index to flush.
func (h *bleveHandle) Close(reason CloseReason) {
	go h.terminate(reason, nil)
}

// terminate closes the underlying index exactly once and signals Done.
func (h *bleveHandle) terminate(reason CloseReason, cause error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.terr = cause
		idx := h.idx
		h.idx = nil
		h.mu.Unlock()

		if idx != nil {
			if err := idx.Close(); err != nil {
				h.logger.Warn("index close failed",
					slog.String("path", h.path),
					slog.String("error", err.Error()))
			}
		}

		h.logger.Info("index handle terminated",
			slog.String("path", h.path),
			slog.String("reason", string(reason)))
		close(h.done)
	})
}

// Delete terminates the handle and removes the index files.
func (h *bleveHandle) Delete() error {
	h.terminate(ReasonDeleted, nil)
	if err := os.RemoveAll(h.dir); err != nil {
		return fmt.Errorf("delete index %q: %w", h.path, err)
	}
	return nil
}

// CreateSnapshot copies the live index into dir using bleve's online
// copy. The destination must not exist yet.
func (h *bleveHandle) CreateSnapshot(dir string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHandleClosed
	}
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("snapshot destination already exists: %s", dir)
	}

	copyable, ok := h.idx.(bleve.IndexCopyable)
	if !ok {
		return fmt.Errorf("index %q does not support online copy", h.path)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create snapshot parent: %w", err)
	}
	if err := copyable.CopyTo(bleve.FileSystemDirectory(dir)); err != nil {
		return fmt.Errorf("snapshot index %q: %w", h.path, err)
	}
	return nil
}

// IndexDocument adds or replaces one document.
func (h *bleveHandle) IndexDocument(id string, doc map[string]interface{}) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHandleClosed
	}
	if err := h.idx.Index(id, doc); err != nil {
		return fmt.Errorf("index document %s: %w", id, err)
	}
	return nil
}

// DeleteDocument removes one document.
func (h *bleveHandle) DeleteDocument(id string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHandleClosed
	}
	if err := h.idx.Delete(id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// Search runs a query string query against the index.
func (h *bleveHandle) Search(ctx context.Context, queryStr string, limit int) ([]SearchHit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, ErrHandleClosed
	}
	if strings.TrimSpace(queryStr) == "" {
		return []SearchHit{}, nil
	}

	query := bleve.NewQueryStringQuery(queryStr)
	req := bleve.NewSearchRequest(query)
	req.Size = limit

	result, err := h.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, SearchHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// DocCount reports the number of documents in the index.
func (h *bleveHandle) DocCount() (uint64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0, ErrHandleClosed
	}
	return h.idx.DocCount()
}
