// Package engine defines the index engine contract the broker mediates
// access to, and its bleve-backed production implementation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// CloseReason says why a handle is being asked to shut down. It is
// carried into logs and metrics, never interpreted by the handle.
type CloseReason string

const (
	ReasonEvicted  CloseReason = "evicted"
	ReasonShutdown CloseReason = "shutdown"
	ReasonDeleted  CloseReason = "deleted"
	ReasonFailed   CloseReason = "failed"
)

// Options configures a single open.
type Options struct {
	// CreateIfMissing opens paths with no index on disk as fresh empty
	// indexes instead of failing.
	CreateIfMissing bool
}

// Engine starts index handles. Implementations must allow concurrent
// Start calls for distinct paths; the broker guarantees it never starts
// the same path twice concurrently.
type Engine interface {
	// Start opens or creates the index stored at path (relative to the
	// engine root) and returns a live handle. The context bounds the
	// open itself; a context error means no handle was retained.
	Start(ctx context.Context, path string, opts Options) (Handle, error)

	// Root returns the absolute directory all relative paths resolve
	// against.
	Root() string
}

// Handle is one live index instance.
//
// Done is closed exactly once when the handle terminates, whatever the
// cause; after that every data operation fails. Close is asynchronous
// and idempotent.
type Handle interface {
	// Path is the relative path the handle was opened under.
	Path() string

	// Close asks the handle to shut down. It returns immediately;
	// termination is observable through Done.
	Close(reason CloseReason)

	// Delete terminates the handle and removes its files from disk.
	Delete() error

	// CreateSnapshot writes a consistent copy of the index into dir,
	// which must not exist yet.
	CreateSnapshot(dir string) error

	// IndexDocument adds or replaces one document.
	IndexDocument(id string, doc map[string]interface{}) error

	// DeleteDocument removes one document.
	DeleteDocument(id string) error

	// Search runs a query string against the index.
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)

	// DocCount reports the number of documents in the index.
	DocCount() (uint64, error)

	// Done is closed when the handle has terminated.
	Done() <-chan struct{}

	// Err reports the terminal error, nil for a graceful close. Only
	// meaningful after Done is closed.
	Err() error
}

// SearchHit is one search result row.
type SearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// ErrHandleClosed is returned by data operations on a terminated handle.
var ErrHandleClosed = errors.New("index handle is closed")

// ValidatePath rejects path keys that would escape the root directory.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("index path must not be empty")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("index path must be relative, got %q", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("index path escapes the root directory: %q", path)
	}
	return nil
}
