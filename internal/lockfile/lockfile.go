// Package lockfile guards the index root against concurrent daemons.
//
// Bleve index directories tolerate exactly one opener, so the serve
// command takes an exclusive cross-process lock on the root before the
// broker touches anything. The lock is advisory flock(2) semantics via
// gofrs/flock and works on every platform indexd builds for.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is an exclusive cross-process lock on an index root.
type Lock struct {
	path  string
	flock *flock.Flock
}

// Acquire takes the root lock without blocking. A second daemon on the
// same root fails immediately rather than queueing behind the first.
func Acquire(root string) (*Lock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}

	path := filepath.Join(root, ".indexd.lock")
	fl := flock.New(path)

	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire root lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("index root %s is locked by another indexd process", root)
	}

	return &Lock{path: path, flock: fl}, nil
}

// Release drops the lock. Safe to call on an already-released lock.
func (l *Lock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release root lock: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}
