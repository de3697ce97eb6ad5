// Package dirwatch watches the index root for directories disappearing
// underneath live handles, so the broker can close them instead of
// serving reads against deleted files.
package dirwatch

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures the watcher.
type Options struct {
	// Debounce is how long removals are coalesced before notification.
	// Default: 500ms.
	Debounce time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.Debounce == 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Watcher reports root-relative paths of removed or renamed-away
// directories. Notifications fire at most one debounce window after
// the first removal in a burst, each path once per burst.
type Watcher struct {
	root     string
	notify   func(path string)
	debounce time.Duration
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	// dirs tracks which paths are watched directories, so removals of
	// plain files (index segments churn constantly) are not mistaken
	// for index removals. Touched only by addRecursive before run
	// starts, then by run itself.
	dirs map[string]struct{}

	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over root. notify is called from the watcher's
// goroutine and must not block for long.
func New(root string, notify func(path string), opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:     absRoot,
		notify:   notify,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		fsw:      fsw,
		dirs:     make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start adds the root tree to the watcher and begins observing.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.root); err != nil {
		_ = w.fsw.Close()
		return fmt.Errorf("watch index root: %w", err)
	}
	w.started = true
	go w.run()
	w.logger.Info("watching index root", slog.String("root", w.root))
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.fsw.Close()
		if !w.started {
			close(w.doneCh)
		}
	})
	<-w.doneCh
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	pending := make(map[string]struct{})
	var fire <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event, pending)
			if len(pending) > 0 && fire == nil {
				fire = time.After(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("index root watch error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			for rel := range pending {
				delete(pending, rel)
				w.logger.Info("index directory removed", slog.String("path", rel))
				w.notify(rel)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, pending map[string]struct{}) {
	switch {
	case event.Op&fsnotify.Create != 0:
		// New directories join the watch so their removal is seen too
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Warn("watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()))
				return
			}
			w.dirs[event.Name] = struct{}{}
		}
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		if _, isDir := w.dirs[event.Name]; !isDir {
			return
		}
		delete(w.dirs, event.Name)
		rel, err := filepath.Rel(w.root, event.Name)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		pending[rel] = struct{}{}
	}
}

// addRecursive adds every directory under root to the fsnotify watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries we can't access
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.dirs[path] = struct{}{}
		return nil
	})
}
