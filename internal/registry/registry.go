// Package registry persists which indexes the broker has opened, so
// operators can list known indexes across daemon restarts. It consumes
// open/close notifications without ever blocking the caller.
package registry

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Entry is one known index.
type Entry struct {
	Path         string    `json:"path"`
	OpenCount    int64     `json:"open_count"`
	LastOpenedAt time.Time `json:"last_opened_at,omitzero"`
	LastClosedAt time.Time `json:"last_closed_at,omitzero"`

	// LastCloseError is why the last close was not graceful; empty
	// when it was.
	LastCloseError string `json:"last_close_error,omitempty"`
}

type eventKind int

const (
	eventOpen eventKind = iota
	eventClose
)

type regEvent struct {
	kind     eventKind
	path     string
	at       time.Time
	closeErr string
}

// Registry is a SQLite-backed open/close ledger. RecordOpen and
// RecordClose enqueue; a single worker goroutine owns the database
// writes.
type Registry struct {
	db     *sql.DB
	logger *slog.Logger

	events  chan regEvent
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Open creates or opens the registry database at path.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	// Single writer; the worker goroutine is the only user.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	r := &Registry{
		db:      db,
		logger:  logger,
		events:  make(chan regEvent, 256),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexes (
		path TEXT PRIMARY KEY,
		open_count INTEGER NOT NULL DEFAULT 0,
		first_opened_at INTEGER NOT NULL DEFAULT 0,
		last_opened_at INTEGER NOT NULL DEFAULT 0,
		last_closed_at INTEGER NOT NULL DEFAULT 0,
		last_close_error TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create registry schema: %w", err)
	}
	return nil
}

// RecordOpen notes that path was opened. Never blocks; under sustained
// backpressure events are dropped, the registry is advisory.
func (r *Registry) RecordOpen(path string) {
	r.enqueue(regEvent{kind: eventOpen, path: path, at: time.Now()})
}

// RecordClose notes that path's handle terminated, with its terminal
// error when the close was not graceful. Never blocks.
func (r *Registry) RecordClose(path string, closeErr error) {
	ev := regEvent{kind: eventClose, path: path, at: time.Now()}
	if closeErr != nil {
		ev.closeErr = closeErr.Error()
	}
	r.enqueue(ev)
}

func (r *Registry) enqueue(ev regEvent) {
	select {
	case r.events <- ev:
	default:
		r.logger.Debug("registry event dropped", slog.String("path", ev.path))
	}
}

func (r *Registry) run() {
	defer close(r.stopped)
	for {
		select {
		case ev := <-r.events:
			r.apply(ev)
		case <-r.quit:
			// Flush whatever is already queued
			for {
				select {
				case ev := <-r.events:
					r.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) apply(ev regEvent) {
	var err error
	switch ev.kind {
	case eventOpen:
		_, err = r.db.Exec(`
			INSERT INTO indexes (path, open_count, first_opened_at, last_opened_at)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				open_count = open_count + 1,
				last_opened_at = excluded.last_opened_at
		`, ev.path, ev.at.Unix(), ev.at.Unix())
	case eventClose:
		_, err = r.db.Exec(`
			INSERT INTO indexes (path, last_closed_at, last_close_error)
			VALUES (?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				last_closed_at = excluded.last_closed_at,
				last_close_error = excluded.last_close_error
		`, ev.path, ev.at.Unix(), ev.closeErr)
	}
	if err != nil {
		r.logger.Warn("registry write failed",
			slog.String("path", ev.path),
			slog.String("error", err.Error()))
	}
}

// List returns every known index, sorted by path.
func (r *Registry) List() ([]Entry, error) {
	rows, err := r.db.Query(`
		SELECT path, open_count, last_opened_at, last_closed_at, last_close_error
		FROM indexes
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var opened, closed int64
		if err := rows.Scan(&e.Path, &e.OpenCount, &opened, &closed, &e.LastCloseError); err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		if opened != 0 {
			e.LastOpenedAt = time.Unix(opened, 0).UTC()
		}
		if closed != 0 {
			e.LastClosedAt = time.Unix(closed, 0).UTC()
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close flushes queued events and closes the database.
func (r *Registry) Close() error {
	r.once.Do(func() { close(r.quit) })
	<-r.stopped
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close registry database: %w", err)
	}
	return nil
}
