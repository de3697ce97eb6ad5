package broker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/indexd/internal/engine"
	"github.com/Aman-CERP/indexd/internal/metrics"
)

// Delete forwards a delete to the live handle for path. The handle
// closes, removes its files and terminates; the cache entry disappears
// when the termination is observed. Returns ErrNotFound when path is
// not open: deletion of closed indexes stays an explicit filesystem
// operation, not something the broker does implicitly.
func (b *Broker) Delete(ctx context.Context, path string) error {
	if err := engine.ValidatePath(path); err != nil {
		return err
	}
	h, err := b.lookup(ctx, path)
	if err != nil {
		return err
	}
	if h == nil {
		return ErrNotFound
	}
	go func() {
		if err := h.Delete(); err != nil {
			b.logger.Warn("index delete failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return
		}
		metrics.HandleCloses.WithLabelValues(string(engine.ReasonDeleted)).Inc()
		b.logger.Info("index deleted", slog.String("path", path))
	}()
	return nil
}

// DiskSize sums the sizes of regular files directly under root/path.
// A missing or unreadable directory reports zero; only sizing an entry
// we can see can fail. Runs entirely in the caller's goroutine.
func (b *Broker) DiskSize(path string) (int64, error) {
	if err := engine.ValidatePath(path); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(filepath.Join(b.engine.Root(), path))
	if err != nil {
		return 0, nil
	}
	var total int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Entry vanished between list and stat.
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// CreateSnapshot copies the index named name into dir. A live handle
// snapshots itself (consistent even under writes); otherwise the
// index's files are copied as they sit on disk. dir must not exist.
func (b *Broker) CreateSnapshot(ctx context.Context, name, dir string) error {
	if err := engine.ValidatePath(name); err != nil {
		metrics.Snapshots.WithLabelValues("error").Inc()
		return err
	}

	h, err := b.lookup(ctx, name)
	if err != nil {
		metrics.Snapshots.WithLabelValues("error").Inc()
		return err
	}

	if h != nil {
		err = h.CreateSnapshot(dir)
		if errors.Is(err, engine.ErrHandleClosed) {
			// Terminated between lookup and delegation; the files on
			// disk are now the authoritative state.
			err = copyIndexFiles(ctx, filepath.Join(b.engine.Root(), name), dir)
		}
	} else {
		err = copyIndexFiles(ctx, filepath.Join(b.engine.Root(), name), dir)
	}

	if err != nil {
		metrics.Snapshots.WithLabelValues("error").Inc()
		b.logger.Warn("snapshot failed",
			slog.String("index", name),
			slog.String("dest", dir),
			slog.String("error", err.Error()))
		return err
	}

	metrics.Snapshots.WithLabelValues("ok").Inc()
	b.logger.Info("snapshot created",
		slog.String("index", name),
		slog.String("dest", dir))
	return nil
}
