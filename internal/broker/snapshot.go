package broker

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// snapshotParallelism bounds concurrent file copies during a
// closed-index snapshot.
const snapshotParallelism = 4

// copyIndexFiles snapshots a closed index by copying its on-disk files
// into dest. The file set is fixed up front: whatever exists under src
// at that moment is the snapshot, nothing added later is picked up.
// dest must not exist; a failed copy removes it again.
func copyIndexFiles(ctx context.Context, src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("no index at %s", src)
	}
	if !info.IsDir() {
		return fmt.Errorf("no index at %s", src)
	}

	files, err := listIndexFiles(src)
	if err != nil {
		return fmt.Errorf("list index files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("index at %s has no files", src)
	}

	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("snapshot destination already exists: %s", dest)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, snapshotParallelism)

	for _, rel := range files {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}
			return copyFile(filepath.Join(src, rel), filepath.Join(dest, rel))
		})
	}

	if err := g.Wait(); err != nil {
		os.RemoveAll(dest)
		return fmt.Errorf("copy index files: %w", err)
	}
	return nil
}

// listIndexFiles returns the relative paths of every regular file
// under dir, in walk order.
func listIndexFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
