package broker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIndexTree(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "store"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index_meta.json"), []byte(`{"storage":"scorch"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "store", "root.bolt"), []byte("roots"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "store", "000000000001.zap"), []byte("segment-one"), 0o644))
}

func TestCopyIndexFiles_MirrorsTree(t *testing.T) {
	src := filepath.Join(t.TempDir(), "alpha")
	writeIndexTree(t, src)
	dest := filepath.Join(t.TempDir(), "backup")

	require.NoError(t, copyIndexFiles(context.Background(), src, dest))

	expected := []struct {
		rel  string
		want string
	}{
		{"index_meta.json", `{"storage":"scorch"}`},
		{"store/root.bolt", "roots"},
		{"store/000000000001.zap", "segment-one"},
	}
	for _, f := range expected {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(f.rel)))
		require.NoError(t, err, f.rel)
		assert.Equal(t, f.want, string(got), f.rel)
	}
}

func TestCopyIndexFiles_MissingSourceFails(t *testing.T) {
	err := copyIndexFiles(context.Background(), filepath.Join(t.TempDir(), "ghost"), filepath.Join(t.TempDir(), "backup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index at")
}

func TestCopyIndexFiles_SourceMustBeDirectory(t *testing.T) {
	src := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	err := copyIndexFiles(context.Background(), src, filepath.Join(t.TempDir(), "backup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index at")
}

func TestCopyIndexFiles_EmptySourceFails(t *testing.T) {
	src := t.TempDir()

	err := copyIndexFiles(context.Background(), src, filepath.Join(t.TempDir(), "backup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no files")
}

func TestCopyIndexFiles_ExistingDestinationFails(t *testing.T) {
	src := filepath.Join(t.TempDir(), "alpha")
	writeIndexTree(t, src)
	dest := t.TempDir()

	err := copyIndexFiles(context.Background(), src, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCopyIndexFiles_CancelledCopyCleansUp(t *testing.T) {
	src := filepath.Join(t.TempDir(), "alpha")
	writeIndexTree(t, src)
	dest := filepath.Join(t.TempDir(), "backup")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := copyIndexFiles(ctx, src, dest)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, dest)
}
