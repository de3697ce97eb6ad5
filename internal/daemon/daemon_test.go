package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexd/internal/broker"
	"github.com/Aman-CERP/indexd/internal/engine"
	"github.com/Aman-CERP/indexd/internal/registry"
)

// fakeBroker records calls and serves canned answers.
type fakeBroker struct {
	mu            sync.Mutex
	root          string
	version       string
	stats         broker.Stats
	openErr       error
	deleteErr     error
	snapshotErr   error
	sizes         map[string]int64
	closedAll     bool
	closedPrefix  string
	deletedPath   string
	snapshotPath  string
	snapshotDest  string
	openedPath    string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		root:    "/var/lib/indexd/indexes",
		version: "1.2.3",
		stats:   broker.Stats{LiveHandles: 2, Capacity: 100, PendingOpens: 1, Paths: []string{"a", "b"}},
		sizes:   map[string]int64{},
	}
}

func (f *fakeBroker) Open(ctx context.Context, path string) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.openedPath = path
	return &stubHandle{docs: 42}, nil
}

func (f *fakeBroker) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedPath = path
	return nil
}

func (f *fakeBroker) DiskSize(path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizes[path], nil
}

func (f *fakeBroker) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedAll = true
}

func (f *fakeBroker) CloseByPrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedPrefix = prefix
}

func (f *fakeBroker) CreateSnapshot(ctx context.Context, path, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErr != nil {
		return f.snapshotErr
	}
	f.snapshotPath, f.snapshotDest = path, dest
	return nil
}

func (f *fakeBroker) Stats() broker.Stats { f.mu.Lock(); defer f.mu.Unlock(); return f.stats }
func (f *fakeBroker) RootDir() string     { return f.root }
func (f *fakeBroker) Version() string     { return f.version }

// stubHandle satisfies engine.Handle for open replies.
type stubHandle struct {
	docs uint64
	done chan struct{}
}

func (h *stubHandle) Path() string                    { return "" }
func (h *stubHandle) Close(reason engine.CloseReason) {}
func (h *stubHandle) Delete() error                   { return nil }
func (h *stubHandle) CreateSnapshot(dir string) error { return nil }
func (h *stubHandle) IndexDocument(id string, doc map[string]interface{}) error {
	return nil
}
func (h *stubHandle) DeleteDocument(id string) error { return nil }
func (h *stubHandle) Search(ctx context.Context, query string, limit int) ([]engine.SearchHit, error) {
	return nil, nil
}
func (h *stubHandle) DocCount() (uint64, error) { return h.docs, nil }
func (h *stubHandle) Done() <-chan struct{}     { return h.done }
func (h *stubHandle) Err() error                { return nil }

type fakeLister struct {
	entries []registry.Entry
	err     error
}

func (f *fakeLister) List() ([]registry.Entry, error) { return f.entries, f.err }

func startTestServer(t *testing.T, fb *fakeBroker, lister IndexLister) (*Client, *Server) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "indexd.sock")

	srv := NewServer(socketPath, fb, lister, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = srv.ListenAndServe(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-serveDone
	})

	client := NewClient(Config{SocketPath: socketPath, Timeout: 2 * time.Second})
	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)
	return client, srv
}

func TestDaemon_PingRoundTrip(t *testing.T) {
	client, _ := startTestServer(t, newFakeBroker(), nil)

	require.NoError(t, client.Ping(context.Background()))
}

func TestDaemon_StatusCarriesBrokerState(t *testing.T) {
	client, _ := startTestServer(t, newFakeBroker(), nil)

	status, err := client.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, status.Running)
	assert.NotZero(t, status.PID)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, "/var/lib/indexd/indexes", status.RootDir)
	assert.Equal(t, 2, status.LiveHandles)
	assert.Equal(t, 100, status.Capacity)
	assert.Equal(t, 1, status.PendingOpens)
	assert.Equal(t, []string{"a", "b"}, status.Paths)
}

func TestDaemon_OpenReportsPathAndDocCount(t *testing.T) {
	fb := newFakeBroker()
	client, _ := startTestServer(t, fb, nil)

	result, err := client.Open(context.Background(), "projects/alpha")
	require.NoError(t, err)

	assert.Equal(t, "projects/alpha", result.Path)
	assert.Equal(t, uint64(42), result.DocCount)
	assert.False(t, result.Cached)
	assert.Equal(t, "projects/alpha", fb.openedPath)
}

func TestDaemon_OpenReportsCachedPaths(t *testing.T) {
	fb := newFakeBroker()
	fb.stats.Paths = []string{"projects/alpha"}
	client, _ := startTestServer(t, fb, nil)

	result, err := client.Open(context.Background(), "projects/alpha")
	require.NoError(t, err)
	assert.True(t, result.Cached)
}

func TestDaemon_OpenFailureMapsToOpenFailedCode(t *testing.T) {
	fb := newFakeBroker()
	fb.openErr = errors.New("index is corrupted")
	client, _ := startTestServer(t, fb, nil)

	_, err := client.Open(context.Background(), "projects/bad")
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeOpenFailed, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "corrupted")
}

func TestDaemon_OpenRequiresPath(t *testing.T) {
	client, _ := startTestServer(t, newFakeBroker(), nil)

	_, err := client.Open(context.Background(), "")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeInvalidParams, rpcErr.Code)
}

func TestDaemon_DeleteUnknownPathMapsToNotFound(t *testing.T) {
	fb := newFakeBroker()
	fb.deleteErr = broker.ErrNotFound
	client, _ := startTestServer(t, fb, nil)

	err := client.Delete(context.Background(), "projects/ghost")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeNotFound, rpcErr.Code)
}

func TestDaemon_DeleteForwardsPath(t *testing.T) {
	fb := newFakeBroker()
	client, _ := startTestServer(t, fb, nil)

	require.NoError(t, client.Delete(context.Background(), "projects/alpha"))
	assert.Equal(t, "projects/alpha", fb.deletedPath)
}

func TestDaemon_DiskSize(t *testing.T) {
	fb := newFakeBroker()
	fb.sizes["projects/alpha"] = 4096
	client, _ := startTestServer(t, fb, nil)

	size, err := client.DiskSize(context.Background(), "projects/alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)
}

func TestDaemon_CloseAllAndCloseByPrefix(t *testing.T) {
	fb := newFakeBroker()
	client, _ := startTestServer(t, fb, nil)
	ctx := context.Background()

	require.NoError(t, client.CloseAll(ctx))
	require.NoError(t, client.CloseByPrefix(ctx, "projects/"))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.True(t, fb.closedAll)
	assert.Equal(t, "projects/", fb.closedPrefix)
}

func TestDaemon_CloseByPrefixRequiresPrefix(t *testing.T) {
	client, _ := startTestServer(t, newFakeBroker(), nil)

	err := client.CloseByPrefix(context.Background(), "")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeInvalidParams, rpcErr.Code)
}

func TestDaemon_SnapshotRoundTrip(t *testing.T) {
	fb := newFakeBroker()
	client, _ := startTestServer(t, fb, nil)

	result, err := client.Snapshot(context.Background(), "projects/alpha", "/backups/alpha")
	require.NoError(t, err)

	assert.Equal(t, "projects/alpha", result.Path)
	assert.Equal(t, "/backups/alpha", result.Dest)
	assert.Equal(t, "projects/alpha", fb.snapshotPath)
	assert.Equal(t, "/backups/alpha", fb.snapshotDest)
}

func TestDaemon_SnapshotFailureMapsToSnapshotCode(t *testing.T) {
	fb := newFakeBroker()
	fb.snapshotErr = errors.New("snapshot destination already exists: /backups/alpha")
	client, _ := startTestServer(t, fb, nil)

	_, err := client.Snapshot(context.Background(), "projects/alpha", "/backups/alpha")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeSnapshotFailed, rpcErr.Code)
}

func TestDaemon_VersionAndRootDir(t *testing.T) {
	client, _ := startTestServer(t, newFakeBroker(), nil)
	ctx := context.Background()

	version, err := client.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", version)

	root, err := client.RootDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/indexd/indexes", root)
}

func TestDaemon_IndexesListsRegistry(t *testing.T) {
	lister := &fakeLister{entries: []registry.Entry{
		{Path: "projects/alpha", OpenCount: 3},
		{Path: "projects/beta", OpenCount: 1},
	}}
	client, _ := startTestServer(t, newFakeBroker(), lister)

	entries, err := client.Indexes(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "projects/alpha", entries[0].Path)
	assert.Equal(t, int64(3), entries[0].OpenCount)
}

func TestDaemon_IndexesWithoutRegistryFails(t *testing.T) {
	client, _ := startTestServer(t, newFakeBroker(), nil)

	_, err := client.Indexes(context.Background())
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeInternalError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "registry is disabled")
}

func TestDaemon_UnknownMethodFails(t *testing.T) {
	client, _ := startTestServer(t, newFakeBroker(), nil)

	err := client.call(context.Background(), "compact", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeMethodNotFound, rpcErr.Code)
}

func TestDaemon_MalformedRequestGetsParseError(t *testing.T) {
	fb := newFakeBroker()
	client, _ := startTestServer(t, fb, nil)

	conn, err := net.DialTimeout("unix", client.socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintln(conn, "this is not json")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}
