package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexd/internal/registry"
)

// Client talks to a running daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodPing, nil, &result)
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Open asks the daemon to open (or create) the index at path.
func (c *Client) Open(ctx context.Context, path string) (*OpenResult, error) {
	var result OpenResult
	if err := c.call(ctx, MethodOpen, PathParams{Path: path}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete asks the daemon to delete the open index at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	var result AckResult
	return c.call(ctx, MethodDelete, PathParams{Path: path}, &result)
}

// DiskSize reports the on-disk size of the index at path.
func (c *Client) DiskSize(ctx context.Context, path string) (int64, error) {
	var result DiskSizeResult
	if err := c.call(ctx, MethodDiskSize, PathParams{Path: path}, &result); err != nil {
		return 0, err
	}
	return result.SizeBytes, nil
}

// CloseAll asks the daemon to close every open index.
func (c *Client) CloseAll(ctx context.Context) error {
	var result AckResult
	return c.call(ctx, MethodCloseAll, nil, &result)
}

// CloseByPrefix asks the daemon to close open indexes under prefix.
func (c *Client) CloseByPrefix(ctx context.Context, prefix string) error {
	var result AckResult
	return c.call(ctx, MethodCloseByPrefix, PrefixParams{Prefix: prefix}, &result)
}

// Snapshot asks the daemon to snapshot the index at path into dest.
func (c *Client) Snapshot(ctx context.Context, path, dest string) (*SnapshotResult, error) {
	var result SnapshotResult
	if err := c.call(ctx, MethodSnapshot, SnapshotParams{Path: path, Dest: dest}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Version retrieves the daemon build version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var result VersionResult
	if err := c.call(ctx, MethodVersion, nil, &result); err != nil {
		return "", err
	}
	return result.Version, nil
}

// RootDir retrieves the daemon's index root directory.
func (c *Client) RootDir(ctx context.Context) (string, error) {
	var result RootDirResult
	if err := c.call(ctx, MethodRootDir, nil, &result); err != nil {
		return "", err
	}
	return result.Root, nil
}

// Indexes lists every index the daemon has ever opened.
func (c *Client) Indexes(ctx context.Context) ([]registry.Entry, error) {
	var result []registry.Entry
	if err := c.call(ctx, MethodIndexes, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// connect establishes a connection to the daemon.
func (c *Client) connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return conn, nil
}

// call performs one request/response round trip and decodes the result
// into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Deadline from context where it is tighter than the client timeout
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send %s request: %w", method, err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("receive %s response: %w", method, err)
	}
	if resp.Error != nil {
		return &RPCError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}

	if out == nil {
		return nil
	}
	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("marshal %s result: %w", method, err)
	}
	if err := json.Unmarshal(resultData, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}

// RPCError is an error the daemon returned for a request.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed: %s (code: %d)", e.Method, e.Message, e.Code)
}
