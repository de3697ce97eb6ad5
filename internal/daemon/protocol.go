package daemon

import "fmt"

// JSON-RPC 2.0 method names.
const (
	MethodPing          = "ping"
	MethodStatus        = "status"
	MethodOpen          = "open"
	MethodDelete        = "delete"
	MethodDiskSize      = "disk-size"
	MethodCloseAll      = "close-all"
	MethodCloseByPrefix = "close-by-prefix"
	MethodSnapshot      = "snapshot"
	MethodVersion       = "version"
	MethodRootDir       = "root-dir"
	MethodIndexes       = "indexes"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeNotFound       = -32001
	ErrCodeOpenFailed     = -32002
	ErrCodeSnapshotFailed = -32003
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// PathParams carry a single index path, used by open, delete and
// disk-size.
type PathParams struct {
	// Path is the index path relative to the root (required).
	Path string `json:"path"`
}

// Validate checks that required fields are present.
func (p *PathParams) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// PrefixParams are the parameters for close-by-prefix.
type PrefixParams struct {
	// Prefix selects every open index path starting with it (required;
	// use close-all to close everything).
	Prefix string `json:"prefix"`
}

// Validate checks that required fields are present.
func (p *PrefixParams) Validate() error {
	if p.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	return nil
}

// SnapshotParams are the parameters for the snapshot method.
type SnapshotParams struct {
	// Path is the index path relative to the root (required).
	Path string `json:"path"`

	// Dest is the snapshot destination directory; it must not exist
	// yet (required).
	Dest string `json:"dest"`
}

// Validate checks that required fields are present.
func (p *SnapshotParams) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("path is required")
	}
	if p.Dest == "" {
		return fmt.Errorf("dest is required")
	}
	return nil
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running      bool     `json:"running"`
	PID          int      `json:"pid"`
	Uptime       string   `json:"uptime"`
	Version      string   `json:"version"`
	RootDir      string   `json:"root_dir"`
	LiveHandles  int      `json:"live_handles"`
	Capacity     int      `json:"capacity"`
	PendingOpens int      `json:"pending_opens"`
	Paths        []string `json:"paths,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

// OpenResult reports an open index. The handle itself stays inside the
// daemon; callers address it by path.
type OpenResult struct {
	Path     string `json:"path"`
	Cached   bool   `json:"cached"`
	DocCount uint64 `json:"doc_count"`
}

// DiskSizeResult reports the on-disk size of an index.
type DiskSizeResult struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// SnapshotResult reports a completed snapshot.
type SnapshotResult struct {
	Path string `json:"path"`
	Dest string `json:"dest"`
}

// VersionResult reports the daemon build version.
type VersionResult struct {
	Version string `json:"version"`
}

// RootDirResult reports the index root directory.
type RootDirResult struct {
	Root string `json:"root"`
}

// AckResult acknowledges a fire-and-forget request.
type AckResult struct {
	OK bool `json:"ok"`
}
