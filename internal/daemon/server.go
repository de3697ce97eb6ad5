// Package daemon exposes the index broker over a Unix domain socket,
// one JSON-RPC 2.0 request per connection. The daemon owns the live
// handles; clients address indexes by path.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/Aman-CERP/indexd/internal/broker"
	"github.com/Aman-CERP/indexd/internal/engine"
	"github.com/Aman-CERP/indexd/internal/registry"
)

// Broker is the slice of the index broker the daemon drives.
type Broker interface {
	Open(ctx context.Context, path string) (engine.Handle, error)
	Delete(ctx context.Context, path string) error
	DiskSize(path string) (int64, error)
	CloseAll()
	CloseByPrefix(prefix string)
	CreateSnapshot(ctx context.Context, path, dest string) error
	Stats() broker.Stats
	RootDir() string
	Version() string
}

// IndexLister lists known indexes. Nil when the registry is disabled.
type IndexLister interface {
	List() ([]registry.Entry, error)
}

// Server listens on a Unix socket and serves broker RPCs.
type Server struct {
	socketPath string
	broker     Broker
	lister     IndexLister
	logger     *slog.Logger
	listener   net.Listener
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for the given socket path. lister may be
// nil.
func NewServer(socketPath string, b Broker, lister IndexLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		broker:     b,
		lister:     lister,
		logger:     logger,
	}
}

// ListenAndServe starts the server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("admin socket listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Wait for active connections to finish
	s.wg.Wait()

	return ctx.Err()
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		s.logger.Warn("set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = encoder.Encode(resp)
		return
	}

	resp := s.handleRequest(ctx, req)
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())

	case MethodOpen:
		return s.handleOpen(ctx, req)

	case MethodDelete:
		return s.handleDelete(ctx, req)

	case MethodDiskSize:
		return s.handleDiskSize(req)

	case MethodCloseAll:
		s.broker.CloseAll()
		return NewSuccessResponse(req.ID, AckResult{OK: true})

	case MethodCloseByPrefix:
		return s.handleCloseByPrefix(req)

	case MethodSnapshot:
		return s.handleSnapshot(ctx, req)

	case MethodVersion:
		return NewSuccessResponse(req.ID, VersionResult{Version: s.broker.Version()})

	case MethodRootDir:
		return NewSuccessResponse(req.ID, RootDirResult{Root: s.broker.RootDir()})

	case MethodIndexes:
		return s.handleIndexes(req)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// decodeParams unpacks req.Params into dst and validates it. A non-nil
// return is the error response to send.
func decodeParams(req Request, dst interface{ Validate() error }) *Response {
	data, err := json.Marshal(req.Params)
	if err != nil {
		resp := NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params")
		return &resp
	}
	if err := json.Unmarshal(data, dst); err != nil {
		resp := NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
		return &resp
	}
	if err := dst.Validate(); err != nil {
		resp := NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		return &resp
	}
	return nil
}

func (s *Server) handleOpen(ctx context.Context, req Request) Response {
	var params PathParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}

	cached := slices.Contains(s.broker.Stats().Paths, params.Path)

	h, err := s.broker.Open(ctx, params.Path)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeOpenFailed, err.Error())
	}

	count, err := h.DocCount()
	if err != nil {
		count = 0
	}
	return NewSuccessResponse(req.ID, OpenResult{
		Path:     params.Path,
		Cached:   cached,
		DocCount: count,
	})
}

func (s *Server) handleDelete(ctx context.Context, req Request) Response {
	var params PathParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}

	if err := s.broker.Delete(ctx, params.Path); err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return NewErrorResponse(req.ID, ErrCodeNotFound, err.Error())
		}
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

func (s *Server) handleDiskSize(req Request) Response {
	var params PathParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}

	size, err := s.broker.DiskSize(params.Path)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	return NewSuccessResponse(req.ID, DiskSizeResult{Path: params.Path, SizeBytes: size})
}

func (s *Server) handleCloseByPrefix(req Request) Response {
	var params PrefixParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}

	s.broker.CloseByPrefix(params.Prefix)
	return NewSuccessResponse(req.ID, AckResult{OK: true})
}

func (s *Server) handleSnapshot(ctx context.Context, req Request) Response {
	var params SnapshotParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}

	if err := s.broker.CreateSnapshot(ctx, params.Path, params.Dest); err != nil {
		return NewErrorResponse(req.ID, ErrCodeSnapshotFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, SnapshotResult{Path: params.Path, Dest: params.Dest})
}

func (s *Server) handleIndexes(req Request) Response {
	if s.lister == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "index registry is disabled")
	}
	entries, err := s.lister.List()
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, err.Error())
	}
	return NewSuccessResponse(req.ID, entries)
}

// getStatus returns the current daemon status.
func (s *Server) getStatus() StatusResult {
	stats := s.broker.Stats()
	return StatusResult{
		Running:      true,
		PID:          os.Getpid(),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Version:      s.broker.Version(),
		RootDir:      s.broker.RootDir(),
		LiveHandles:  stats.LiveHandles,
		Capacity:     stats.Capacity,
		PendingOpens: stats.PendingOpens,
		Paths:        stats.Paths,
	}
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
