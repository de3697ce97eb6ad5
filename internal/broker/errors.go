package broker

import "errors"

var (
	// ErrNotFound is returned by operations that need a live handle
	// when the path has none.
	ErrNotFound = errors.New("index not open")

	// ErrShuttingDown is returned for requests arriving after Shutdown
	// has begun.
	ErrShuttingDown = errors.New("broker is shutting down")
)
