package broker

import (
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/indexd/internal/engine"
	"github.com/Aman-CERP/indexd/internal/metrics"
)

// handleCache is the bounded path->handle map with its companion
// handle->path reverse map. It is owned by the broker's dispatch loop
// and therefore needs no locking of its own.
//
// Eviction is soft: the cache asks the displaced handle to close and
// forgets it immediately; the handle's actual termination arrives later
// as an exit event, whose removal then finds nothing.
type handleCache struct {
	capacity int
	recency  *lru.Cache[string, engine.Handle]
	paths    map[engine.Handle]string
	logger   *slog.Logger
}

func newHandleCache(capacity int, logger *slog.Logger) (*handleCache, error) {
	recency, err := lru.New[string, engine.Handle](capacity)
	if err != nil {
		return nil, err
	}
	return &handleCache{
		capacity: capacity,
		recency:  recency,
		paths:    make(map[engine.Handle]string),
		logger:   logger,
	}, nil
}

// Lookup returns the live handle for path and marks it most recently
// used. Absence counts as a cache miss.
func (c *handleCache) Lookup(path string) (engine.Handle, bool) {
	h, ok := c.recency.Get(path)
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	return h, true
}

// Insert adds path->handle, becoming the most recently used entry. A
// handle already stored under the path is closed and replaced without
// counting an eviction; a new path at capacity first evicts the least
// recently used entry.
func (c *handleCache) Insert(path string, h engine.Handle) {
	if old, ok := c.recency.Peek(path); ok {
		c.drop(path, old)
		c.logger.Info("handle displaced", slog.String("path", path))
	} else if c.recency.Len() >= c.capacity {
		if oldPath, oldHandle, ok := c.recency.GetOldest(); ok {
			c.drop(oldPath, oldHandle)
			metrics.CacheEvictions.Inc()
			c.logger.Info("handle evicted", slog.String("path", oldPath))
		}
	}

	c.recency.Add(path, h)
	c.paths[h] = path
}

// drop removes one entry and asks its handle to close.
func (c *handleCache) drop(path string, h engine.Handle) {
	c.recency.Remove(path)
	delete(c.paths, h)
	h.Close(engine.ReasonEvicted)
	metrics.HandleCloses.WithLabelValues(string(engine.ReasonEvicted)).Inc()
}

// Remove drops the entry owning h, if any, and reports whether one
// existed. This is the termination path: the handle is already closing
// or closed, so no close notification is sent, but a found entry still
// counts as an eviction. A handle the cache already dropped finds
// nothing here and counts nothing twice.
func (c *handleCache) Remove(h engine.Handle) bool {
	path, ok := c.paths[h]
	if !ok {
		return false
	}
	delete(c.paths, h)
	c.recency.Remove(path)
	metrics.CacheEvictions.Inc()
	return true
}

// PathOf reports the path a live handle is cached under.
func (c *handleCache) PathOf(h engine.Handle) (string, bool) {
	path, ok := c.paths[h]
	return path, ok
}

// CloseAll asks every live handle to close without removing anything;
// removal arrives through termination events.
func (c *handleCache) CloseAll() {
	for _, path := range c.recency.Keys() {
		if h, ok := c.recency.Peek(path); ok {
			h.Close(engine.ReasonShutdown)
			metrics.HandleCloses.WithLabelValues(string(engine.ReasonShutdown)).Inc()
		}
	}
}

// CloseByPrefix is CloseAll filtered to paths under prefix. Peek keeps
// the recency order untouched.
func (c *handleCache) CloseByPrefix(prefix string) int {
	n := 0
	for _, path := range c.recency.Keys() {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if h, ok := c.recency.Peek(path); ok {
			h.Close(engine.ReasonShutdown)
			metrics.HandleCloses.WithLabelValues(string(engine.ReasonShutdown)).Inc()
			n++
		}
	}
	return n
}

// Paths returns the cached paths, least recently used first.
func (c *handleCache) Paths() []string {
	return c.recency.Keys()
}

func (c *handleCache) Len() int {
	return c.recency.Len()
}

func (c *handleCache) IsEmpty() bool {
	return c.recency.Len() == 0
}
