// Package cache provides TTL snapshot caches over rate-limited upstream
// sources. A cache serves fresh values when it can, stale values when the
// upstream fails, and coalesces concurrent refreshes for the same key into
// a single upstream call.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/polywatch/engine/internal/metrics"
)

var (
	// ErrUpstreamUnavailable is returned when the backing source fails
	// and no cached value exists for the key.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCacheCorruption is returned when a refreshed snapshot violates
	// an invariant against the previous one (e.g. a tx count regression).
	// The entry is evicted so the next lookup refetches cold.
	ErrCacheCorruption = errors.New("cache corruption")
)

// Snapshot wraps a cached value with its provenance. Stale marks values
// served past their TTL because the upstream was unavailable; consumers
// decide what staleness means for them.
type Snapshot[T any] struct {
	Value     T
	FetchedAt time.Time
	Stale     bool
}

// FetchFunc retrieves the current upstream value for a key.
type FetchFunc[T any] func(ctx context.Context, key string) (T, error)

// Options control fetch behavior shared by all cache kinds.
type Options struct {
	// Timeout bounds each upstream fetch attempt.
	Timeout time.Duration

	// Retries is the number of additional attempts after a failed fetch.
	Retries int

	// RetryBackoff is the wait between attempts.
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 250 * time.Millisecond
	}
	return o
}

type entry[T any] struct {
	value     T
	fetchedAt time.Time
}

// Cache is a generic TTL snapshot cache. TTL is computed per value so
// that fast-changing entries can expire sooner than settled ones, and a
// validate hook guards successive snapshots of the same key.
type Cache[T any] struct {
	name  string
	fetch FetchFunc[T]
	ttl   func(T) time.Duration
	opts  Options

	// validate compares the previous snapshot with its replacement.
	// A non-nil error evicts the key and surfaces as corruption.
	validate func(prev, next T) error

	mu      sync.RWMutex
	entries map[string]entry[T]
	group   singleflight.Group
}

// New creates a cache. ttl must not be nil; validate may be.
func New[T any](name string, fetch FetchFunc[T], ttl func(T) time.Duration, validate func(prev, next T) error, opts Options) *Cache[T] {
	return &Cache[T]{
		name:     name,
		fetch:    fetch,
		ttl:      ttl,
		validate: validate,
		opts:     opts.withDefaults(),
		entries:  make(map[string]entry[T]),
	}
}

// Get returns a snapshot for key. A fresh cached value is returned
// directly. Otherwise a refresh runs (shared across concurrent callers of
// the same key); if it fails and a cached value exists, that value is
// served stale. With no cached value the error wraps ErrUpstreamUnavailable.
func (c *Cache[T]) Get(ctx context.Context, key string) (Snapshot[T], error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Since(e.fetchedAt) < c.ttl(e.value) {
		return Snapshot[T]{Value: e.value, FetchedAt: e.fetchedAt}, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.refresh(ctx, key)
	})
	if err == nil {
		return v.(Snapshot[T]), nil
	}

	if errors.Is(err, ErrCacheCorruption) {
		return Snapshot[T]{}, err
	}

	// Refresh failed; fall back to whatever we have, even if another
	// goroutine replaced the entry since our first read.
	c.mu.RLock()
	e, ok = c.entries[key]
	c.mu.RUnlock()

	if ok {
		metrics.StaleServes.WithLabelValues(c.name).Inc()
		slog.Warn("cache_stale_serve",
			"cache", c.name,
			"key", key,
			"age", time.Since(e.fetchedAt),
			"error", err,
		)
		return Snapshot[T]{Value: e.value, FetchedAt: e.fetchedAt, Stale: true}, nil
	}

	return Snapshot[T]{}, fmt.Errorf("%s fetch for %q failed: %w", c.name, key, errors.Join(err, ErrUpstreamUnavailable))
}

// refresh performs the upstream fetch with retries, validates the result
// against the previous snapshot, and stores it.
func (c *Cache[T]) refresh(ctx context.Context, key string) (Snapshot[T], error) {
	var value T
	var err error

	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Snapshot[T]{}, ctx.Err()
			case <-time.After(c.opts.RetryBackoff):
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		value, err = c.fetch(fetchCtx, key)
		cancel()
		if err == nil {
			break
		}
		slog.Debug("cache_fetch_attempt_failed",
			"cache", c.name, "key", key, "attempt", attempt, "error", err)
	}
	if err != nil {
		return Snapshot[T]{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[key]; ok && c.validate != nil {
		if verr := c.validate(prev.value, value); verr != nil {
			// Corrupt entry: drop it so the key refetches cold next time.
			delete(c.entries, key)
			slog.Error("cache_corruption_detected",
				"cache", c.name, "key", key, "error", verr)
			return Snapshot[T]{}, fmt.Errorf("%s entry for %q: %w: %w", c.name, key, ErrCacheCorruption, verr)
		}
	}

	now := time.Now()
	c.entries[key] = entry[T]{value: value, fetchedAt: now}
	return Snapshot[T]{Value: value, FetchedAt: now}, nil
}

// Evict removes a key from the cache.
func (c *Cache[T]) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
