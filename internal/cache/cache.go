// Package cache implements the keyed query cache the prefetcher warms:
// stale-time freshness, request deduplication, bounded retry on load,
// and access tracking so unused prefetches can be detected later.
package cache

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/navsense/navsense/internal/clock"
)

// FetchFunc loads the value for a key. size is the transferred byte
// count, fed to bandwidth accounting.
type FetchFunc func(ctx context.Context) (value any, size int, err error)

// Config tunes cache behavior.
type Config struct {
	// DefaultStaleTime is how long an entry is considered fresh when the
	// caller does not override it.
	DefaultStaleTime time.Duration
	// MaxRetries bounds reload attempts on demand-path loads.
	MaxRetries int
	// InitialBackoff doubles per attempt, capped at MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) defaults() {
	if c.DefaultStaleTime <= 0 {
		c.DefaultStaleTime = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
}

type entry struct {
	value      any
	size       int
	fetchedAt  time.Time
	staleTime  time.Duration
	prefetched bool
	accessed   bool
}

// Cache is a keyed query cache.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	sf      singleflight.Group
	clk     clock.Clock
	log     *zap.Logger

	hits       atomic.Int64
	misses     atomic.Int64
	prefetches atomic.Int64
	wasted     atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Entries    int   `json:"entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Prefetches int64 `json:"prefetches"`
	Wasted     int64 `json:"wasted"`
}

// New creates an empty cache.
func New(cfg Config, clk clock.Clock, log *zap.Logger) *Cache {
	cfg.defaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*entry),
		clk:     clk,
		log:     log,
	}
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.fetchedAt) < e.staleTime
}

// Get returns the cached value for key, loading it through fetch on a
// miss or stale entry. Concurrent loads for the same key are coalesced;
// failed loads retry with exponential backoff up to MaxRetries.
func (c *Cache) Get(ctx context.Context, key string, fetch FetchFunc) (any, error) {
	now := c.clk.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.fresh(now) {
		e.accessed = true
		c.mu.Unlock()
		c.hits.Add(1)
		return e.value, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)

	v, err, _ := c.sf.Do(key, func() (any, error) {
		val, size, err := c.fetchWithRetry(ctx, key, fetch)
		if err != nil {
			return nil, err
		}
		c.put(key, val, size, 0, false, true)
		return val, nil
	})
	if err != nil {
		return nil, err
	}

	// The load may have coalesced with an in-flight prefetch; either
	// way this was a demand read, so the entry no longer counts as
	// waste.
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.accessed = true
	}
	c.mu.Unlock()
	return v, nil
}

// Prefetch warms key without marking it accessed. A fresh entry makes
// it a no-op. Loads are single-attempt: the prefetch queue owns retry
// and backoff for this path. Returns the bytes transferred.
func (c *Cache) Prefetch(ctx context.Context, key string, fetch FetchFunc, staleTime time.Duration) (int, error) {
	now := c.clk.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.fresh(now) {
		c.mu.Unlock()
		return 0, nil
	}
	c.mu.Unlock()

	// Both Get and Prefetch flights share a key and must return the
	// raw value, or a coalesced caller on the other path would see the
	// wrong shape. transferred stays 0 when this call coalesced with
	// another flight: no extra bytes moved.
	transferred := 0
	_, err, _ := c.sf.Do(key, func() (any, error) {
		val, size, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.put(key, val, size, staleTime, true, false)
		transferred = size
		return val, nil
	})
	if err != nil {
		return 0, err
	}
	c.prefetches.Add(1)
	return transferred, nil
}

func (c *Cache) put(key string, val any, size int, staleTime time.Duration, prefetched, accessed bool) {
	if staleTime <= 0 {
		staleTime = c.cfg.DefaultStaleTime
	}
	c.mu.Lock()
	c.entries[key] = &entry{
		value:      val,
		size:       size,
		fetchedAt:  c.clk.Now(),
		staleTime:  staleTime,
		prefetched: prefetched,
		accessed:   accessed,
	}
	c.mu.Unlock()
}

func (c *Cache) fetchWithRetry(ctx context.Context, key string, fetch FetchFunc) (any, int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		val, size, err := fetch(ctx)
		if err == nil {
			return val, size, nil
		}
		lastErr = err

		if attempt < c.cfg.MaxRetries {
			backoff := time.Duration(float64(c.cfg.InitialBackoff) * math.Pow(2, float64(attempt)))
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			c.log.Debug("cache load retrying",
				zap.String("key", key), zap.Int("attempt", attempt+1), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, 0, lastErr
}

// Invalidate drops key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// EvictUnusedPrefetched removes prefetched entries that were never read
// and are older than olderThan, returning how many were evicted. This
// is the waste sweep: a prefetch whose route was never visited.
func (c *Cache) EvictUnusedPrefetched(olderThan time.Duration, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, e := range c.entries {
		if e.prefetched && !e.accessed && now.Sub(e.fetchedAt) > olderThan {
			delete(c.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		c.wasted.Add(int64(evicted))
		c.log.Debug("evicted unused prefetched entries", zap.Int("count", evicted))
	}
	return evicted
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Entries:    n,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Prefetches: c.prefetches.Load(),
		Wasted:     c.wasted.Load(),
	}
}
