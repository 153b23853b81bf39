package service

import (
	"context"
	"sync"

	"github.com/maypok86/otter/v2"

	"github.com/devrev/sharedcounter/internal/metrics"
	"github.com/devrev/sharedcounter/internal/model"
	"github.com/devrev/sharedcounter/internal/store"
)

// cacheEntry is a best-effort copy of a counter. rec is only touched with mu held.
type cacheEntry struct {
	mu  sync.Mutex
	rec *model.CounterRecord
}

// readCache holds counter snapshots for the asynchronous path. Entries are
// loaded at most once per epoch; clear starts a new epoch.
type readCache struct {
	cache   *otter.Cache[string, *cacheEntry]
	loader  otter.LoaderFunc[string, *cacheEntry]
	metrics *metrics.Metrics
}

func newReadCache(counterStore store.CounterStore, maxSize int, m *metrics.Metrics) *readCache {
	if maxSize <= 0 {
		maxSize = 100_000
	}
	return &readCache{
		cache: otter.Must(&otter.Options[string, *cacheEntry]{
			MaximumSize: maxSize,
		}),
		loader: func(ctx context.Context, name string) (*cacheEntry, error) {
			rec, err := counterStore.Load(ctx, name)
			if err != nil {
				return nil, err
			}
			return &cacheEntry{rec: rec}, nil
		},
		metrics: m,
	}
}

// entry returns the cached entry for name, loading it on a miss. Concurrent
// misses for the same name share one load.
func (c *readCache) entry(ctx context.Context, name string) (*cacheEntry, error) {
	if e, ok := c.cache.GetIfPresent(name); ok {
		c.metrics.CacheHits.Inc()
		return e, nil
	}
	c.metrics.CacheMisses.Inc()
	return c.cache.Get(ctx, name, c.loader)
}

// peek returns the cached entry without loading
func (c *readCache) peek(name string) (*cacheEntry, bool) {
	return c.cache.GetIfPresent(name)
}

// put replaces the cached record for rec.Name, reusing the existing entry so
// holders of its mutex observe the change
func (c *readCache) put(rec *model.CounterRecord) {
	if rec == nil {
		return
	}
	if e, ok := c.cache.GetIfPresent(rec.Name); ok {
		e.mu.Lock()
		e.rec = rec.Clone()
		e.mu.Unlock()
		return
	}
	c.cache.Set(rec.Name, &cacheEntry{rec: rec.Clone()})
}

// clear drops every entry
func (c *readCache) clear() {
	c.cache.InvalidateAll()
	c.metrics.CacheClears.Inc()
}
