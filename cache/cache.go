/*
Package cache provides a bounded least-recently-used cache whose misses are
filled by a loader function.  Concurrent misses for the same key are
collapsed into a single load whose result is shared by every waiter.
*/
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
)

// Key is a comparable cache key with a string form used to collapse
// concurrent loads.  Distinct keys must have distinct CacheKey strings.
type Key interface {
	comparable
	CacheKey() string
}

// LoadFunc produces the value for a key on a cache miss.
type LoadFunc[K Key, V any] func(ctx context.Context, key K) (V, error)

// Stats are cumulative counters for a cache.
type Stats struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Entries   int    `json:"entries"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Loads     int64  `json:"loads"`
	Evictions int64  `json:"evictions"`
}

// Cache holds at most Capacity entries, evicting the least recently used.
// Values are shared between callers and must not be mutated.
type Cache[K Key, V any] struct {
	name     string
	capacity int
	load     LoadFunc[K, V]

	mu  sync.Mutex // guards lru
	lru *lru.Cache

	group singleflight.Group

	hits, misses, loads, evictions atomic.Int64

	// OnAdd and OnEvict, if set, are called with the cache lock held for each
	// stored and evicted entry.
	OnAdd   func(key K, value V)
	OnEvict func(key K, value V)
}

// New returns a cache with the given entry capacity.  A capacity of zero or
// less retains nothing, though concurrent loads are still collapsed.
func New[K Key, V any](name string, capacity int, load LoadFunc[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		name:     name,
		capacity: capacity,
		load:     load,
		lru:      lru.New(max(capacity, 0)),
	}
	c.lru.OnEvicted = func(k lru.Key, v interface{}) {
		c.evictions.Add(1)
		evictionsTotal.WithLabelValues(c.name).Inc()
		if c.OnEvict != nil {
			c.OnEvict(k.(K), v.(V))
		}
	}
	return c
}

// Get returns the cached value for key or loads it.  Loads run to completion
// even if ctx is canceled, since other callers may be waiting on the result.
// Errors are returned to every waiter and are not cached.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, found := c.Lookup(key); found {
		c.hits.Add(1)
		hitsTotal.WithLabelValues(c.name).Inc()
		return v, nil
	}
	c.misses.Add(1)
	missesTotal.WithLabelValues(c.name).Inc()

	result, err, _ := c.group.Do(key.CacheKey(), func() (interface{}, error) {
		// Another flight may have filled the entry after our miss.
		if v, found := c.Lookup(key); found {
			return v, nil
		}
		c.loads.Add(1)
		start := time.Now()
		v, err := c.load(context.WithoutCancel(ctx), key)
		loadSeconds.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		c.add(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Lookup returns a cached value without loading it.  A found entry becomes
// the most recently used.
func (c *Cache[K, V]) Lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, found := c.lru.Get(key); found {
		return v.(V), true
	}
	var zero V
	return zero, false
}

func (c *Cache[K, V]) add(key K, v V) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.lru.Get(key); found {
		return
	}
	c.lru.Add(key, v)
	if c.OnAdd != nil {
		c.OnAdd(key, v)
	}
}

// Remove drops key from the cache.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Name:      c.name,
		Capacity:  c.capacity,
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
	}
}
