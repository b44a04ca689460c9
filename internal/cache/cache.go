// Package cache memoizes prediction results for identical customer records.
package cache

import (
	"fmt"
	"sync/atomic"

	"churn-api/internal/features"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MetricsInterface defines metrics methods needed by the cache
type MetricsInterface interface {
	CacheHitInc()
	CacheMissInc()
}

// Cache is a bounded, thread-safe LRU keyed by the full customer record.
// Failed computations are never stored. Two concurrent misses for the same
// record may both compute; the later Add wins with an identical value.
type Cache[V any] struct {
	entries *lru.Cache[features.Customer, V]
	metrics MetricsInterface

	hits   atomic.Int64
	misses atomic.Int64
}

func New[V any](size int, metrics MetricsInterface) (*Cache[V], error) {
	entries, err := lru.New[features.Customer, V](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction cache: %w", err)
	}
	return &Cache[V]{entries: entries, metrics: metrics}, nil
}

// GetOrCompute returns the cached value for c, or calls compute and caches a
// successful result. The bool reports a cache hit.
func (c *Cache[V]) GetOrCompute(key features.Customer, compute func() (V, error)) (V, bool, error) {
	if v, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.CacheHitInc()
		}
		return v, true, nil
	}

	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissInc()
	}

	v, err := compute()
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.entries.Add(key, v)
	return v, false, nil
}

// Peek returns a cached value without touching recency.
func (c *Cache[V]) Peek(key features.Customer) (V, bool) {
	return c.entries.Peek(key)
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

func (c *Cache[V]) Hits() int64 {
	return c.hits.Load()
}

func (c *Cache[V]) Misses() int64 {
	return c.misses.Load()
}

// Purge drops every entry. Counters are kept.
func (c *Cache[V]) Purge() {
	c.entries.Purge()
}
