// Package cache is a typed, TTL-aware in-process cache on top of ristretto.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "cache"

// Config sizes the underlying ristretto cache.
type Config struct {
	Name        string
	NumCounters int64 // keys tracked for admission (10x max items)
	MaxItems    int64 // every entry costs 1
	BufferItems int64
	DefaultTTL  time.Duration
}

// DefaultConfig fits a few thousand hot entries.
func DefaultConfig(name string, ttl time.Duration) Config {
	return Config{
		Name:        name,
		NumCounters: 100_000,
		MaxItems:    10_000,
		BufferItems: 64,
		DefaultTTL:  ttl,
	}
}

type cacheMetrics struct {
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// Cache stores V values keyed by a string-like K.
type Cache[K ~string, V any] struct {
	inner   *ristretto.Cache
	ttl     time.Duration
	attrs   metric.MeasurementOption
	metrics *cacheMetrics
}

// New creates a cache with the default sizing.
func New[K ~string, V any](ttl time.Duration) (*Cache[K, V], error) {
	return NewWithConfig[K, V](DefaultConfig("default", ttl))
}

// NewWithConfig creates a cache from cfg.
func NewWithConfig[K ~string, V any](cfg Config) (*Cache[K, V], error) {
	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxItems,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", cfg.Name, err)
	}

	meter := otel.Meter(meterName)
	m := &cacheMetrics{}
	if m.hits, err = meter.Int64Counter("cache_hits_total",
		metric.WithDescription("Cache hits"), metric.WithUnit("{hit}")); err != nil {
		return nil, err
	}
	if m.misses, err = meter.Int64Counter("cache_misses_total",
		metric.WithDescription("Cache misses"), metric.WithUnit("{miss}")); err != nil {
		return nil, err
	}

	return &Cache[K, V]{
		inner:   inner,
		ttl:     cfg.DefaultTTL,
		attrs:   metric.WithAttributes(attribute.String("cache", cfg.Name)),
		metrics: m,
	}, nil
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V
	raw, ok := c.inner.Get(string(key))
	if !ok {
		c.metrics.misses.Add(ctx, 1, c.attrs)
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		c.metrics.misses.Add(ctx, 1, c.attrs)
		return zero, false
	}
	c.metrics.hits.Add(ctx, 1, c.attrs)
	return v, true
}

// Set stores value with ttl (the default TTL when ttl is zero).
// ristretto applies writes asynchronously; Wait flushes them.
func (c *Cache[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.inner.SetWithTTL(string(key), value, 1, ttl)
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.inner.Del(string(key))
}

// Wait blocks until buffered writes are applied.
func (c *Cache[K, V]) Wait() {
	c.inner.Wait()
}

// Close releases the cache's goroutines.
func (c *Cache[K, V]) Close() {
	c.inner.Close()
}
