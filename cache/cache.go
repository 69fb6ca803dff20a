package cache

import (
	"time"

	"ai-rivu-backend/config"
	"ai-rivu-backend/model"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"
)

const aggregateKey = "analytics:aggregate"

// Cache wraps Ristretto with dashboard read-path helpers
type Cache struct {
	client *ristretto.Cache
	ttl    time.Duration
}

// New creates a new cache instance with the given configuration
func New(cfg config.CacheConfig) (*Cache, error) {
	maxCost := int64(cfg.MaxSizeMB) * 1024 * 1024

	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(cfg.CounterSize), // Number of keys to track frequency for admission
		MaxCost:     maxCost,
		BufferItems: 64, // Number of keys per Get buffer
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("max_size_mb", cfg.MaxSizeMB).
		Int("ttl_seconds", cfg.TTLSeconds).
		Int("counter_size", cfg.CounterSize).
		Msg("Cache initialized successfully")

	return &Cache{
		client: client,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
	}, nil
}

// Get retrieves a value from the cache
func (c *Cache) Get(key string) (interface{}, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	return c.client.Get(key)
}

// Set stores a value with the configured TTL and waits for it to be visible.
func (c *Cache) Set(key string, value interface{}, cost int64) bool {
	if c == nil || c.client == nil {
		return false
	}
	ok := c.client.SetWithTTL(key, value, cost, c.ttl)
	c.client.Wait()
	return ok
}

// Delete removes a key from the cache
func (c *Cache) Delete(key string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(key)
}

// Aggregate returns the cached aggregate analytics, if still fresh
func (c *Cache) Aggregate() (model.AggregateAnalytics, bool) {
	v, ok := c.Get(aggregateKey)
	if !ok {
		return model.AggregateAnalytics{}, false
	}
	a, ok := v.(model.AggregateAnalytics)
	return a, ok
}

// SetAggregate caches computed aggregate analytics
func (c *Cache) SetAggregate(a model.AggregateAnalytics) {
	c.Set(aggregateKey, a, 1)
}

// InvalidateAggregate drops the cached aggregate analytics
func (c *Cache) InvalidateAggregate() {
	c.Delete(aggregateKey)
}

// Close cleanly shuts down the cache
func (c *Cache) Close() {
	if c != nil && c.client != nil {
		c.client.Close()
		log.Info().Msg("Cache closed")
	}
}

// MetricsSnapshot is a point-in-time view of cache counters
type MetricsSnapshot struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	KeysAdded   uint64  `json:"keys_added"`
	KeysEvicted uint64  `json:"keys_evicted"`
	HitRatio    float64 `json:"hit_ratio"`
	TTLSeconds  int     `json:"ttl_seconds"`
}

// GetMetricsSnapshot returns current cache metrics as a snapshot
func (c *Cache) GetMetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{}
	}
	if c.client == nil || c.client.Metrics == nil {
		return MetricsSnapshot{TTLSeconds: int(c.ttl.Seconds())}
	}

	m := c.client.Metrics
	return MetricsSnapshot{
		Hits:        m.Hits(),
		Misses:      m.Misses(),
		KeysAdded:   m.KeysAdded(),
		KeysEvicted: m.KeysEvicted(),
		HitRatio:    m.Ratio(),
		TTLSeconds:  int(c.ttl.Seconds()),
	}
}
