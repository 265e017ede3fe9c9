// Package permcache caches authorization decisions with a TTL and an LRU bound.
package permcache

import (
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agrinova/authd/pkg/observability"
)

const (
	DefaultTTL        = 5 * time.Second
	DefaultMaxEntries = 1000
)

// Config holds cache settings
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:        DefaultTTL,
		MaxEntries: DefaultMaxEntries,
	}
}

// Stats is a point-in-time view of cache counters
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	value      bool
	insertedAt time.Time
}

// Cache maps decision keys to boolean results. The underlying LRU serialises
// every operation behind one mutex, so concurrent checks never observe a
// partially applied insert or eviction.
type Cache struct {
	ttl     time.Duration
	lru     *lru.LRU[string, entry]
	now     func() time.Time
	metrics *observability.Metrics

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures a Cache
type Option func(*Cache)

// WithMetrics exports hit/miss/eviction counters to Prometheus
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock overrides the time source used for TTL checks
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. Zero or negative values in config fall back to defaults.
func New(config *Config, opts ...Option) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxEntries := config.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	c := &Cache{
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	// The LRU's own expiry only reclaims memory; freshness is decided in Get
	// against insertedAt.
	c.lru = lru.NewLRU[string, entry](maxEntries, nil, ttl)
	return c
}

// Get returns the cached decision for key. A stale entry is a miss and is
// removed.
func (c *Cache) Get(key string) (value bool, ok bool) {
	e, found := c.lru.Get(key)
	if found && c.now().Sub(e.insertedAt) < c.ttl {
		c.hits.Add(1)
		c.metrics.RecordCacheHit()
		return e.value, true
	}

	if c.lru.Remove(key) {
		c.evictions.Add(1)
		c.metrics.RecordCacheEviction("expired")
		c.metrics.SetCacheEntries(c.lru.Len())
	}
	c.misses.Add(1)
	c.metrics.RecordCacheMiss()
	return false, false
}

// Peek returns a fresh cached decision without touching recency, counters
// or stale entries. Used by read-only traces.
func (c *Cache) Peek(key string) (value bool, ok bool) {
	e, found := c.lru.Peek(key)
	if !found || c.now().Sub(e.insertedAt) >= c.ttl {
		return false, false
	}
	return e.value, true
}

// Put inserts or overwrites a decision. When the cache is full the least
// recently used entry is evicted first.
func (c *Cache) Put(key string, value bool) {
	if c.lru.Add(key, entry{value: value, insertedAt: c.now()}) {
		c.evictions.Add(1)
		c.metrics.RecordCacheEviction("capacity")
	}
	c.metrics.SetCacheEntries(c.lru.Len())
}

// Invalidate removes every entry belonging to principalID and returns how
// many were removed.
func (c *Cache) Invalidate(principalID string) int {
	if principalID == "" {
		return 0
	}
	prefix := principalID + keySeparator
	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) && c.lru.Remove(key) {
			removed++
		}
	}
	if removed > 0 {
		c.metrics.RecordCacheEviction("invalidate")
		c.metrics.SetCacheEntries(c.lru.Len())
	}
	return removed
}

// Clear drops all entries
func (c *Cache) Clear() {
	c.lru.Purge()
	c.metrics.SetCacheEntries(0)
}

// Len returns the number of entries, including any not yet reclaimed stale ones
func (c *Cache) Len() int {
	return c.lru.Len()
}

// TTL returns the configured entry lifetime
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.lru.Len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
