package permcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/authd/pkg/observability"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestNew_Defaults(t *testing.T) {
	c := New(nil)
	assert.Equal(t, DefaultTTL, c.TTL())
	assert.Equal(t, 0, c.Len())

	c = New(&Config{TTL: -1, MaxEntries: 0})
	assert.Equal(t, DefaultTTL, c.TTL())
}

func TestCache_GetPut(t *testing.T) {
	c := New(nil)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k1", true)
	c.Put("k2", false)

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.True(t, v)

	v, ok = c.Get("k2")
	require.True(t, ok)
	assert.False(t, v, "cached denials are returned as well")

	c.Put("k1", false)
	v, ok = c.Get("k1")
	require.True(t, ok)
	assert.False(t, v, "put overwrites")
}

func TestCache_TTL(t *testing.T) {
	clock := newFakeClock()
	c := New(&Config{TTL: 5 * time.Second, MaxEntries: 10}, WithClock(clock.Now))

	c.Put("k", true)

	clock.Advance(4999 * time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry is fresh just before TTL")

	clock.Advance(time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must not be served once age reaches TTL")
	assert.Equal(t, 0, c.Len(), "stale entry is removed on read")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestCache_PutRefreshesInsertedAt(t *testing.T) {
	clock := newFakeClock()
	c := New(&Config{TTL: time.Second, MaxEntries: 10}, WithClock(clock.Now))

	c.Put("k", true)
	clock.Advance(800 * time.Millisecond)
	c.Put("k", true)
	clock.Advance(800 * time.Millisecond)

	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_LRUBound(t *testing.T) {
	c := New(&Config{TTL: time.Minute, MaxEntries: 3})

	c.Put("a", true)
	c.Put("b", true)
	c.Put("c", true)

	// touch a so b becomes least recently used
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", true)

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_Invalidate(t *testing.T) {
	c := New(nil)
	c.Put(Key("u-1", "harvest:read", "", ""), true)
	c.Put(Key("u-1", "harvest:create", "fp", "c-1"), false)
	c.Put(Key("u-10", "harvest:read", "", ""), true)
	c.Put(Key("u-2", "harvest:read", "", ""), true)

	removed := c.Invalidate("u-1")
	assert.Equal(t, 2, removed)

	_, ok := c.Get(Key("u-1", "harvest:read", "", ""))
	assert.False(t, ok)
	_, ok = c.Get(Key("u-10", "harvest:read", "", ""))
	assert.True(t, ok, "prefix match must not cross principal boundaries")
	_, ok = c.Get(Key("u-2", "harvest:read", "", ""))
	assert.True(t, ok)

	assert.Equal(t, 0, c.Invalidate(""))
}

func TestCache_Clear(t *testing.T) {
	c := New(nil)
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("k%d", i), true)
	}
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Peek(t *testing.T) {
	clock := newFakeClock()
	c := New(&Config{TTL: time.Second, MaxEntries: 10}, WithClock(clock.Now))

	c.Put("k", true)
	v, ok := c.Peek("k")
	assert.True(t, ok)
	assert.True(t, v)
	assert.Equal(t, int64(0), c.Stats().Hits, "peek does not count")

	clock.Advance(time.Second)
	_, ok = c.Peek("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "peek leaves stale entries in place")
}

func TestCache_Concurrent(t *testing.T) {
	c := New(&Config{TTL: time.Minute, MaxEntries: 50})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("u-%d|perm-%d||", w, i%70)
				c.Put(key, i%2 == 0)
				c.Get(key)
				if i%50 == 0 {
					c.Invalidate(fmt.Sprintf("u-%d", w))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}

func TestCache_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	c := New(&Config{TTL: time.Minute, MaxEntries: 1}, WithMetrics(metrics))

	c.Put("a", true)
	c.Get("a")
	c.Get("b")
	c.Put("b", true)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheEvictionsTotal.WithLabelValues("capacity")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheEntries))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(map[string]string{"estate": "e-1", "division": "d-1"})
	b := Fingerprint(map[string]string{"division": "d-1", "estate": "e-1", "block": ""})
	assert.Equal(t, a, b, "order and empty values do not matter")
	assert.NotEqual(t, a, Fingerprint(map[string]string{"estate": "e-1", "division": "d-2"}))
	assert.Equal(t, "", Fingerprint(nil))
	assert.Equal(t, "", Fingerprint(map[string]string{"x": ""}))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "u-1|harvest:read|fp|c-1", Key("u-1", "harvest:read", "fp", "c-1"))
	assert.Equal(t, "u-1|harvest:read||", Key("u-1", "harvest:read", "", ""))
}
