package archidex

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oarkflow/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTier is an in-memory DurableTier.
type fakeTier struct {
	mu      sync.Mutex
	entries map[string]*DurableEntry
	openErr error
	opens   int
	sets    int
}

func newFakeTier() *fakeTier {
	return &fakeTier{entries: make(map[string]*DurableEntry)}
}

func (t *fakeTier) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	return t.openErr
}

func (t *fakeTier) Get(key string) (*DurableEntry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return e, ok, nil
}

func (t *fakeTier) Set(entry *DurableEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sets++
	t.entries[entry.Key] = entry
	return nil
}

func (t *fakeTier) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
	return nil
}

func (t *fakeTier) ClearExpired(now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, e := range t.entries {
		if e.Timestamp+e.TTLMillis <= now.UnixMilli() {
			delete(t.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (t *fakeTier) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*DurableEntry)
	return nil
}

func (t *fakeTier) Close() error { return nil }

func TestCacheTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache[string](CacheWithClock[string](clock.Now))
	defer func() { _ = c.Close() }()

	c.Set("k", "v", 100*time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(100 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheEvictsStaleRarelyUsedFirst(t *testing.T) {
	clock := newFakeClock()
	c := NewCache[string](
		CacheWithClock[string](clock.Now),
		CacheWithMaxItems[string](2),
		CacheWithTTL[string](time.Hour),
	)
	defer func() { _ = c.Close() }()

	c.Set("hot", "a", 0)
	c.Set("cold", "b", 0)

	// Repeated hits make "hot" cheap to keep.
	clock.Advance(time.Second)
	for i := 0; i < 3; i++ {
		_, ok := c.Get("hot")
		require.True(t, ok)
	}

	// Inserting a third entry must evict "cold": it is as stale as "hot"
	// but has no accesses, so its score is higher.
	c.Set("new", "c", 0)

	_, ok := c.Get("hot")
	assert.True(t, ok)
	_, ok = c.Get("cold")
	assert.False(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
}

func TestCacheByteBudgetEviction(t *testing.T) {
	clock := newFakeClock()
	c := NewCache[string](
		CacheWithClock[string](clock.Now),
		CacheWithMaxBytes[string](16),
	)
	defer func() { _ = c.Close() }()

	c.Set("a", "aaaa", 0)
	clock.Advance(time.Second)
	c.Set("b", "bbbb", 0)
	clock.Advance(time.Second)
	c.Set("c", "cccccccccc", 0)

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Bytes, int64(16))
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestCacheStats(t *testing.T) {
	c := NewCache[int]()
	defer func() { _ = c.Close() }()

	// Zero queries must not divide by zero.
	assert.Zero(t, c.Stats().HitRatio)

	c.Set("k", 42, 0)
	_, _ = c.Get("k")
	_, _ = c.Get("k")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(3), stats.TotalQueries)
	assert.InDelta(t, 2.0/3.0, stats.HitRatio, 1e-9)
}

func TestCacheWritesThroughToDurableTier(t *testing.T) {
	tier := newFakeTier()
	c := NewCache[string](CacheWithDurable[string](tier))
	defer func() { _ = c.Close() }()

	c.Set("k", "v", time.Minute)

	tier.mu.Lock()
	defer tier.mu.Unlock()
	assert.Equal(t, 1, tier.sets)
	require.Contains(t, tier.entries, "k")
	assert.Equal(t, int64(60_000), tier.entries["k"].TTLMillis)
}

func TestCachePromotesDurableHit(t *testing.T) {
	clock := newFakeClock()
	tier := newFakeTier()
	data, err := json.Marshal("durable-value")
	require.NoError(t, err)
	tier.entries["k"] = &DurableEntry{
		Key:       "k",
		Data:      data,
		Timestamp: clock.Now().UnixMilli(),
		TTLMillis: time.Hour.Milliseconds(),
	}

	c := NewCache[string](
		CacheWithClock[string](clock.Now),
		CacheWithDurable[string](tier),
	)
	defer func() { _ = c.Close() }()

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "durable-value", v)
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
}

func TestCachePromotionKeepsDurableAccessCount(t *testing.T) {
	clock := newFakeClock()
	tier := newFakeTier()
	data, err := json.Marshal("v")
	require.NoError(t, err)
	tier.entries["k"] = &DurableEntry{
		Key:         "k",
		Data:        data,
		Timestamp:   clock.Now().UnixMilli(),
		TTLMillis:   time.Hour.Milliseconds(),
		AccessCount: 7,
	}

	c := NewCache[string](
		CacheWithClock[string](clock.Now),
		CacheWithDurable[string](tier),
	)
	defer func() { _ = c.Close() }()

	_, ok := c.Get("k")
	require.True(t, ok)

	// The promoted entry keeps the durable row's frequency so the hybrid
	// eviction score does not reset across the tier hop.
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Contains(t, c.entries, "k")
	assert.Equal(t, int64(7), c.entries["k"].accessCount)
}

func TestCacheSkipsExpiredDurableEntry(t *testing.T) {
	clock := newFakeClock()
	tier := newFakeTier()
	tier.entries["k"] = &DurableEntry{
		Key:       "k",
		Data:      []byte(`"v"`),
		Timestamp: clock.Now().Add(-2 * time.Hour).UnixMilli(),
		TTLMillis: time.Hour.Milliseconds(),
	}

	c := NewCache[string](
		CacheWithClock[string](clock.Now),
		CacheWithDurable[string](tier),
	)
	defer func() { _ = c.Close() }()

	_, ok := c.Get("k")
	assert.False(t, ok)
	tier.mu.Lock()
	assert.NotContains(t, tier.entries, "k")
	tier.mu.Unlock()
}

func TestCacheDegradesToVolatileOnOpenFailure(t *testing.T) {
	tier := newFakeTier()
	tier.openErr = errors.New("disk gone")

	c := NewCache[string](CacheWithDurable[string](tier))
	defer func() { _ = c.Close() }()

	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	tier.mu.Lock()
	assert.Equal(t, 1, tier.opens)
	assert.Zero(t, tier.sets)
	tier.mu.Unlock()

	// The open is attempted once, not per call.
	c.Set("k2", "v2", time.Minute)
	tier.mu.Lock()
	assert.Equal(t, 1, tier.opens)
	tier.mu.Unlock()
}

func TestCacheClearExpired(t *testing.T) {
	clock := newFakeClock()
	tier := newFakeTier()
	c := NewCache[string](
		CacheWithClock[string](clock.Now),
		CacheWithDurable[string](tier),
	)
	defer func() { _ = c.Close() }()

	c.Set("short", "a", 10*time.Millisecond)
	c.Set("long", "b", time.Hour)

	clock.Advance(time.Minute)
	removed := c.ClearExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	tier.mu.Lock()
	assert.NotContains(t, tier.entries, "short")
	assert.Contains(t, tier.entries, "long")
	tier.mu.Unlock()
}

func TestCacheClear(t *testing.T) {
	tier := newFakeTier()
	c := NewCache[string](CacheWithDurable[string](tier))
	defer func() { _ = c.Close() }()

	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Clear()

	assert.Zero(t, c.Len())
	tier.mu.Lock()
	assert.Empty(t, tier.entries)
	tier.mu.Unlock()
}

func TestCacheSweeperRemovesExpiredEntries(t *testing.T) {
	c := NewCache[string](
		CacheWithSweepInterval[string](10 * time.Millisecond),
	)
	defer func() { _ = c.Close() }()

	c.Set("k", "v", 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
