package archidex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/json"
)

// DurableEntry is one row of the durable cache tier. Timestamps are unix
// milliseconds so both tiers account TTLs the same way.
type DurableEntry struct {
	Key            string `db:"key"`
	Data           []byte `db:"data"`
	Timestamp      int64  `db:"timestamp"`
	TTLMillis      int64  `db:"ttl_ms"`
	AccessCount    int64  `db:"access_count"`
	LastAccessedAt int64  `db:"last_accessed_at"`
}

// DurableTier is the persistent half of the cache. Implementations must be
// safe for concurrent use. Open is called lazily exactly once.
type DurableTier interface {
	Open() error
	Get(key string) (*DurableEntry, bool, error)
	Set(entry *DurableEntry) error
	Delete(key string) error
	ClearExpired(now time.Time) (int, error)
	Clear() error
	Close() error
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits         int64
	Misses       int64
	TotalQueries int64
	HitRatio     float64
	Items        int
	Bytes        int64
}

type cacheEntry[V any] struct {
	value          V
	createdAt      time.Time
	ttl            time.Duration
	accessCount    int64
	lastAccessedAt time.Time
	sizeBytes      int64
}

// Cache is a two-tier cache: a volatile tier holding decoded values and an
// optional durable tier holding their encoded form. Writes go through to
// both tiers; a durable hit is promoted into the volatile tier. Losing the
// durable tier degrades the cache to volatile-only, never breaks it.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry[V]
	curBytes int64

	maxItems   int
	maxBytes   int64
	defaultTTL time.Duration

	durable     DurableTier
	durableOnce sync.Once
	durableOK   atomic.Bool

	logger *Logger
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// CacheOption configures a Cache.
type CacheOption[V any] func(*Cache[V])

// CacheWithMaxItems caps the volatile entry count.
func CacheWithMaxItems[V any](n int) CacheOption[V] {
	return func(c *Cache[V]) {
		if n > 0 {
			c.maxItems = n
		}
	}
}

// CacheWithMaxBytes caps the volatile tier's accounted payload bytes.
func CacheWithMaxBytes[V any](n int64) CacheOption[V] {
	return func(c *Cache[V]) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// CacheWithTTL sets the TTL used when Set receives a zero ttl.
func CacheWithTTL[V any](ttl time.Duration) CacheOption[V] {
	return func(c *Cache[V]) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// CacheWithDurable attaches a durable tier.
func CacheWithDurable[V any](d DurableTier) CacheOption[V] {
	return func(c *Cache[V]) {
		c.durable = d
	}
}

// CacheWithLogger sets the logger.
func CacheWithLogger[V any](l *Logger) CacheOption[V] {
	return func(c *Cache[V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// CacheWithSweepInterval sets the background expiry sweep period.
// Zero disables the sweeper.
func CacheWithSweepInterval[V any](d time.Duration) CacheOption[V] {
	return func(c *Cache[V]) {
		c.sweepEvery = d
	}
}

// CacheWithClock injects the time source.
func CacheWithClock[V any](now func() time.Time) CacheOption[V] {
	return func(c *Cache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache builds a cache and starts its sweeper when an interval is set.
func NewCache[V any](opts ...CacheOption[V]) *Cache[V] {
	c := &Cache[V]{
		entries:    make(map[string]*cacheEntry[V]),
		maxItems:   1024,
		maxBytes:   64 << 20,
		defaultTTL: 5 * time.Minute,
		logger:     NoopLogger(),
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepEvery > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	return c
}

func (c *Cache[V]) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.ClearExpired()
		case <-c.stop:
			return
		}
	}
}

// openDurable opens the durable tier on first use. Failure is terminal for
// the tier: the cache stays volatile-only for the rest of its lifetime.
func (c *Cache[V]) openDurable() bool {
	if c.durable == nil {
		return false
	}
	c.durableOnce.Do(func() {
		if err := c.durable.Open(); err != nil {
			c.logger.LogCacheDegraded(context.Background(),
				fmt.Errorf("%w: %v", ErrCacheBackendUnavailable, err))
			return
		}
		c.durableOK.Store(true)
	})
	return c.durableOK.Load()
}

func (c *Cache[V]) valid(e *cacheEntry[V], now time.Time) bool {
	return now.Sub(e.createdAt) < e.ttl
}

// hybridScore ranks eviction candidates: stale and rarely used entries score
// highest. The entry with the maximal score is evicted first.
func hybridScore(now, lastAccessed time.Time, accessCount int64) float64 {
	return float64(now.Sub(lastAccessed)) / float64(accessCount+1)
}

// Get returns the cached value for key. Expired volatile entries are removed
// on sight; a valid durable entry is decoded and promoted.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if c.valid(e, now) {
			e.accessCount++
			e.lastAccessedAt = now
			value := e.value
			c.mu.Unlock()
			c.hits.Add(1)
			return value, true
		}
		c.removeLocked(key, e)
	}
	c.mu.Unlock()

	if v, ok := c.getDurable(key, now); ok {
		c.hits.Add(1)
		return v, true
	}

	var zero V
	c.misses.Add(1)
	return zero, false
}

func (c *Cache[V]) getDurable(key string, now time.Time) (V, bool) {
	var zero V
	if !c.openDurable() {
		return zero, false
	}
	entry, ok, err := c.durable.Get(key)
	if err != nil || !ok {
		return zero, false
	}
	createdAt := time.UnixMilli(entry.Timestamp)
	ttl := time.Duration(entry.TTLMillis) * time.Millisecond
	if now.Sub(createdAt) >= ttl {
		_ = c.durable.Delete(key)
		return zero, false
	}
	var value V
	if err := json.Unmarshal(entry.Data, &value); err != nil {
		_ = c.durable.Delete(key)
		return zero, false
	}
	c.insert(key, value, createdAt, ttl, int64(len(entry.Data)), entry.AccessCount, now)
	return value, true
}

// Set stores value under key in both tiers. A zero ttl uses the default.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.insert(key, value, now, ttl, int64(len(data)), 0, now)

	if c.openDurable() {
		err := c.durable.Set(&DurableEntry{
			Key:            key,
			Data:           data,
			Timestamp:      now.UnixMilli(),
			TTLMillis:      ttl.Milliseconds(),
			AccessCount:    0,
			LastAccessedAt: now.UnixMilli(),
		})
		if err != nil {
			c.logger.Warn("durable cache write failed", "key", key, "error", err)
		}
	}
}

// insert places a value in the volatile tier. accessCount seeds the hybrid
// eviction score; promotions carry the durable row's count so the frequency
// signal survives the tier hop.
func (c *Cache[V]) insert(key string, value V, createdAt time.Time, ttl time.Duration, size int64, accessCount int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	}
	for len(c.entries) >= c.maxItems || (c.maxBytes > 0 && c.curBytes+size > c.maxBytes) {
		if !c.evictOneLocked(now) {
			break
		}
	}
	c.entries[key] = &cacheEntry[V]{
		value:          value,
		createdAt:      createdAt,
		ttl:            ttl,
		accessCount:    accessCount,
		lastAccessedAt: now,
		sizeBytes:      size,
	}
	c.curBytes += size
}

func (c *Cache[V]) evictOneLocked(now time.Time) bool {
	var worstKey string
	var worst *cacheEntry[V]
	var worstScore float64
	for key, e := range c.entries {
		score := hybridScore(now, e.lastAccessedAt, e.accessCount)
		if worst == nil || score > worstScore {
			worstKey, worst, worstScore = key, e, score
		}
	}
	if worst == nil {
		return false
	}
	c.removeLocked(worstKey, worst)
	return true
}

func (c *Cache[V]) removeLocked(key string, e *cacheEntry[V]) {
	delete(c.entries, key)
	c.curBytes -= e.sizeBytes
}

// Delete drops key from both tiers.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
	c.mu.Unlock()
	if c.openDurable() {
		_ = c.durable.Delete(key)
	}
}

// Clear empties both tiers. Stats are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry[V])
	c.curBytes = 0
	c.mu.Unlock()
	if c.openDurable() {
		_ = c.durable.Clear()
	}
}

// ClearExpired removes expired entries from both tiers and reports how many
// volatile entries were dropped.
func (c *Cache[V]) ClearExpired() int {
	now := c.now()
	removed := 0
	c.mu.Lock()
	for key, e := range c.entries {
		if !c.valid(e, now) {
			c.removeLocked(key, e)
			removed++
		}
	}
	c.mu.Unlock()
	if c.durableOK.Load() {
		_, _ = c.durable.ClearExpired(now)
	}
	return removed
}

// Stats returns hit/miss counters and the current volatile footprint.
func (c *Cache[V]) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}
	c.mu.Lock()
	items := len(c.entries)
	bytes := c.curBytes
	c.mu.Unlock()
	return CacheStats{
		Hits:         hits,
		Misses:       misses,
		TotalQueries: total,
		HitRatio:     ratio,
		Items:        items,
		Bytes:        bytes,
	}
}

// Len returns the volatile entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweeper and closes the durable tier.
func (c *Cache[V]) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
	if c.durableOK.Load() {
		return c.durable.Close()
	}
	return nil
}
