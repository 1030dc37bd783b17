// Package candlecache is a two-tier keyed store of historical bar
// sequences: a volatile in-process tier bounded by entry count, backed by
// an optional durable key-value tier that survives restarts. Entries are
// immutable once written and expire on a fixed horizon; expired entries
// are purged lazily on the next access, never proactively.
package candlecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"journal-core/internal/domain"
	"journal-core/internal/observability"
	"journal-core/internal/storage"
)

// Defaults for the retention horizon and the volatile-tier bound.
const (
	DefaultTTL      = 72 * time.Hour
	DefaultCapacity = 50
)

// KeyPrefix namespaces every durable key written by this cache, so Clear
// can purge the namespace without touching unrelated data.
const KeyPrefix = "candles_"

// Entry is the JSON shape persisted to the durable tier.
type Entry struct {
	Candles   []domain.Candle `json:"candles"`
	CreatedAt int64           `json:"createdAt"` // ms
	ExpiresAt int64           `json:"expiresAt"` // ms
}

// Key builds the exact-tuple cache key. Requests for overlapping but
// non-identical ranges intentionally do not share entries.
func Key(symbol string, interval domain.Interval, startMs, endMs int64) string {
	return fmt.Sprintf("%s%s_%s_%d_%d", KeyPrefix, symbol, interval, startMs/1000, endMs/1000)
}

// Cache is safe for concurrent use; all tier mutations happen under one
// mutex, which serializes promotion and eviction the same way the
// single-threaded origin serialized them.
type Cache struct {
	mu       sync.Mutex
	volatile map[string]Entry
	order    []string // insertion order, oldest first

	durable  storage.CacheStore // nil disables the durable tier
	ttl      time.Duration
	capacity int
	now      func() time.Time
	logger   *log.Logger
	metrics  *observability.Metrics // nil disables instrumentation
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry retention horizon.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithCapacity bounds the volatile tier's entry count.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger for swallowed durable-tier failures.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics enables eviction and size instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a Cache over the given durable tier; durable may be nil for
// a purely volatile cache.
func New(durable storage.CacheStore, opts ...Option) *Cache {
	c := &Cache{
		volatile: make(map[string]Entry),
		durable:  durable,
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached series for the exact range, or (nil, false) on
// miss. A valid durable hit repopulates the volatile tier before
// returning; an expired or corrupt durable entry is deleted and treated
// as a miss.
func (c *Cache) Get(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64) ([]domain.Candle, bool) {
	key := Key(symbol, interval, startMs, endMs)
	nowMs := c.now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.volatile[key]; ok {
		if nowMs < entry.ExpiresAt {
			return copyCandles(entry.Candles), true
		}
		c.removeVolatile(key)
	}

	entry, ok := c.readDurable(ctx, key, nowMs)
	if !ok {
		return nil, false
	}

	// Promotion: a valid durable hit becomes a volatile entry again.
	c.insertVolatile(key, entry)
	return copyCandles(entry.Candles), true
}

// Put writes the series to both tiers under the same expiry horizon.
// Durable write failures are swallowed; the volatile tier remains
// authoritative for the current process lifetime.
func (c *Cache) Put(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64, candles []domain.Candle) {
	key := Key(symbol, interval, startMs, endMs)
	nowMs := c.now().UnixMilli()

	entry := Entry{
		Candles:   copyCandles(candles),
		CreatedAt: nowMs,
		ExpiresAt: nowMs + c.ttl.Milliseconds(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.insertVolatile(key, entry)

	if c.durable == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Printf("[cache] marshal entry %s: %v", key, err)
		return
	}
	if err := c.durable.Set(ctx, key, string(raw)); err != nil {
		c.logger.Printf("[cache] durable write %s failed: %v", key, err)
	}
}

// Clear purges all entries in this cache's namespace from both tiers,
// leaving unrelated durable keys untouched.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.volatile = make(map[string]Entry)
	c.order = nil
	if c.metrics != nil {
		c.metrics.CacheSize.Set(0)
	}
	c.mu.Unlock()

	if c.durable == nil {
		return nil
	}
	if err := c.durable.DeleteByPrefix(ctx, KeyPrefix); err != nil {
		return fmt.Errorf("clear durable cache tier: %w", err)
	}
	return nil
}

// Len reports the volatile tier's current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.volatile)
}

// readDurable fetches and validates a durable entry, deleting it when
// expired or corrupt. Any failure is a miss, never an error: the caller
// re-fetches from the remote source instead.
func (c *Cache) readDurable(ctx context.Context, key string, nowMs int64) (Entry, bool) {
	if c.durable == nil {
		return Entry{}, false
	}

	raw, err := c.durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Printf("[cache] durable read %s failed: %v", key, err)
		}
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// Partially written or otherwise corrupt: discard and refetch.
		c.logger.Printf("[cache] corrupt durable entry %s, discarding: %v", key, err)
		c.deleteDurable(ctx, key)
		return Entry{}, false
	}

	if nowMs >= entry.ExpiresAt {
		c.deleteDurable(ctx, key)
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) deleteDurable(ctx context.Context, key string) {
	if err := c.durable.Delete(ctx, key); err != nil {
		c.logger.Printf("[cache] durable delete %s failed: %v", key, err)
	}
}

// insertVolatile adds an entry under the eviction bound: when the tier is
// full, the single oldest entry by insertion time is dropped. Caller
// holds c.mu.
func (c *Cache) insertVolatile(key string, entry Entry) {
	if _, exists := c.volatile[key]; exists {
		c.removeVolatile(key)
	}

	for c.capacity > 0 && len(c.volatile) >= c.capacity {
		oldest := c.order[0]
		c.removeVolatile(oldest)
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	}

	c.volatile[key] = entry
	c.order = append(c.order, key)
	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(len(c.volatile)))
	}
}

// removeVolatile drops one key from the map and the insertion order.
// Caller holds c.mu.
func (c *Cache) removeVolatile(key string) {
	delete(c.volatile, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(len(c.volatile)))
	}
}

func copyCandles(in []domain.Candle) []domain.Candle {
	if in == nil {
		return nil
	}
	out := make([]domain.Candle, len(in))
	copy(out, in)
	return out
}
