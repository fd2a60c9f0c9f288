package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mholstad/station-dashboard-service/internal/observability"
)

// Default sizing for the in-memory backend. When an insert would push the
// entry count past the cap, the oldest entries (by store time) are evicted
// in one batch to bound memory over a long-lived process.
const (
	DefaultMaxEntries = 100
	DefaultEvictBatch = 20
)

// Cache is the response cache shared by all entity fetchers. Keys are request
// signatures; values are JSON-encoded mapped payloads. Get returns ok=false
// on miss or expiry; a miss is never an error, only a signal to re-fetch.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// entry stores a cached payload with its store time and TTL. Expiry is
// checked on access; a value is never returned past its declared TTL.
type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// InMemoryCache implements Cache with a mutex-guarded map. Safe for
// concurrent use by the batch resolver's fan-out goroutines.
type InMemoryCache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	evictBatch int
}

// NewInMemoryCache creates an in-memory cache with the default size cap.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithCap(DefaultMaxEntries, DefaultEvictBatch)
}

// NewInMemoryCacheWithCap creates an in-memory cache with an explicit entry
// cap and eviction batch size. Non-positive arguments fall back to defaults.
func NewInMemoryCacheWithCap(maxEntries, evictBatch int) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if evictBatch <= 0 {
		evictBatch = DefaultEvictBatch
	}
	if evictBatch > maxEntries {
		evictBatch = maxEntries
	}
	return &InMemoryCache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		evictBatch: evictBatch,
	}
}

// Get retrieves the cached payload for key if present and within TTL.
// Expired entries are removed on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Since(e.storedAt) > e.ttl {
		delete(c.entries, key)
		observability.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores the payload with the current timestamp. When the entry count
// would exceed the cap, the oldest entries are evicted first.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked(c.evictBatch)
	}
	c.entries[key] = entry{value: value, storedAt: time.Now(), ttl: ttl}
	return nil
}

// Len returns the current entry count.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked removes the n entries with the earliest store times.
// Caller holds c.mu.
func (c *InMemoryCache) evictOldestLocked(n int) {
	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, storedAt: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
	observability.CacheEvictionsTotal.WithLabelValues("capacity").Add(float64(n))
}
