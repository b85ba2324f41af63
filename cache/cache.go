// Package cache provides a small TTL-bounded LRU cache shared by the
// explorer and RPC gateways. Entries expire purely by age; a flush drops
// everything. Cached data is not safety-critical, so last-write-wins on
// concurrent stores is acceptable.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxEntries = 2048

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is a mutex-guarded LRU cache whose entries expire after a fixed duration.
type TTL[V any] struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	store *lru.Cache[string, entry[V]]
}

// NewTTL constructs a cache holding up to maxEntries values for ttl each.
// maxEntries <= 0 falls back to a sensible default.
func NewTTL[V any](maxEntries int, ttl time.Duration) *TTL[V] {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	store, _ := lru.New[string, entry[V]](maxEntries)
	return &TTL[V]{
		ttl:   ttl,
		now:   time.Now,
		store: store,
	}
}

// SetClock overrides the cache's time source. Intended for tests.
func (c *TTL[V]) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns the cached value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || key == "" {
		return zero, false
	}
	c.mu.RLock()
	item, ok := c.store.Get(key)
	now := c.now()
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && now.Sub(item.storedAt) > c.ttl {
		c.mu.Lock()
		c.store.Remove(key)
		c.mu.Unlock()
		return zero, false
	}
	return item.value, true
}

// Add stores value under key. Empty keys are never cached.
func (c *TTL[V]) Add(key string, value V) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	c.store.Add(key, entry[V]{value: value, storedAt: c.now()})
	c.mu.Unlock()
}

// Flush drops every cached entry.
func (c *TTL[V]) Flush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.store.Purge()
	c.mu.Unlock()
}

// Len reports the number of live entries, expired or not.
func (c *TTL[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Len()
}
