// Package lru provides a generic thread-safe LRU cache with optional TTL
// expiry and per-entry persistence pins.
package lru

import (
	"sync"
	"sync/atomic"
	"time"
)

// entry is a doubly-linked list node holding a key-value pair.
type entry[K comparable, V any] struct {
	key        K
	value      V
	cachedAt   time.Time
	persistent bool
	prev       *entry[K, V]
	next       *entry[K, V]
}

// Cache is a thread-safe generic LRU cache.
// Entries are evicted least-recently-used first when the entry cap is
// exceeded, and lazily expired on read when a TTL is configured.
// Persistent entries are exempt from both but still removable on demand.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	head    *entry[K, V] // Most recently used.
	tail    *entry[K, V] // Least recently used.

	// Capacity limits. Zero maxEntries means unbounded.
	maxEntries int
	ttl        time.Duration

	// now is the clock source, overridable in tests.
	now func() time.Time

	// Metrics (atomic for lock-free reads).
	hits    atomic.Int64
	misses  atomic.Int64
	expired atomic.Int64
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithMaxEntries sets the maximum number of non-persistent entries.
// Zero or negative means unbounded.
func WithMaxEntries[K comparable, V any](n int) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.maxEntries = n
	}
}

// WithTTL sets the time-to-live for non-persistent entries.
// Expired entries are dropped lazily on Get. Zero means no expiry.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.ttl = ttl
	}
}

// WithClock sets the time source used for TTL checks. Used by tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.now = now
	}
}

// New creates a new LRU cache.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		entries: make(map[K]*entry[K, V]),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Len returns the number of entries in the cache, including expired
// entries that have not been touched since expiry.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
