// Package cache provides a thread-safe TTL cache with an injectable clock.
//
// Entries expire a fixed duration after they are stored. Expiry is evaluated
// against a Clock supplied by the caller, so tests can drive eviction
// deterministically without sleeping.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts time for expiry decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// EvictCallback is invoked after an entry is removed from the cache.
type EvictCallback[V any] func(key string, value V)

// Stats holds cache counters. All fields are updated atomically.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe time-to-live cache.
type TTL[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   Clock
	items   map[string]entry[V]
	evictFn EvictCallback[V]

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// Option configures a TTL cache.
type Option[V any] func(*TTL[V])

// WithClock overrides the clock used for expiry decisions.
func WithClock[V any](clock Clock) Option[V] {
	return func(c *TTL[V]) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithEvictCallback registers a callback run after each eviction.
func WithEvictCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *TTL[V]) {
		c.evictFn = fn
	}
}

// NewTTL creates a TTL cache. A non-positive ttl disables expiry.
func NewTTL[V any](ttl time.Duration, opts ...Option[V]) *TTL[V] {
	c := &TTL[V]{
		ttl:   ttl,
		clock: SystemClock{},
		items: make(map[string]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value by key, evicting it first if expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		c.misses.Add(1)
		return zero, false
	}

	if c.expired(e) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, still := c.items[key]; still && c.expired(cur) {
			delete(c.items, key)
			c.evictions.Add(1)
			if c.evictFn != nil {
				defer c.evictFn(key, cur.value)
			}
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores a value, resetting its expiry. Returns true if the key was new.
func (c *TTL[V]) Set(key string, value V) bool {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.clock.Now().Add(c.ttl)
	}

	c.mu.Lock()
	_, existed := c.items[key]
	c.items[key] = entry[V]{value: value, expiresAt: expiresAt}
	c.mu.Unlock()

	c.sets.Add(1)
	return !existed
}

// Delete removes an entry by key, returning whether it was present.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	c.mu.Unlock()

	if ok && c.evictFn != nil {
		c.evictFn(key, e.value)
	}
	return ok
}

// Purge removes all expired entries and returns how many were evicted.
func (c *TTL[V]) Purge() int {
	type evicted struct {
		key   string
		value V
	}
	var removed []evicted

	c.mu.Lock()
	for key, e := range c.items {
		if c.expired(e) {
			removed = append(removed, evicted{key, e.value})
			delete(c.items, key)
		}
	}
	c.mu.Unlock()

	for _, e := range removed {
		c.evictions.Add(1)
		if c.evictFn != nil {
			c.evictFn(e.key, e.value)
		}
	}
	return len(removed)
}

// Size returns the current number of entries, expired or not.
func (c *TTL[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all entries without invoking evict callbacks.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry[V])
	c.mu.Unlock()
}

// Stats returns a snapshot of the cache counters.
func (c *TTL[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *TTL[V]) expired(e entry[V]) bool {
	if e.expiresAt.IsZero() {
		return false
	}
	return c.clock.Now().After(e.expiresAt)
}
