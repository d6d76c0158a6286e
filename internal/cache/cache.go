// Package cache is a small TTL cache for slow-changing lookups, keyed by
// comparable ids. The signer uses it to keep storage credentials out of the
// secret backend's hot path.
package cache

import (
	"sync"
	"time"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultMaxEntries = 1000
)

// Options tunes one cache instance. Zero values fall back to the defaults.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache maps comparable keys to values with per-entry expiry. When full it
// drops expired entries first, then the oldest insertion.
type Cache[K comparable, V any] struct {
	mu  sync.RWMutex
	ttl time.Duration
	max int

	entries map[K]entry[V]
	order   []K
}

func New[K comparable, V any](opts Options) *Cache[K, V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	return &Cache[K, V]{
		ttl:     opts.TTL,
		max:     opts.MaxEntries,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the live value for key, if any. Expired entries read as
// missing and are dropped on the way out.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with a fresh TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
		return
	}
	if len(c.entries) >= c.max {
		c.dropExpiredLocked()
	}
	if len(c.entries) >= c.max && len(c.order) > 0 {
		c.removeLocked(c.order[0])
	}
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.order = append(c.order, key)
}

// Delete drops one entry.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Clear drops everything.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
	c.order = c.order[:0]
}

// Len counts the stored entries, expired ones included until touched.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[K, V]) removeLocked(key K) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache[K, V]) dropExpiredLocked() {
	now := time.Now()
	kept := c.order[:0]
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok && now.After(e.expiresAt) {
			delete(c.entries, k)
		} else {
			kept = append(kept, k)
		}
	}
	c.order = kept
}
