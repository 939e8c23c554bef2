package cache

import (
	"sync"
	"time"
)

// TTL constants for different data types
const (
	// Medium - identity to sysfs device directory, refreshed by every enumeration
	TTLMedium = 5 * time.Minute

	// Fast - lsblk output, shared by storage queries issued within one poll
	// window so a delayed enrichment sees fresh mount state
	TTLFast = 500 * time.Millisecond
)

// Entry holds a cached value with expiration
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired
func (e *Entry[V]) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Cache provides thread-safe TTL-based caching
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*Entry[V]
	now     func() time.Time
}

// New creates a new cache instance
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*Entry[V]),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests
func (c *Cache[K, V]) WithClock(now func() time.Time) *Cache[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get retrieves a value from cache; ok is false if expired or not found
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || entry.IsExpired(c.now()) {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value with the given TTL
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry[V]{
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
}

// GetOrLoad returns the cached value or calls load and caches a successful result
func (c *Cache[K, V]) GetOrLoad(key K, ttl time.Duration, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Cleanup removes expired entries
func (c *Cache[K, V]) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, v := range c.entries {
		if v.IsExpired(now) {
			delete(c.entries, k)
		}
	}
}
