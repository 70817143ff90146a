// Package cache provides typed TTL caches backed by go-cache or Redis.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// InMemory is a thread-safe in-memory cache with TTL.
type InMemory[T any] struct {
	store *gocache.Cache
	ttl   time.Duration
}

// New creates a new in-memory cache with the given TTL.
// Expired entries are purged every 2*ttl.
func New[T any](ttl time.Duration) *InMemory[T] {
	return &InMemory[T]{
		store: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return typed, true
}

// Set stores a value in the cache with the configured TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.store.Set(key, value, c.ttl)
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.store.Delete(key)
}

// Flush removes every entry.
func (c *InMemory[T]) Flush() {
	c.store.Flush()
}
