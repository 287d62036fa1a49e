package cache

import (
	"sync"
	"time"
)

// TTL holds a single value that expires after a fixed duration.
type TTL[T any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	value    T
	loadedAt time.Time
	valid    bool
}

// NewTTL returns an empty cache. A nil clock uses time.Now.
func NewTTL[T any](ttl time.Duration, now func() time.Time) *TTL[T] {
	if now == nil {
		now = time.Now
	}
	return &TTL[T]{ttl: ttl, now: now}
}

// Get returns the cached value if it is still fresh.
func (c *TTL[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fresh() {
		var zero T
		return zero, false
	}
	return c.value, true
}

// Set stores v and restarts the expiry clock.
func (c *TTL[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.loadedAt = c.now()
	c.valid = true
}

func (c *TTL[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.valid = false
}

func (c *TTL[T]) fresh() bool {
	if !c.valid {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl
}
