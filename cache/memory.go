package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/CreativeUnicorns/prefstore"
)

// item represents a single cache item with a value and an expiration time.
type item struct {
	value      []byte
	expiration time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.expiration.IsZero() && now.After(it.expiration)
}

// MemoryCache implements the Cache interface using an in-memory map.
type MemoryCache struct {
	mu     sync.RWMutex
	items  map[string]item
	stop   chan struct{}
	once   sync.Once
	period time.Duration
}

// NewMemoryCache initializes a new MemoryCache instance.
// It starts a garbage collection goroutine that removes expired items every minute.
func NewMemoryCache() *MemoryCache {
	return newMemoryCache(time.Minute)
}

func newMemoryCache(period time.Duration) *MemoryCache {
	c := &MemoryCache{
		items:  make(map[string]item),
		stop:   make(chan struct{}),
		period: period,
	}
	go c.gc()
	return c
}

// Get retrieves a copy of the cached bytes. Expired items are reported as prefstore.ErrNotFound.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || it.expired(time.Now()) {
		return nil, prefstore.ErrNotFound
	}
	return slices.Clone(it.value), nil
}

// Set stores value with an optional TTL. A non-positive TTL never expires.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration time.Time
	if ttl > 0 {
		expiration = time.Now().Add(ttl)
	}
	c.items[key] = item{value: slices.Clone(value), expiration: expiration}
	return nil
}

// Delete removes a key from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	return nil
}

// Len returns the number of items held, including expired ones not yet collected.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the gc goroutine and drops every item. It is idempotent.
func (c *MemoryCache) Close() error {
	c.once.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.items = make(map[string]item)
		c.mu.Unlock()
	})
	return nil
}

// gc periodically removes expired items.
func (c *MemoryCache) gc() {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect(time.Now())
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) collect(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, it := range c.items {
		if it.expired(now) {
			delete(c.items, key)
		}
	}
}
