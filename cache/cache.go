// Package cache provides the read-through caches used by storage.CachedStorage.
package cache

import (
	"context"
	"time"
)

// Cache defines the methods required for a caching backend.
// A missing or expired key yields prefstore.ErrNotFound.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
