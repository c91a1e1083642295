package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CreativeUnicorns/prefstore"
	"github.com/CreativeUnicorns/prefstore/cache"
)

// CachedStorage is a read-through cache in front of another prefstore.Storage.
//
// Entries are invalidated on local writes and on every change event observed from
// the inner storage. Clear and All events advance a generation that is part of the
// cache key, which retires every earlier entry at once. A fill is skipped when the
// key was invalidated while its value was being read, so a racing write is never
// shadowed by the value it replaced.
//
// Writes made by other processes are only seen through Listen. While nothing is
// listening, an entry written elsewhere can be served until its ttl expires; use a
// non-zero ttl when the inner storage is shared.
type CachedStorage struct {
	inner  prefstore.Storage
	cache  cache.Cache
	ttl    time.Duration
	prefix string
	gen    atomic.Uint64
	logger prefstore.Logger

	// fillMu orders fills against invalidations; versions counts invalidations per key.
	fillMu   sync.Mutex
	versions map[string]uint64
}

// NewCachedStorage wraps inner with c. Entries expire after ttl; zero keeps them until invalidated.
// Closing the CachedStorage closes both inner and c.
func NewCachedStorage(inner prefstore.Storage, c cache.Cache, ttl time.Duration, opts ...Option) *CachedStorage {
	o := applyOptions(opts)
	return &CachedStorage{
		inner:    inner,
		cache:    c,
		ttl:      ttl,
		prefix:   "prefstore",
		logger:   o.logger,
		versions: make(map[string]uint64),
	}
}

func (s *CachedStorage) cacheKey(key string) string {
	return fmt.Sprintf("%s:%d:%s", s.prefix, s.gen.Load(), key)
}

// version returns the invalidation count of key and the current generation.
func (s *CachedStorage) version(key string) (uint64, uint64) {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	return s.versions[key], s.gen.Load()
}

// Get serves key from the cache, falling back to the inner storage on a miss.
func (s *CachedStorage) Get(ctx context.Context, key string) (prefstore.Value, error) {
	ck := s.cacheKey(key)
	if data, err := s.cache.Get(ctx, ck); err == nil {
		var v prefstore.Value
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		s.logger.Warn("cache: dropping undecodable entry", "key", key)
		_ = s.cache.Delete(ctx, ck)
	} else if !errors.Is(err, prefstore.ErrNotFound) {
		s.logger.Warn("cache: read failed, using storage", "key", key, "error", err)
	}

	ver, gen := s.version(key)
	v, err := s.inner.Get(ctx, key)
	if err != nil {
		return v, err
	}
	s.fill(ctx, key, ver, gen, v)
	return v, nil
}

// fill caches v unless key was invalidated or the generation moved since ver and gen were taken.
func (s *CachedStorage) fill(ctx context.Context, key string, ver, gen uint64, v prefstore.Value) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	if s.versions[key] != ver || s.gen.Load() != gen {
		s.logger.Debug("cache: skipping fill after concurrent invalidation", "key", key)
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(key), data, s.ttl); err != nil {
		s.logger.Warn("cache: write failed", "key", key, "error", err)
	}
}

// Set writes through to the inner storage and invalidates the cached entry.
func (s *CachedStorage) Set(ctx context.Context, key string, value prefstore.Value) error {
	if err := s.inner.Set(ctx, key, value); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// Delete removes key from the inner storage and invalidates the cached entry.
func (s *CachedStorage) Delete(ctx context.Context, key string) error {
	if err := s.inner.Delete(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// Contains is answered by the inner storage.
func (s *CachedStorage) Contains(ctx context.Context, key string) (bool, error) {
	return s.inner.Contains(ctx, key)
}

// Keys is answered by the inner storage.
func (s *CachedStorage) Keys(ctx context.Context) ([]string, error) {
	return s.inner.Keys(ctx)
}

// Clear empties the inner storage and retires every cached entry.
func (s *CachedStorage) Clear(ctx context.Context) error {
	if err := s.inner.Clear(ctx); err != nil {
		return err
	}
	s.retire()
	return nil
}

// Listen forwards inner events to fn after invalidating the affected entries.
func (s *CachedStorage) Listen(ctx context.Context, fn prefstore.ListenFunc) (prefstore.StopFunc, error) {
	return s.inner.Listen(ctx, func(ev prefstore.ChangeEvent) {
		switch {
		case ev.Err != nil:
		case ev.All:
			s.retire()
		default:
			s.invalidate(context.Background(), ev.Key)
		}
		fn(ev)
	})
}

func (s *CachedStorage) invalidate(ctx context.Context, key string) {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	s.versions[key]++
	if err := s.cache.Delete(ctx, s.cacheKey(key)); err != nil {
		s.logger.Warn("cache: invalidation failed", "key", key, "error", err)
	}
}

// retire advances the generation, orphaning every entry written under the previous one.
func (s *CachedStorage) retire() {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	s.gen.Add(1)
	clear(s.versions)
}

// Close closes the inner storage and the cache.
func (s *CachedStorage) Close() error {
	return errors.Join(s.inner.Close(), s.cache.Close())
}
