package storage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreativeUnicorns/prefstore"
	"github.com/CreativeUnicorns/prefstore/cache"
)

// countingStorage counts reads that reach the wrapped storage.
type countingStorage struct {
	prefstore.Storage
	gets int
}

func (c *countingStorage) Get(ctx context.Context, key string) (prefstore.Value, error) {
	c.gets++
	return c.Storage.Get(ctx, key)
}

// pausingStorage blocks its next Get, after reading, until release is closed.
type pausingStorage struct {
	prefstore.Storage
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newPausingStorage(inner prefstore.Storage) *pausingStorage {
	return &pausingStorage{Storage: inner, read: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingStorage) Get(ctx context.Context, key string) (prefstore.Value, error) {
	v, err := p.Storage.Get(ctx, key)
	if p.armed.CompareAndSwap(true, false) {
		close(p.read)
		<-p.release
	}
	return v, err
}

// pausingCache blocks its next Set until release is closed.
type pausingCache struct {
	cache.Cache
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (p *pausingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if p.armed.CompareAndSwap(true, false) {
		close(p.entered)
		<-p.release
	}
	return p.Cache.Set(ctx, key, value, ttl)
}

func TestCachedStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) prefstore.Storage {
		s := NewCachedStorage(NewMemoryStorage(), cache.NewMemoryCache(), time.Minute)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestCachedStorage_ReadThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingStorage{Storage: NewMemoryStorage()}
	s := NewCachedStorage(inner, cache.NewMemoryCache(), time.Minute)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "theme", prefstore.StringValue("dark")))

	for i := 0; i < 3; i++ {
		got, err := s.Get(ctx, "theme")
		require.NoError(t, err)
		assert.Equal(t, prefstore.StringValue("dark"), got)
	}
	assert.Equal(t, 1, inner.gets)

	require.NoError(t, s.Set(ctx, "theme", prefstore.StringValue("light")))
	got, err := s.Get(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, prefstore.StringValue("light"), got)
	assert.Equal(t, 2, inner.gets)
}

func TestCachedStorage_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingStorage{Storage: NewMemoryStorage()}
	s := NewCachedStorage(inner, cache.NewMemoryCache(), time.Minute)
	defer s.Close()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, prefstore.ErrNotFound)
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, prefstore.ErrNotFound)
	assert.Equal(t, 2, inner.gets)
}

func TestCachedStorage_InvalidatesOnExternalEvents(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStorage()
	s := NewCachedStorage(inner, cache.NewMemoryCache(), time.Minute)
	defer s.Close()

	rec := newEventRecorder()
	stop, err := s.Listen(ctx, rec.listen)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, s.Set(ctx, "theme", prefstore.StringValue("dark")))
	rec.next(t)
	_, err = s.Get(ctx, "theme")
	require.NoError(t, err)

	// A write that bypasses the cache, as another process would make.
	require.NoError(t, inner.Set(ctx, "theme", prefstore.StringValue("light")))
	assert.Equal(t, prefstore.KeyChanged("theme"), rec.next(t))

	got, err := s.Get(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, prefstore.StringValue("light"), got)

	require.NoError(t, inner.Clear(ctx))
	assert.Equal(t, prefstore.AllChanged(), rec.next(t))
	_, err = s.Get(ctx, "theme")
	assert.ErrorIs(t, err, prefstore.ErrNotFound)
}

func TestCachedStorage_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewCachedStorage(NewMemoryStorage(), cache.NewMemoryCache(), 0)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "a", prefstore.IntValue(1)))
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, prefstore.ErrNotFound)
}

func TestCachedStorage_WriteDuringMissIsNotShadowed(t *testing.T) {
	ctx := context.Background()
	inner := newPausingStorage(NewMemoryStorage())
	require.NoError(t, inner.Set(ctx, "k", prefstore.StringValue("old")))
	s := NewCachedStorage(inner, cache.NewMemoryCache(), 0)
	defer s.Close()

	inner.armed.Store(true)
	done := make(chan prefstore.Value, 1)
	go func() {
		v, _ := s.Get(ctx, "k")
		done <- v
	}()

	<-inner.read
	require.NoError(t, s.Set(ctx, "k", prefstore.StringValue("new")))
	close(inner.release)
	assert.Equal(t, prefstore.StringValue("old"), <-done)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, prefstore.StringValue("new"), got)
}

func TestCachedStorage_WriteDuringFillIsNotShadowed(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStorage()
	require.NoError(t, inner.Set(ctx, "k", prefstore.StringValue("old")))
	c := &pausingCache{Cache: cache.NewMemoryCache(), entered: make(chan struct{}), release: make(chan struct{})}
	s := NewCachedStorage(inner, c, 0)
	defer s.Close()

	c.armed.Store(true)
	read := make(chan struct{})
	go func() {
		_, _ = s.Get(ctx, "k")
		close(read)
	}()
	<-c.entered

	written := make(chan error, 1)
	go func() {
		written <- s.Set(ctx, "k", prefstore.StringValue("new"))
	}()
	require.Eventually(t, func() bool {
		v, err := inner.Get(ctx, "k")
		return err == nil && v.Str == "new"
	}, waitTimeout, 5*time.Millisecond)

	close(c.release)
	<-read
	require.NoError(t, <-written)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, prefstore.StringValue("new"), got)
}

func TestCachedStorage_ClearDuringMissIsNotShadowed(t *testing.T) {
	ctx := context.Background()
	inner := newPausingStorage(NewMemoryStorage())
	require.NoError(t, inner.Set(ctx, "k", prefstore.StringValue("old")))
	s := NewCachedStorage(inner, cache.NewMemoryCache(), 0)
	defer s.Close()

	inner.armed.Store(true)
	done := make(chan struct{})
	go func() {
		_, _ = s.Get(ctx, "k")
		close(done)
	}()

	<-inner.read
	require.NoError(t, s.Clear(ctx))
	close(inner.release)
	<-done

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, prefstore.ErrNotFound)
}
