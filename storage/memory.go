package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/CreativeUnicorns/prefstore"
)

// MemoryStorage implements prefstore.Storage using an in-memory map.
// This is useful for testing or for preferences that need not survive the process.
type MemoryStorage struct {
	mu        sync.RWMutex
	values    map[string]prefstore.Value
	closed    bool
	listeners listenerSet
}

// NewMemoryStorage creates a new instance of MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: make(map[string]prefstore.Value),
	}
}

// Get returns prefstore.ErrNotFound if nothing is stored under key.
func (s *MemoryStorage) Get(_ context.Context, key string) (prefstore.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return prefstore.Value{}, prefstore.ErrStorageUnavailable
	}
	v, ok := s.values[key]
	if !ok {
		return prefstore.Value{}, prefstore.ErrNotFound
	}
	return cloneValue(v), nil
}

// Set stores value under key and notifies listeners once the lock is released.
func (s *MemoryStorage) Set(_ context.Context, key string, value prefstore.Value) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return prefstore.ErrStorageUnavailable
	}
	s.values[key] = cloneValue(value)
	s.mu.Unlock()

	s.listeners.notify(prefstore.KeyChanged(key))
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return prefstore.ErrStorageUnavailable
	}
	delete(s.values, key)
	s.mu.Unlock()

	s.listeners.notify(prefstore.KeyChanged(key))
	return nil
}

// Contains reports whether a value is stored under key.
func (s *MemoryStorage) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, prefstore.ErrStorageUnavailable
	}
	_, ok := s.values[key]
	return ok, nil
}

// Keys returns the stored keys in ascending order.
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, prefstore.ErrStorageUnavailable
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every value and raises a single All event.
func (s *MemoryStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return prefstore.ErrStorageUnavailable
	}
	s.values = make(map[string]prefstore.Value)
	s.mu.Unlock()

	s.listeners.notify(prefstore.AllChanged())
	return nil
}

// Listen registers fn for change events.
func (s *MemoryStorage) Listen(_ context.Context, fn prefstore.ListenFunc) (prefstore.StopFunc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, prefstore.ErrStorageUnavailable
	}
	return s.listeners.add(fn), nil
}

// Close makes every further operation fail with prefstore.ErrStorageUnavailable.
// Listeners still registered receive a terminal event. Close is idempotent.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.listeners.notify(prefstore.StorageFailed(prefstore.ErrStorageUnavailable))
	return nil
}

func cloneValue(v prefstore.Value) prefstore.Value {
	v.Set = slices.Clone(v.Set)
	return v
}
