// Package prefstore defines the storage collaborator interface used by the preference store.
package prefstore

import (
	"context"
)

// ListenFunc receives change notifications from a Storage backend.
type ListenFunc func(ChangeEvent)

// StopFunc unregisters a listener. It is safe to call more than once.
type StopFunc func() error

// Storage defines the methods required for a physical storage backend.
//
// Get returns ErrNotFound when no value is stored under key. Listen registers fn to be
// called after every committed Set, Delete and Clear (and, for shared backends, for
// changes made by other processes). Listeners are never called while the backend holds
// its own locks. A backend that becomes unavailable calls fn with StorageFailed and
// raises no further events on that registration.
type Storage interface {
	Get(ctx context.Context, key string) (Value, error)
	Set(ctx context.Context, key string, value Value) error
	Delete(ctx context.Context, key string) error
	Contains(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Listen(ctx context.Context, fn ListenFunc) (StopFunc, error)
	Close() error
}
