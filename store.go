// store.go
package prefstore

import (
	"context"
	"sync"
)

// Store is the single construction point for Preference handles over one Storage.
// It owns the storage and the ChangeBus shared by every handle it creates.
type Store struct {
	config  *Config
	storage Storage
	logger  Logger
	bus     *ChangeBus

	mu          sync.RWMutex
	definitions map[string]Definition

	closeOnce sync.Once
	closeErr  error
}

// New creates a Store. WithStorage is required; ErrInvalidInput is returned without it.
// No storage listener is registered until the first Changes subscription.
func New(opts ...Option) (*Store, error) {
	cfg := &Config{
		logger: NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.storage == nil {
		return nil, ErrInvalidInput
	}

	return &Store{
		config:      cfg,
		storage:     cfg.storage,
		logger:      cfg.logger,
		bus:         newChangeBus(cfg.storage, cfg.logger),
		definitions: make(map[string]Definition),
	}, nil
}

// Bus returns the store's shared ChangeBus.
func (s *Store) Bus() *ChangeBus {
	return s.bus
}

// Logger returns the store's Logger.
func (s *Store) Logger() Logger {
	return s.logger
}

// String returns a string preference.
func (s *Store) String(key, def string) *Preference[string] {
	return newPreference(s, key, def, StringCodec())
}

// Bool returns a boolean preference.
func (s *Store) Bool(key string, def bool) *Preference[bool] {
	return newPreference(s, key, def, BoolCodec())
}

// Int returns an int preference.
func (s *Store) Int(key string, def int) *Preference[int] {
	return newPreference(s, key, def, IntCodec())
}

// Int64 returns an int64 preference.
func (s *Store) Int64(key string, def int64) *Preference[int64] {
	return newPreference(s, key, def, Int64Codec())
}

// Float returns a float64 preference.
func (s *Store) Float(key string, def float64) *Preference[float64] {
	return newPreference(s, key, def, FloatCodec())
}

// StringSet returns a string-set preference. Values read back are sorted and de-duplicated.
func (s *Store) StringSet(key string, def []string) *Preference[[]string] {
	return newPreference(s, key, def, StringSetCodec())
}

// Raw returns an untyped preference of def's kind.
func (s *Store) Raw(key string, def Value) *Preference[Value] {
	return newPreference(s, key, def, RawCodec(def.Kind))
}

// Object returns a preference for an arbitrary T stored as the string produced by serialize.
// Stored strings that deserialize rejects read as def.
func Object[T any](s *Store, key string, def T, serialize func(T) (string, error), deserialize func(string) (T, error)) *Preference[T] {
	return newPreference(s, key, def, ObjectCodec(serialize, deserialize))
}

// JSON returns a preference for T stored as JSON.
func JSON[T any](s *Store, key string, def T) *Preference[T] {
	return newPreference(s, key, def, JSONCodec[T]())
}

// Enum returns a preference restricted to values, stored by name.
// The default is always accepted even if it is not listed.
func Enum[T Named](s *Store, key string, def T, values ...T) *Preference[T] {
	return newPreference(s, key, def, EnumCodec(append([]T{def}, values...)...))
}

// Custom returns a preference using an explicit codec.
func Custom[T any](s *Store, key string, def T, codec Codec[T]) *Preference[T] {
	return newPreference(s, key, def, codec)
}

// Keys lists every key that has a stored value.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.storage.Keys(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return keys, nil
}

// Clear removes every stored value. Observers of all keys re-read their values.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.storage.Clear(ctx); err != nil {
		return unavailable(err)
	}
	s.logger.Info("Preferences cleared")
	return nil
}

// Close fails open change streams with ErrClosed, releases the storage listener and
// closes the storage. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		_ = s.bus.Close()
		s.closeErr = s.storage.Close()
		if s.closeErr != nil {
			s.logger.Error("Failed to close storage", "error", s.closeErr)
		}
	})
	return s.closeErr
}
