package prefstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Preference is a typed handle to a single key of a Store.
//
// A Preference holds no resources of its own and may be copied or dropped freely.
// Handles created for the same key share the store's ChangeBus, so a write through
// one is observed by the Changes streams of all others.
type Preference[T any] struct {
	key   string
	def   T
	codec Codec[T]
	store *Store
}

func newPreference[T any](store *Store, key string, def T, codec Codec[T]) *Preference[T] {
	return &Preference[T]{
		key:   key,
		def:   def,
		codec: codec,
		store: store,
	}
}

// Key returns the storage key of the preference.
func (p *Preference[T]) Key() string {
	return p.key
}

// DefaultValue returns the value reported when nothing is stored.
func (p *Preference[T]) DefaultValue() T {
	return p.def
}

// Get returns the stored value, or the default when the key is absent or its stored
// value cannot be decoded. Only storage failures are returned as errors.
func (p *Preference[T]) Get(ctx context.Context) (T, error) {
	if p.key == "" {
		return p.def, ErrInvalidKey
	}

	raw, err := p.store.storage.Get(ctx, p.key)
	if errors.Is(err, ErrNotFound) {
		return p.def, nil
	}
	if errors.Is(err, ErrDecode) {
		p.store.logger.Warn("Failed to read stored preference, using default", "key", p.key, "error", err)
		return p.def, nil
	}
	if err != nil {
		return p.def, unavailable(err)
	}

	v, err := p.codec.Decode(raw)
	if err != nil {
		p.store.logger.Warn("Failed to decode stored preference, using default", "key", p.key, "kind", raw.Kind, "error", err)
		return p.def, nil
	}
	return v, nil
}

// Set encodes value and writes it to storage. Encoding failures wrap ErrEncode and
// storage failures wrap ErrStorageUnavailable.
func (p *Preference[T]) Set(ctx context.Context, value T) error {
	if p.key == "" {
		return ErrInvalidKey
	}

	raw, err := p.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: key %q: %w", ErrEncode, p.key, err)
	}
	if !raw.Kind.Valid() {
		return fmt.Errorf("%w: key %q: %w: %q", ErrEncode, p.key, ErrInvalidKind, raw.Kind)
	}

	if err := p.store.storage.Set(ctx, p.key, raw); err != nil {
		if errors.Is(err, ErrEncode) {
			return err
		}
		return unavailable(err)
	}
	p.store.logger.Debug("Preference set", "key", p.key, "kind", raw.Kind)
	return nil
}

// IsSet reports whether a value is stored under the key, regardless of whether it equals the default.
func (p *Preference[T]) IsSet(ctx context.Context) (bool, error) {
	if p.key == "" {
		return false, ErrInvalidKey
	}
	ok, err := p.store.storage.Contains(ctx, p.key)
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// Delete removes the stored value. Subsequent reads return the default.
func (p *Preference[T]) Delete(ctx context.Context) error {
	if p.key == "" {
		return ErrInvalidKey
	}
	if err := p.store.storage.Delete(ctx, p.key); err != nil {
		return unavailable(err)
	}
	p.store.logger.Debug("Preference deleted", "key", p.key)
	return nil
}

// Changes opens a stream of the preference's values.
//
// The current value is buffered in the stream before Changes returns, so the first
// receive never waits for a write. The subscription is attached before that value is
// read: events raised before the read are dropped because the read already reflects
// them, and events raised during or after it cause a fresh read and emission.
// The stream ends when ctx is done, when Close is called, or when storage fails.
func (p *Preference[T]) Changes(ctx context.Context) (*Stream[T], error) {
	if p.key == "" {
		return nil, ErrInvalidKey
	}

	sub, err := p.store.bus.Subscribe(p.key)
	if err != nil {
		return nil, err
	}
	seq := p.store.bus.Seq()

	current, err := p.Get(ctx)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.discardThrough(seq)

	st := &Stream[T]{
		c:    make(chan T, 1),
		done: make(chan struct{}),
	}
	st.c <- current
	go st.run(ctx, p, sub, seq)
	return st, nil
}

// State returns a cell that tracks the preference's current value until ctx is done.
func (p *Preference[T]) State(ctx context.Context) (*State[T], error) {
	stream, err := p.Changes(ctx)
	if err != nil {
		return nil, err
	}
	// The ignition value is already buffered.
	initial := <-stream.C()

	st := &State[T]{
		cell: NewCell(initial),
		done: make(chan struct{}),
	}
	go st.track(stream)
	return st, nil
}

// Stream delivers successive values of a Preference.
type Stream[T any] struct {
	c    chan T
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// C returns the value channel. It is closed when the stream ends.
func (s *Stream[T]) C() <-chan T {
	return s.c
}

// Err returns the storage failure that ended the stream, or nil if it ended by
// cancellation or Close.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and detaches it from the ChangeBus.
func (s *Stream[T]) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Stream[T]) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// run re-reads and emits on every matching event newer than ignition, the bus
// sequence the current value was read after.
func (s *Stream[T]) run(ctx context.Context, p *Preference[T], sub *Subscription, ignition uint64) {
	defer close(s.c)
	defer sub.Close()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				s.setErr(sub.Err())
				return
			}
			if !ev.Matches(p.key) || ev.Seq() <= ignition {
				continue
			}
			v, err := p.Get(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.setErr(err)
				}
				return
			}
			select {
			case s.c <- v:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// State is a current-value cell bound to a lifetime. It is created by Preference.State.
type State[T any] struct {
	cell *Cell[T]
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Get returns the latest observed value.
func (s *State[T]) Get() T {
	return s.cell.Get()
}

// Subscribe registers fn to be called with every new value. It returns an unsubscribe function.
func (s *State[T]) Subscribe(fn func(T)) func() {
	return s.cell.Subscribe(fn)
}

// Done is closed once the state stops tracking changes.
func (s *State[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the storage failure that stopped tracking, if any.
func (s *State[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *State[T]) track(stream *Stream[T]) {
	defer close(s.done)
	for v := range stream.C() {
		s.cell.Set(v)
	}
	s.mu.Lock()
	s.err = stream.Err()
	s.mu.Unlock()
}
