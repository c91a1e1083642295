package prefstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ChangeBus fans the change notifications of one Storage out to any number of
// independent subscriptions while keeping a single native listener registered.
//
// The listener is registered when the first subscription is opened and released
// when the last one is closed. Every event that passes through the bus is stamped
// with a monotonically increasing sequence number.
type ChangeBus struct {
	storage Storage
	logger  Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	gen    uint64
	seq    uint64
	stop   StopFunc
	cancel context.CancelFunc
	closed bool
}

func newChangeBus(storage Storage, logger Logger) *ChangeBus {
	return &ChangeBus{
		storage: storage,
		logger:  logger,
		subs:    make(map[uint64]*Subscription),
	}
}

// Subscribe opens a new subscription. When keys are given, only events for those keys
// (plus All and failure events) are queued for it.
func (b *ChangeBus) Subscribe(keys ...string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.stop == nil {
		if err := b.acquireLocked(); err != nil {
			return nil, err
		}
	}

	b.nextID++
	sub := newSubscription(b, b.nextID, keys)
	b.subs[sub.id] = sub
	go sub.run()
	return sub, nil
}

// Seq returns the sequence number of the most recent event dispatched by the bus.
func (b *ChangeBus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Listening reports whether the native storage listener is currently registered.
func (b *ChangeBus) Listening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop != nil
}

// Subscribers returns the number of open subscriptions.
func (b *ChangeBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close fails every open subscription with ErrClosed and releases the storage listener.
// Subsequent calls to Subscribe return ErrClosed.
func (b *ChangeBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	release := b.releaseLocked()
	b.mu.Unlock()

	for _, s := range subs {
		s.fail(ErrClosed)
	}
	if release != nil {
		release()
	}
	return nil
}

func (b *ChangeBus) acquireLocked() error {
	b.gen++
	gen := b.gen

	ctx, cancel := context.WithCancel(context.Background())
	stop, err := b.storage.Listen(ctx, func(ev ChangeEvent) {
		b.dispatch(gen, ev)
	})
	if err != nil {
		cancel()
		return unavailable(err)
	}

	b.stop = stop
	b.cancel = cancel
	b.logger.Debug("change listener registered", "generation", gen)
	return nil
}

// releaseLocked detaches the current listener and returns the function that unregisters it.
// The returned function must be called without holding b.mu.
func (b *ChangeBus) releaseLocked() func() {
	stop, cancel, gen := b.stop, b.cancel, b.gen
	b.stop, b.cancel = nil, nil
	if stop == nil {
		return nil
	}
	return func() {
		if err := stop(); err != nil {
			b.logger.Warn("failed to release change listener", "generation", gen, "error", err)
		}
		cancel()
		b.logger.Debug("change listener released", "generation", gen)
	}
}

func (b *ChangeBus) dispatch(gen uint64, ev ChangeEvent) {
	b.mu.Lock()
	if gen != b.gen || b.stop == nil {
		b.mu.Unlock()
		return
	}

	if ev.Err != nil {
		subs := b.subs
		b.subs = make(map[uint64]*Subscription)
		release := b.releaseLocked()
		b.mu.Unlock()

		b.logger.Error("storage change feed failed", "error", ev.Err, "subscribers", len(subs))
		err := unavailable(ev.Err)
		for _, s := range subs {
			s.fail(err)
		}
		// The storage may be waiting on this callback; unregister asynchronously.
		if release != nil {
			go release()
		}
		return
	}

	b.seq++
	ev.seq = b.seq
	for _, s := range b.subs {
		s.push(ev)
	}
	b.mu.Unlock()
}

func (b *ChangeBus) detach(id uint64) {
	b.mu.Lock()
	if _, ok := b.subs[id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, id)
	var release func()
	if len(b.subs) == 0 {
		release = b.releaseLocked()
	}
	b.mu.Unlock()

	if release != nil {
		release()
	}
}

// Subscription is one logical consumer of a ChangeBus.
//
// Events are queued per key: while an event for a key is still waiting to be
// delivered, later events for the same key replace it, and an All event replaces
// everything queued. Delivery happens on the subscription's own goroutine.
type Subscription struct {
	id   uint64
	bus  *ChangeBus
	keys map[string]struct{}

	mu      sync.Mutex
	pending []ChangeEvent
	failed  bool
	err     error

	signal chan struct{}
	events chan ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func newSubscription(bus *ChangeBus, id uint64, keys []string) *Subscription {
	s := &Subscription{
		id:     id,
		bus:    bus,
		signal: make(chan struct{}, 1),
		events: make(chan ChangeEvent),
		done:   make(chan struct{}),
	}
	if len(keys) > 0 {
		s.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			s.keys[k] = struct{}{}
		}
	}
	return s
}

// Events returns the delivery channel. It is closed after Close or a terminal failure.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.events
}

// Err returns the terminal error once Events has been closed because of a failure.
// It returns nil when the subscription was closed by its owner.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscription. Closing the last subscription releases the storage listener.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.detach(s.id)
	})
}

func (s *Subscription) accepts(ev ChangeEvent) bool {
	if s.keys == nil || ev.All {
		return true
	}
	_, ok := s.keys[ev.Key]
	return ok
}

func (s *Subscription) push(ev ChangeEvent) {
	if !s.accepts(ev) {
		return
	}
	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return
	}
	s.pending = conflate(s.pending, ev)
	s.mu.Unlock()
	s.wake()
}

func conflate(pending []ChangeEvent, ev ChangeEvent) []ChangeEvent {
	if ev.All {
		return append(pending[:0], ev)
	}
	for i := range pending {
		if pending[i].All || pending[i].Key == ev.Key {
			pending[i].seq = ev.seq
			return pending
		}
	}
	return append(pending, ev)
}

// discardThrough drops queued events whose sequence number is at most seq.
func (s *Subscription) discardThrough(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	for _, ev := range s.pending {
		if ev.seq > seq {
			kept = append(kept, ev)
		}
	}
	s.pending = kept
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	s.err = err
	s.pending = nil
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (ev ChangeEvent, ok bool, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return ChangeEvent{}, false, true
	}
	if len(s.pending) == 0 {
		return ChangeEvent{}, false, false
	}
	ev = s.pending[0]
	s.pending = s.pending[1:]
	return ev, true, false
}

func (s *Subscription) run() {
	defer close(s.events)
	for {
		select {
		case <-s.signal:
		case <-s.done:
			return
		}
		for {
			ev, ok, failed := s.next()
			if failed {
				return
			}
			if !ok {
				break
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func unavailable(err error) error {
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
