package prefstore

import (
	"sync"
	"sync/atomic"
)

// listener wraps a callback function with a unique ID for reliable unsubscription.
type listener[T any] struct {
	id uint64
	fn func(T)
}

// Cell holds a value and notifies subscribers when it changes.
// Reads are lock-free; the Cell pointer stays valid while the value changes.
type Cell[T any] struct {
	value     atomic.Pointer[T]
	listeners []listener[T]
	nextID    uint64
	mu        sync.RWMutex
}

// NewCell creates a Cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	c := &Cell[T]{nextID: 1}
	c.value.Store(&initial)
	return c
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	return *c.value.Load()
}

// Set stores v and calls subscribers synchronously in registration order.
func (c *Cell[T]) Set(v T) {
	c.value.Store(&v)

	// Snapshot so listeners may unsubscribe from within the callback.
	c.mu.RLock()
	listeners := append([]listener[T](nil), c.listeners...)
	c.mu.RUnlock()

	for _, l := range listeners {
		l.fn(v)
	}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call multiple times.
func (c *Cell[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener[T]{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}
