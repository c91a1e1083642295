// Package storage provides the physical backends of a prefstore.Store.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/CreativeUnicorns/prefstore"
)

// Option configures a storage backend.
type Option func(*options)

type options struct {
	logger prefstore.Logger
}

// WithLogger sets the logger used by a backend for non-fatal problems.
func WithLogger(l prefstore.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: prefstore.NewDefaultLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// listenerSet is the in-process listener registry of backends that raise their own change events.
type listenerSet struct {
	mu     sync.Mutex
	fns    map[uint64]prefstore.ListenFunc
	nextID uint64
}

func (l *listenerSet) add(fn prefstore.ListenFunc) prefstore.StopFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[uint64]prefstore.ListenFunc)
	}
	l.nextID++
	id := l.nextID
	l.fns[id] = fn

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
		return nil
	}
}

func (l *listenerSet) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// notify calls every listener outside the registry lock.
func (l *listenerSet) notify(ev prefstore.ChangeEvent) {
	l.mu.Lock()
	fns := make([]prefstore.ListenFunc, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// unmarshalNumbers decodes a single JSON document into dst, keeping numbers as
// json.Number so int64 payloads round-trip exactly.
func unmarshalNumbers(data []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after JSON document")
	}
	return nil
}
