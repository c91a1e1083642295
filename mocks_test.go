package prefstore

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// MockStorage implements the Storage interface for testing.
type MockStorage struct {
	mu          sync.Mutex
	data        map[string]Value
	listeners   map[int]ListenFunc
	nextID      int
	listenCalls int
	closed      bool
	failErr     error
	listenErr   error
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		data:      make(map[string]Value),
		listeners: make(map[int]ListenFunc),
	}
}

func (m *MockStorage) Get(ctx context.Context, key string) (Value, error) {
	_, _ = ctx.Deadline()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailableLocked(); err != nil {
		return Value{}, err
	}
	v, ok := m.data[key]
	if !ok {
		return Value{}, ErrNotFound
	}
	return v, nil
}

func (m *MockStorage) Set(ctx context.Context, key string, value Value) error {
	_, _ = ctx.Deadline()
	m.mu.Lock()
	if err := m.unavailableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.data[key] = value
	m.mu.Unlock()
	m.notify(KeyChanged(key))
	return nil
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	_, _ = ctx.Deadline()
	m.mu.Lock()
	if err := m.unavailableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.data, key)
	m.mu.Unlock()
	m.notify(KeyChanged(key))
	return nil
}

func (m *MockStorage) Contains(ctx context.Context, key string) (bool, error) {
	_, _ = ctx.Deadline()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailableLocked(); err != nil {
		return false, err
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *MockStorage) Keys(ctx context.Context) ([]string, error) {
	_, _ = ctx.Deadline()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unavailableLocked(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MockStorage) Clear(ctx context.Context) error {
	_, _ = ctx.Deadline()
	m.mu.Lock()
	if err := m.unavailableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.data = make(map[string]Value)
	m.mu.Unlock()
	m.notify(AllChanged())
	return nil
}

func (m *MockStorage) Listen(_ context.Context, fn ListenFunc) (StopFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listenErr != nil {
		return nil, m.listenErr
	}
	m.listenCalls++
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
		return nil
	}, nil
}

func (m *MockStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// putRaw writes a value directly, as an external writer would, and raises the change.
func (m *MockStorage) putRaw(key string, v Value) {
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	m.notify(KeyChanged(key))
}

// fail makes every operation return err and raises a terminal event.
func (m *MockStorage) fail(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
	m.notify(StorageFailed(err))
}

func (m *MockStorage) listenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *MockStorage) listenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listenCalls
}

func (m *MockStorage) unavailableLocked() error {
	if m.closed {
		return ErrStorageUnavailable
	}
	return m.failErr
}

func (m *MockStorage) notify(ev ChangeEvent) {
	m.mu.Lock()
	fns := make([]ListenFunc, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// MockLogger discards everything.
type MockLogger struct{}

func (l *MockLogger) Debug(string, ...any) {}
func (l *MockLogger) Info(string, ...any)  {}
func (l *MockLogger) Warn(string, ...any)  {}
func (l *MockLogger) Error(string, ...any) {}
func (l *MockLogger) SetLevel(LogLevel)    {}

func newTestStore(t *testing.T) (*Store, *MockStorage) {
	t.Helper()
	storage := NewMockStorage()
	store, err := New(WithStorage(storage), WithLogger(&MockLogger{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, storage
}

const waitTimeout = 2 * time.Second

func receive[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-c:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func expectNothing[T any](t *testing.T, c <-chan T, d time.Duration) {
	t.Helper()
	select {
	case v, ok := <-c:
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
		t.Fatal("channel closed unexpectedly")
	case <-time.After(d):
	}
}

func expectClosed[T any](t *testing.T, c <-chan T) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel to close")
		}
	}
}
