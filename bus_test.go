package prefstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeBus_FanOut(t *testing.T) {
	storage := NewMockStorage()
	bus := newChangeBus(storage, &MockLogger{})
	defer bus.Close()

	s1, err := bus.Subscribe()
	require.NoError(t, err)
	defer s1.Close()
	s2, err := bus.Subscribe()
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, 2, bus.Subscribers())
	assert.Equal(t, 1, storage.listenerCount())

	require.NoError(t, storage.Set(context.Background(), "a", StringValue("x")))

	ev1 := receive(t, s1.Events())
	ev2 := receive(t, s2.Events())
	assert.Equal(t, "a", ev1.Key)
	assert.Equal(t, "a", ev2.Key)
	assert.Equal(t, ev1.Seq(), ev2.Seq())
	assert.Equal(t, ev1.Seq(), bus.Seq())
}

func TestChangeBus_KeyFilter(t *testing.T) {
	storage := NewMockStorage()
	bus := newChangeBus(storage, &MockLogger{})
	defer bus.Close()

	sub, err := bus.Subscribe("a")
	require.NoError(t, err)
	defer sub.Close()

	ctx := context.Background()
	require.NoError(t, storage.Set(ctx, "b", BoolValue(true)))
	expectNothing(t, sub.Events(), 50*time.Millisecond)

	require.NoError(t, storage.Clear(ctx))
	ev := receive(t, sub.Events())
	assert.True(t, ev.All)
	assert.True(t, ev.Matches("a"))
	assert.True(t, ev.Matches("anything"))
}

func TestChangeBus_Conflation(t *testing.T) {
	storage := NewMockStorage()
	bus := newChangeBus(storage, &MockLogger{})
	defer bus.Close()

	sub, err := bus.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, storage.Set(ctx, "a", IntValue(int64(i))))
	}
	require.NoError(t, storage.Set(ctx, "b", IntValue(1)))
	final := bus.Seq()

	// The delivery goroutine may already hold the first "a" event; everything
	// after it collapses into one pending "a" plus one "b".
	var got []ChangeEvent
	deadline := time.After(waitTimeout)
	for len(got) == 0 || got[len(got)-1].Key != "b" {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out, got %d events", len(got))
		}
	}
	assert.LessOrEqual(t, len(got), 3)
	var lastA uint64
	for _, ev := range got {
		if ev.Key == "a" {
			lastA = ev.Seq()
		}
	}
	assert.Equal(t, final-1, lastA, "pending event must carry the latest sequence for its key")
	expectNothing(t, sub.Events(), 50*time.Millisecond)
}

func TestConflate(t *testing.T) {
	pending := conflate(nil, ChangeEvent{Key: "a", seq: 1})
	pending = conflate(pending, ChangeEvent{Key: "b", seq: 2})
	pending = conflate(pending, ChangeEvent{Key: "a", seq: 3})
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Key)
	assert.Equal(t, uint64(3), pending[0].seq)

	pending = conflate(pending, ChangeEvent{All: true, seq: 4})
	require.Len(t, pending, 1)
	assert.True(t, pending[0].All)

	pending = conflate(pending, ChangeEvent{Key: "c", seq: 5})
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(5), pending[0].seq)
}

func TestSubscription_DiscardThrough(t *testing.T) {
	storage := NewMockStorage()
	bus := newChangeBus(storage, &MockLogger{})
	defer bus.Close()

	sub := newSubscription(bus, 99, nil)
	sub.pending = []ChangeEvent{{Key: "a", seq: 2}, {Key: "b", seq: 5}, {Key: "c", seq: 3}}
	sub.discardThrough(3)
	require.Len(t, sub.pending, 1)
	assert.Equal(t, "b", sub.pending[0].Key)
}

func TestChangeBus_ListenFailure(t *testing.T) {
	storage := NewMockStorage()
	storage.listenErr = errors.New("no notifications")
	bus := newChangeBus(storage, &MockLogger{})

	_, err := bus.Subscribe()
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.False(t, bus.Listening())
	assert.Equal(t, 0, bus.Subscribers())
}

func TestChangeBus_TerminalFailureThenResubscribe(t *testing.T) {
	storage := NewMockStorage()
	bus := newChangeBus(storage, &MockLogger{})
	defer bus.Close()

	sub, err := bus.Subscribe()
	require.NoError(t, err)

	storage.notify(StorageFailed(errors.New("broken pipe")))
	expectClosed(t, sub.Events())
	assert.ErrorIs(t, sub.Err(), ErrStorageUnavailable)
	sub.Close()

	require.Eventually(t, func() bool { return storage.listenerCount() == 0 }, waitTimeout, 5*time.Millisecond)

	again, err := bus.Subscribe()
	require.NoError(t, err)
	defer again.Close()
	require.NoError(t, storage.Set(context.Background(), "k", StringValue("v")))
	assert.Equal(t, "k", receive(t, again.Events()).Key)
}

func TestChangeBus_Close(t *testing.T) {
	storage := NewMockStorage()
	bus := newChangeBus(storage, &MockLogger{})

	sub, err := bus.Subscribe()
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	expectClosed(t, sub.Events())
	assert.ErrorIs(t, sub.Err(), ErrClosed)
	assert.Equal(t, 0, storage.listenerCount())

	_, err = bus.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, bus.Close())
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	storage := NewMockStorage()
	bus := newChangeBus(storage, &MockLogger{})
	defer bus.Close()

	sub, err := bus.Subscribe()
	require.NoError(t, err)
	sub.Close()
	sub.Close()
	expectClosed(t, sub.Events())
	assert.NoError(t, sub.Err())
	assert.False(t, bus.Listening())
}
