package prefstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("requires_storage", func(t *testing.T) {
		_, err := New(WithLogger(&MockLogger{}))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("default_logger", func(t *testing.T) {
		store, err := New(WithStorage(NewMockStorage()))
		require.NoError(t, err)
		defer store.Close()
		assert.NotNil(t, store.Logger())
		assert.False(t, store.Bus().Listening())
	})
}

func TestStore_KeysAndClear(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.String("b", "").Set(ctx, "x"))
	require.NoError(t, store.Bool("a", false).Set(ctx, true))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, store.Clear(ctx))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_Close(t *testing.T) {
	storage := NewMockStorage()
	store, err := New(WithStorage(storage), WithLogger(&MockLogger{}))
	require.NoError(t, err)
	ctx := context.Background()

	stream, err := store.String("k", "v").Changes(ctx)
	require.NoError(t, err)
	receive(t, stream.C())

	require.NoError(t, store.Close())
	expectClosed(t, stream.C())
	assert.ErrorIs(t, stream.Err(), ErrClosed)
	assert.True(t, storage.closed)
	assert.Equal(t, 0, storage.listenerCount())

	require.NoError(t, store.Close())

	_, err = store.String("k", "v").Changes(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.String("k", "v").Get(ctx)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestStore_FactoriesAreEquivalent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	p1 := Enum(store, "theme", ThemeSystem, ThemeLight, ThemeDark)
	p2 := Enum(store, "theme", ThemeSystem, ThemeLight, ThemeDark)
	assert.NotSame(t, p1, p2)
	assert.Equal(t, p1.Key(), p2.Key())
	assert.Equal(t, p1.DefaultValue(), p2.DefaultValue())

	require.NoError(t, p1.Set(ctx, ThemeDark))
	got, err := p2.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, got)
}

func TestStore_ThemeCorruptionScenario(t *testing.T) {
	store, storage := newTestStore(t)
	ctx := context.Background()

	theme := Object(store, "theme", ThemeSystem, func(t Theme) (string, error) { return t.String(), nil }, parseTheme)
	stream, err := theme.Changes(ctx)
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, ThemeSystem, receive(t, stream.C()))

	require.NoError(t, theme.Set(ctx, ThemeLight))
	assert.Equal(t, ThemeLight, receive(t, stream.C()))

	storage.putRaw("theme", StringValue("NOT_A_THEME"))
	assert.Equal(t, ThemeSystem, receive(t, stream.C()))

	got, err := theme.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeSystem, got)
}

func TestStore_JSONAndCustom(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	type window struct {
		Width  int  `json:"width"`
		Height int  `json:"height"`
		Max    bool `json:"max"`
	}
	p := JSON(store, "window", window{Width: 800, Height: 600})
	got, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, window{Width: 800, Height: 600}, got)

	require.NoError(t, p.Set(ctx, window{Width: 1920, Height: 1080, Max: true}))
	got, err = p.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, window{Width: 1920, Height: 1080, Max: true}, got)

	upper := Custom(store, "shout", "", Codec[string]{
		Encode: func(s string) (Value, error) { return StringValue(s + "!"), nil },
		Decode: StringCodec().Decode,
	})
	require.NoError(t, upper.Set(ctx, "hey"))
	v, err := upper.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hey!", v)
}

func TestStore_Raw(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	p := store.Raw("limit", IntValue(10))
	assert.ErrorIs(t, p.Set(ctx, StringValue("ten")), ErrEncode)
	require.NoError(t, p.Set(ctx, IntValue(20)))
	got, err := p.Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(IntValue(20)))
}
