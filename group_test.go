package prefstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appearance struct{ *Group }

func (a appearance) DarkMode() *Preference[bool] { return a.Bool("dark_mode", false) }
func (a appearance) Theme() *Preference[Theme] {
	return GroupEnum(a.Group, "theme", ThemeSystem, ThemeLight, ThemeDark)
}
func (a appearance) FontScale() *Preference[float64] { return a.Float("font_scale", 1) }

func TestGroup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ui := appearance{NewGroup(store, "ui")}
	assert.Equal(t, "ui", ui.Name())
	assert.Same(t, store, ui.Store())
	assert.Equal(t, "ui.dark_mode", ui.DarkMode().Key())
	assert.Equal(t, "ui.theme", ui.Theme().Key())

	require.NoError(t, ui.DarkMode().Set(ctx, true))
	direct, err := store.Bool("ui.dark_mode", false).Get(ctx)
	require.NoError(t, err)
	assert.True(t, direct)

	require.NoError(t, ui.Theme().Set(ctx, ThemeLight))
	theme, err := ui.Theme().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, theme)

	root := NewGroup(store, "")
	assert.Equal(t, "plain", root.Key("plain"))

	type layout struct {
		Columns int `json:"columns"`
	}
	l := GroupJSON(ui.Group, "layout", layout{Columns: 2})
	assert.Equal(t, "ui.layout", l.Key())
	require.NoError(t, l.Set(ctx, layout{Columns: 3}))
	got, err := l.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Columns)

	assert.Equal(t, "ui.sync", ui.Int64("sync", 0).Key())
	assert.Equal(t, "ui.retries", ui.Int("retries", 0).Key())
	assert.Equal(t, "ui.name", ui.String("name", "").Key())
	assert.Equal(t, "ui.tags", ui.StringSet("tags", nil).Key())
}
