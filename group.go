package prefstore

// Group bundles the preferences of one feature area under a common key prefix.
// It holds nothing but the store and its name; every method delegates to the Store.
//
// Feature packages typically embed a Group and add one accessor per preference:
//
//	type Appearance struct{ *prefstore.Group }
//
//	func (a Appearance) DarkMode() *prefstore.Preference[bool] { return a.Bool("dark_mode", false) }
type Group struct {
	store *Store
	name  string
}

// NewGroup returns the group name of store.
func NewGroup(store *Store, name string) *Group {
	return &Group{store: store, name: name}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Store returns the store the group delegates to.
func (g *Group) Store() *Store { return g.store }

// Key returns the storage key for a preference of the group.
func (g *Group) Key(name string) string {
	if g.name == "" {
		return name
	}
	return g.name + "." + name
}

// String returns a string preference of the group.
func (g *Group) String(name, def string) *Preference[string] {
	return g.store.String(g.Key(name), def)
}

// Bool returns a boolean preference of the group.
func (g *Group) Bool(name string, def bool) *Preference[bool] {
	return g.store.Bool(g.Key(name), def)
}

// Int returns an int preference of the group.
func (g *Group) Int(name string, def int) *Preference[int] {
	return g.store.Int(g.Key(name), def)
}

// Int64 returns an int64 preference of the group.
func (g *Group) Int64(name string, def int64) *Preference[int64] {
	return g.store.Int64(g.Key(name), def)
}

// Float returns a float64 preference of the group.
func (g *Group) Float(name string, def float64) *Preference[float64] {
	return g.store.Float(g.Key(name), def)
}

// StringSet returns a string-set preference of the group.
func (g *Group) StringSet(name string, def []string) *Preference[[]string] {
	return g.store.StringSet(g.Key(name), def)
}

// GroupEnum returns an enumerated preference of g.
func GroupEnum[T Named](g *Group, name string, def T, values ...T) *Preference[T] {
	return Enum(g.store, g.Key(name), def, values...)
}

// GroupJSON returns a JSON-encoded preference of g.
func GroupJSON[T any](g *Group, name string, def T) *Preference[T] {
	return JSON(g.store, g.Key(name), def)
}
