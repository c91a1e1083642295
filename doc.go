// Package prefstore provides a typed, observable key-value preference store.
//
// A Store owns one physical Storage backend (memory, file, SQLite, PostgreSQL, Redis)
// and a single shared ChangeBus. It mints typed Preference handles whose Changes
// stream emits the current value immediately and then every subsequent change,
// while the whole store keeps at most one native change listener registered.
package prefstore
