package prefstore

// Config holds the internal configuration for a Store instance.
// It is populated by applying functional Options when a new Store is created with New().
type Config struct {
	// storage is the physical persistence layer (memory, file, SQLite, PostgreSQL, Redis).
	storage Storage
	// logger is the logging interface used by the Store, its bus and its preferences.
	logger Logger
}

// Option defines the signature for a functional option that configures a Store instance.
type Option func(*Config)

// WithStorage sets the Storage backend the Store reads, writes and listens to.
// This is a mandatory option. The Store takes ownership and closes it in Close.
func WithStorage(s Storage) Option {
	return func(c *Config) {
		c.storage = s
	}
}

// WithLogger sets the Logger used by the Store.
// If not set, a default JSON logger writing to os.Stderr is used.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.logger = l
	}
}
