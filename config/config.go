// Package config provides YAML and TOML configuration for a prefstore deployment.
//
// Example configuration:
//
//	log_level: info
//
//	storage:
//	  driver: sqlite
//	  path: ${PREFS_DIR:-/var/lib/prefstore}/prefs.db
//
//	cache:
//	  driver: memory
//	  ttl: 5m
//
//	server:
//	  listen_addr: :8080
//
//	preferences:
//	  - key: appearance.theme
//	    kind: string
//	    default: SYSTEM
//	    allowed_values: [SYSTEM, LIGHT, DARK]
//	  - key: dark_mode
//	    kind: bool
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/CreativeUnicorns/prefstore"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Cache drivers.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Format selects the configuration file syntax.
type Format string

// Supported configuration formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Config is the root configuration structure.
type Config struct {
	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level" toml:"log_level"`

	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache"`
	Encryption EncryptionConfig `yaml:"encryption" toml:"encryption"`
	Server     ServerConfig     `yaml:"server" toml:"server"`

	// Preferences are registered as definitions on the built store.
	Preferences []PreferenceConfig `yaml:"preferences" toml:"preferences"`
}

// StorageConfig selects and configures the physical storage.
type StorageConfig struct {
	// Driver is memory, file, sqlite, postgres or redis. Defaults to memory.
	Driver string `yaml:"driver" toml:"driver"`

	// Path is the document path for the file driver or the database path for sqlite.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	Path string `yaml:"path" toml:"path"`

	// DSN is the postgres connection string. Supports environment variable substitution.
	DSN string `yaml:"dsn" toml:"dsn"`

	Redis RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig holds connection settings shared by the redis storage and cache drivers.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// CacheConfig configures the read-through cache placed in front of storage.
type CacheConfig struct {
	// Driver is none, memory or redis. Defaults to none.
	Driver string `yaml:"driver" toml:"driver"`

	// TTL bounds how long an entry is served without consulting storage. Defaults to 5m.
	TTL Duration `yaml:"ttl" toml:"ttl"`

	Redis RedisConfig `yaml:"redis" toml:"redis"`
}

// EncryptionConfig enables at-rest encryption of string values.
//
// The key comes from the environment variable named by KeyEnv, or is derived
// from Passphrase and Salt when a passphrase is given.
type EncryptionConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	KeyEnv     string `yaml:"key_env" toml:"key_env"`
	Passphrase string `yaml:"passphrase" toml:"passphrase"`
	Salt       string `yaml:"salt" toml:"salt"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// ListenAddr defaults to ":8080".
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// PreferenceConfig declares one preference.
type PreferenceConfig struct {
	Key           string `yaml:"key" toml:"key"`
	Kind          string `yaml:"kind" toml:"kind"`
	Default       any    `yaml:"default" toml:"default"`
	Group         string `yaml:"group" toml:"group"`
	Description   string `yaml:"description" toml:"description"`
	AllowedValues []any  `yaml:"allowed_values" toml:"allowed_values"`
}

// Duration is a time.Duration written as a string such as "10s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText parses a duration string. It is used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars substitutes environment variables in s.
// A variable that is unset and has no default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := envVarPattern.FindStringSubmatch(match)
		name := sub[1]
		hasDefault := sub[2] != ""

		value, ok := os.LookupEnv(name)
		if !ok {
			if hasDefault {
				return sub[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", name)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// FormatFromPath picks the configuration format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: unsupported config file extension %q", prefstore.ErrInvalidInput, filepath.Ext(path))
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes data, applies defaults, expands environment variables and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown config format %q", prefstore.ErrInvalidInput, format)
	}

	cfg.applyDefaults()
	if err := cfg.expand(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: in-memory storage, no cache.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = CacheNone
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = Duration(5 * time.Minute)
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
}

func (c *Config) expand() error {
	fields := []*string{
		&c.Storage.Path,
		&c.Storage.DSN,
		&c.Storage.Redis.Addr,
		&c.Storage.Redis.Password,
		&c.Cache.Redis.Addr,
		&c.Cache.Redis.Password,
		&c.Encryption.Passphrase,
		&c.Encryption.Salt,
		&c.Server.ListenAddr,
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f)
		if err != nil {
			return err
		}
		*f = expanded
	}
	return nil
}

// Validate checks the configuration for missing or inconsistent settings.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := prefstore.ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage: path is required for driver %q", c.Storage.Driver))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage: dsn is required for driver \"postgres\""))
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage: redis.addr is required for driver \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}

	switch c.Cache.Driver {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache: redis.addr is required for driver \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown driver %q", c.Cache.Driver))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache: ttl must not be negative"))
	}

	if c.Encryption.Enabled && c.Encryption.KeyEnv == "" && c.Encryption.Passphrase == "" {
		errs = append(errs, errors.New("encryption: key_env or passphrase is required when enabled"))
	}

	seen := make(map[string]bool, len(c.Preferences))
	for i, p := range c.Preferences {
		if _, err := p.Definition(); err != nil {
			errs = append(errs, fmt.Errorf("preferences[%d]: %w", i, err))
			continue
		}
		if seen[p.Key] {
			errs = append(errs, fmt.Errorf("preferences[%d]: %w: %q", i, prefstore.ErrAlreadyDefined, p.Key))
		}
		seen[p.Key] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", prefstore.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Definition converts the declaration into a prefstore.Definition.
func (p PreferenceConfig) Definition() (prefstore.Definition, error) {
	if p.Key == "" {
		return prefstore.Definition{}, prefstore.ErrInvalidKey
	}
	kind := prefstore.Kind(p.Kind)
	if !kind.Valid() {
		return prefstore.Definition{}, fmt.Errorf("%w: %q", prefstore.ErrInvalidKind, p.Kind)
	}

	def := prefstore.Definition{
		Key:         p.Key,
		Kind:        kind,
		Group:       p.Group,
		Description: p.Description,
	}
	if p.Default != nil {
		v, err := prefstore.ParseValue(kind, p.Default)
		if err != nil {
			return prefstore.Definition{}, fmt.Errorf("default for %q: %w", p.Key, err)
		}
		def.Default = v
	}
	for _, raw := range p.AllowedValues {
		v, err := prefstore.ParseValue(kind, raw)
		if err != nil {
			return prefstore.Definition{}, fmt.Errorf("allowed value for %q: %w", p.Key, err)
		}
		def.AllowedValues = append(def.AllowedValues, v)
	}
	if def.Default.Kind != "" {
		if err := def.Validate(def.Default); err != nil {
			return prefstore.Definition{}, fmt.Errorf("default for %q: %w", p.Key, err)
		}
	}
	return def, nil
}
