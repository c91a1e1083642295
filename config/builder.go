package config

import (
	"fmt"

	"github.com/CreativeUnicorns/prefstore"
	"github.com/CreativeUnicorns/prefstore/cache"
	"github.com/CreativeUnicorns/prefstore/encryption"
	"github.com/CreativeUnicorns/prefstore/storage"
)

// Build assembles a Store from cfg: the storage driver, then the optional cache,
// then optional encryption outermost so cached entries stay encrypted. Every
// declared preference is registered as a definition.
func Build(cfg *Config, logger prefstore.Logger) (*prefstore.Store, error) {
	if logger == nil {
		logger = prefstore.NewDefaultLogger()
	}

	st, err := BuildStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := prefstore.New(prefstore.WithStorage(st), prefstore.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, err
	}

	defs, err := BuildDefinitions(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	for _, def := range defs {
		if _, err := store.Define(def); err != nil {
			store.Close()
			return nil, err
		}
	}

	logger.Info("Preference store ready",
		"storage", cfg.Storage.Driver,
		"cache", cfg.Cache.Driver,
		"encryption", cfg.Encryption.Enabled,
		"definitions", len(defs))
	return store, nil
}

// BuildStorage creates the storage stack described by cfg.
func BuildStorage(cfg *Config, logger prefstore.Logger) (prefstore.Storage, error) {
	opts := []storage.Option{storage.WithLogger(logger)}

	var (
		st  prefstore.Storage
		err error
	)
	switch cfg.Storage.Driver {
	case DriverMemory:
		st = storage.NewMemoryStorage()
	case DriverFile:
		st, err = storage.NewFileStorage(cfg.Storage.Path, opts...)
	case DriverSQLite:
		st, err = storage.NewSQLiteStorage(cfg.Storage.Path, opts...)
	case DriverPostgres:
		st, err = storage.NewPostgresStorage(cfg.Storage.DSN, opts...)
	case DriverRedis:
		r := cfg.Storage.Redis
		st, err = storage.NewRedisStorage(storage.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		}, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", prefstore.ErrInvalidInput, cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	c, err := buildCache(cfg.Cache)
	if err != nil {
		st.Close()
		return nil, err
	}
	if c != nil {
		st = storage.NewCachedStorage(st, c, cfg.Cache.TTL.Duration(), opts...)
	}

	if cfg.Encryption.Enabled {
		cipher, err := buildCipher(cfg.Encryption)
		if err != nil {
			st.Close()
			return nil, err
		}
		st = storage.NewEncryptedStorage(st, cipher)
	}
	return st, nil
}

func buildCache(cc CacheConfig) (cache.Cache, error) {
	switch cc.Driver {
	case CacheNone, "":
		return nil, nil
	case CacheMemory:
		return cache.NewMemoryCache(), nil
	case CacheRedis:
		return cache.NewRedisCache(cc.Redis.Addr, cc.Redis.Password, cc.Redis.DB)
	}
	return nil, fmt.Errorf("%w: unknown cache driver %q", prefstore.ErrInvalidInput, cc.Driver)
}

func buildCipher(ec EncryptionConfig) (*encryption.Cipher, error) {
	if ec.Passphrase != "" {
		return encryption.NewCipherFromPassphrase(ec.Passphrase, ec.Salt)
	}
	return encryption.NewCipherFromEnvVar(ec.KeyEnv)
}

// BuildDefinitions converts the declared preferences into definitions.
func BuildDefinitions(cfg *Config) ([]prefstore.Definition, error) {
	defs := make([]prefstore.Definition, 0, len(cfg.Preferences))
	for _, p := range cfg.Preferences {
		def, err := p.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
