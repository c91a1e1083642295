package config

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreativeUnicorns/prefstore"
	"github.com/CreativeUnicorns/prefstore/storage"
)

func testLogger() prefstore.Logger {
	return prefstore.NewLogger(&bytes.Buffer{}, prefstore.LogLevelDebug)
}

func TestBuild_MemoryWithDefinitions(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Preferences = []PreferenceConfig{
		{Key: "appearance.theme", Kind: "string", Default: "SYSTEM", AllowedValues: []any{"SYSTEM", "DARK"}},
		{Key: "dark_mode", Kind: "bool"},
	}

	store, err := Build(cfg, testLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.Len(t, store.Definitions(), 2)

	theme, err := store.Preference("appearance.theme")
	require.NoError(t, err)
	got, err := theme.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, prefstore.StringValue("SYSTEM"), got)

	err = theme.Set(ctx, prefstore.StringValue("PURPLE"))
	assert.ErrorIs(t, err, prefstore.ErrInvalidValue)

	dark, err := store.Preference("dark_mode")
	require.NoError(t, err)
	got, err = dark.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, prefstore.BoolValue(false), got)
}

func TestBuildStorage_Drivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		cfg    func(*Config)
		assert func(t *testing.T, st prefstore.Storage)
	}{
		{
			name: "memory",
			cfg:  func(c *Config) {},
			assert: func(t *testing.T, st prefstore.Storage) {
				assert.IsType(t, &storage.MemoryStorage{}, st)
			},
		},
		{
			name: "file",
			cfg: func(c *Config) {
				c.Storage.Driver = DriverFile
				c.Storage.Path = filepath.Join(dir, "prefs.yaml")
			},
			assert: func(t *testing.T, st prefstore.Storage) {
				assert.IsType(t, &storage.FileStorage{}, st)
			},
		},
		{
			name: "sqlite",
			cfg: func(c *Config) {
				c.Storage.Driver = DriverSQLite
				c.Storage.Path = filepath.Join(dir, "prefs.db")
			},
			assert: func(t *testing.T, st prefstore.Storage) {
				assert.IsType(t, &storage.SQLiteStorage{}, st)
			},
		},
		{
			name: "redis",
			cfg: func(c *Config) {
				c.Storage.Driver = DriverRedis
				c.Storage.Redis.Addr = mr.Addr()
				c.Storage.Redis.Prefix = "test"
			},
			assert: func(t *testing.T, st prefstore.Storage) {
				assert.IsType(t, &storage.RedisStorage{}, st)
			},
		},
		{
			name: "memory cache",
			cfg: func(c *Config) {
				c.Cache.Driver = CacheMemory
			},
			assert: func(t *testing.T, st prefstore.Storage) {
				assert.IsType(t, &storage.CachedStorage{}, st)
			},
		},
		{
			name: "redis cache",
			cfg: func(c *Config) {
				c.Cache.Driver = CacheRedis
				c.Cache.Redis.Addr = mr.Addr()
			},
			assert: func(t *testing.T, st prefstore.Storage) {
				assert.IsType(t, &storage.CachedStorage{}, st)
			},
		},
		{
			name: "encryption outermost",
			cfg: func(c *Config) {
				c.Cache.Driver = CacheMemory
				c.Encryption = EncryptionConfig{Enabled: true, Passphrase: "correct horse", Salt: "prefstore-salt"}
			},
			assert: func(t *testing.T, st prefstore.Storage) {
				enc, ok := st.(*storage.EncryptedStorage)
				require.True(t, ok)
				assert.IsType(t, &storage.CachedStorage{}, enc.Storage)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.cfg(cfg)
			require.NoError(t, cfg.Validate())

			st, err := BuildStorage(cfg, testLogger())
			require.NoError(t, err)
			defer st.Close()
			tt.assert(t, st)

			require.NoError(t, st.Set(ctx, "theme", prefstore.StringValue("dark")))
			got, err := st.Get(ctx, "theme")
			require.NoError(t, err)
			assert.Equal(t, prefstore.StringValue("dark"), got)
		})
	}
}

func TestBuildStorage_EncryptionKeyFromEnv(t *testing.T) {
	cfg := Default()
	cfg.Encryption = EncryptionConfig{Enabled: true, KeyEnv: "PREFSTORE_TEST_KEY"}

	t.Setenv("PREFSTORE_TEST_KEY", "")
	_, err := BuildStorage(cfg, testLogger())
	require.Error(t, err)

	t.Setenv("PREFSTORE_TEST_KEY", "this-is-a-32-byte-key-for-test!!")
	st, err := BuildStorage(cfg, testLogger())
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &storage.EncryptedStorage{}, st)
}

func TestBuildStorage_ConnectFailure(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = DriverRedis
	cfg.Storage.Redis.Addr = "127.0.0.1:1"

	_, err := BuildStorage(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: failed to connect")
}

func TestBuild_InvalidDefinition(t *testing.T) {
	cfg := Default()
	cfg.Preferences = []PreferenceConfig{{Key: "a", Kind: "date"}}

	_, err := Build(cfg, testLogger())
	assert.ErrorIs(t, err, prefstore.ErrInvalidKind)
}
