package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/CreativeUnicorns/prefstore"
)

const (
	sqliteCreateTableSQL = `
		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`

	sqliteUpsertSQL = `
		INSERT INTO preferences (key, kind, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key)
		DO UPDATE SET kind = excluded.kind, value = excluded.value, updated_at = excluded.updated_at
	`

	sqliteSelectSQL    = `SELECT kind, value FROM preferences WHERE key = ?`
	sqliteExistsSQL    = `SELECT 1 FROM preferences WHERE key = ?`
	sqliteKeysSQL      = `SELECT key FROM preferences ORDER BY key`
	sqliteDeleteSQL    = `DELETE FROM preferences WHERE key = ?`
	sqliteDeleteAllSQL = `DELETE FROM preferences`
)

// SQLiteStorage implements prefstore.Storage using SQLite.
// Change events are raised in-process after each committed write.
type SQLiteStorage struct {
	db        *sql.DB
	logger    prefstore.Logger
	listeners listenerSet
}

// NewSQLiteStorage initializes a new SQLiteStorage instance.
// It connects to the SQLite database at the specified path and runs migrations.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	o := applyOptions(opts)

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	s := &SQLiteStorage{db: db, logger: o.logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(sqliteCreateTableSQL)
	return err
}

// Get retrieves the value stored under key.
func (s *SQLiteStorage) Get(ctx context.Context, key string) (prefstore.Value, error) {
	var kind, raw string
	err := s.db.QueryRowContext(ctx, sqliteSelectSQL, key).Scan(&kind, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return prefstore.Value{}, prefstore.ErrNotFound
	}
	if err != nil {
		return prefstore.Value{}, fmt.Errorf("sqlite: failed to get preference %q: %w", key, err)
	}
	return decodeColumns(kind, []byte(raw))
}

// Set upserts value under key.
func (s *SQLiteStorage) Set(ctx context.Context, key string, value prefstore.Value) error {
	raw, err := json.Marshal(value.Interface())
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal value: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertSQL, key, string(value.Kind), string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: failed to set preference %q: %w", key, err)
	}
	s.listeners.notify(prefstore.KeyChanged(key))
	return nil
}

// Delete removes key.
func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteSQL, key); err != nil {
		return fmt.Errorf("sqlite: failed to delete preference %q: %w", key, err)
	}
	s.listeners.notify(prefstore.KeyChanged(key))
	return nil
}

// Contains reports whether a row exists for key.
func (s *SQLiteStorage) Contains(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, sqliteExistsSQL, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to check preference %q: %w", key, err)
	}
	return true, nil
}

// Keys returns every stored key in ascending order.
func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqliteKeysSQL)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list keys: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Warn("sqlite: failed to close rows", "error", cerr)
		}
	}()
	return scanKeys(rows)
}

// Clear deletes every row.
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteAllSQL); err != nil {
		return fmt.Errorf("sqlite: failed to clear preferences: %w", err)
	}
	s.listeners.notify(prefstore.AllChanged())
	return nil
}

// Listen registers fn for change events raised by this process.
func (s *SQLiteStorage) Listen(_ context.Context, fn prefstore.ListenFunc) (prefstore.StopFunc, error) {
	return s.listeners.add(fn), nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// decodeColumns turns a (kind, JSON payload) row into a Value. Malformed rows wrap prefstore.ErrDecode.
func decodeColumns(kind string, raw []byte) (prefstore.Value, error) {
	var payload any
	if err := unmarshalNumbers(raw, &payload); err != nil {
		return prefstore.Value{}, fmt.Errorf("%w: %w", prefstore.ErrDecode, err)
	}
	v, err := prefstore.ParseValue(prefstore.Kind(kind), payload)
	if err != nil {
		return prefstore.Value{}, fmt.Errorf("%w: %w", prefstore.ErrDecode, err)
	}
	return v, nil
}

func scanKeys(rows *sql.Rows) ([]string, error) {
	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	return keys, nil
}
