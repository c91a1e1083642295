package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq" // PostgreSQL driver and LISTEN/NOTIFY client

	"github.com/CreativeUnicorns/prefstore"
)

// sqlOpenFunc is a package-level variable that can be overridden for testing.
var sqlOpenFunc = sql.Open

// notificationListener is the subset of *pq.Listener used by PostgresStorage.
type notificationListener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// newListener is a package-level variable that can be overridden for testing.
var newListener = func(dsn string, cb pq.EventCallbackType) notificationListener {
	return pq.NewListener(dsn, 10*time.Second, time.Minute, cb)
}

// DefaultNotifyChannel is the NOTIFY channel used when none is configured.
const DefaultNotifyChannel = "prefstore_changes"

const (
	createTableSQL = `
		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			value JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`

	upsertSQL = `
		INSERT INTO preferences (key, kind, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key)
		DO UPDATE SET kind = $2, value = $3, updated_at = $4
	`

	selectSQL    = `SELECT kind, value FROM preferences WHERE key = $1`
	existsSQL    = `SELECT 1 FROM preferences WHERE key = $1`
	keysSQL      = `SELECT key FROM preferences ORDER BY key`
	deleteSQL    = `DELETE FROM preferences WHERE key = $1`
	deleteAllSQL = `DELETE FROM preferences`
	notifySQL    = `SELECT pg_notify($1, $2)`
)

// PostgresStorage implements prefstore.Storage using PostgreSQL.
//
// Every write sends a NOTIFY in the same transaction, with the key as payload
// (empty for Clear), so listeners in other processes observe committed changes.
type PostgresStorage struct {
	db      *sql.DB
	dsn     string
	channel string
	logger  prefstore.Logger
}

// NewPostgresStorage initializes a new PostgresStorage instance.
// It connects to the PostgreSQL database using the provided connection string and runs migrations.
func NewPostgresStorage(connString string, opts ...Option) (*PostgresStorage, error) {
	o := applyOptions(opts)

	db, err := sqlOpenFunc("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &PostgresStorage{
		db:      db,
		dsn:     connString,
		channel: DefaultNotifyChannel,
		logger:  o.logger,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *PostgresStorage) migrate() error {
	_, err := s.db.Exec(createTableSQL)
	return err
}

// Get retrieves the value stored under key.
func (s *PostgresStorage) Get(ctx context.Context, key string) (prefstore.Value, error) {
	var kind string
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectSQL, key).Scan(&kind, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return prefstore.Value{}, prefstore.ErrNotFound
	}
	if err != nil {
		return prefstore.Value{}, fmt.Errorf("postgres: failed to get preference %q: %w", key, err)
	}
	return decodeColumns(kind, raw)
}

// Set upserts value under key and notifies in the same transaction.
func (s *PostgresStorage) Set(ctx context.Context, key string, value prefstore.Value) error {
	raw, err := json.Marshal(value.Interface())
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal value: %w", err)
	}
	return s.inTx(ctx, key, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, upsertSQL, key, string(value.Kind), raw, time.Now().UTC())
		return err
	})
}

// Delete removes key and notifies in the same transaction.
func (s *PostgresStorage) Delete(ctx context.Context, key string) error {
	return s.inTx(ctx, key, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, deleteSQL, key)
		return err
	})
}

// Contains reports whether a row exists for key.
func (s *PostgresStorage) Contains(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, existsSQL, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: failed to check preference %q: %w", key, err)
	}
	return true, nil
}

// Keys returns every stored key in ascending order.
func (s *PostgresStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, keysSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list keys: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Warn("postgres: failed to close rows", "error", cerr)
		}
	}()
	keys, err := scanKeys(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return keys, nil
}

// Clear deletes every row and sends an empty notification.
func (s *PostgresStorage) Clear(ctx context.Context) error {
	return s.inTx(ctx, "", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, deleteAllSQL)
		return err
	})
}

func (s *PostgresStorage) inTx(ctx context.Context, key string, write func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	if err := write(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("postgres: failed to write preference %q: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, notifySQL, s.channel, key); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("postgres: failed to notify change: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit transaction: %w", err)
	}
	return nil
}

// Listen opens a dedicated LISTEN connection and forwards notifications to fn.
// A failed reconnection attempt is reported as a terminal event; after a successful
// reconnect an All event is raised because notifications may have been missed.
func (s *PostgresStorage) Listen(ctx context.Context, fn prefstore.ListenFunc) (prefstore.StopFunc, error) {
	var stopped atomic.Bool
	var failOnce sync.Once
	fail := func(err error) {
		if stopped.Load() {
			return
		}
		failOnce.Do(func() {
			stopped.Store(true)
			fn(prefstore.StorageFailed(fmt.Errorf("postgres: listener connection lost: %w", err)))
		})
	}

	l := newListener(s.dsn, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventConnectionAttemptFailed {
			fail(err)
		}
	})
	if err := l.Listen(s.channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("postgres: failed to listen on %q: %w", s.channel, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case n, ok := <-l.NotificationChannel():
				if !ok {
					return
				}
				if stopped.Load() {
					continue
				}
				switch {
				case n == nil, n.Extra == "":
					fn(prefstore.AllChanged())
				default:
					fn(prefstore.KeyChanged(n.Extra))
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			stopped.Store(true)
			close(done)
			err = l.Close()
		})
		return err
	}, nil
}

// Close closes the database connection pool.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
