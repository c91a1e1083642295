package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CreativeUnicorns/prefstore"
)

// DefaultRedisPrefix namespaces the keys used by RedisStorage when no prefix is configured.
const DefaultRedisPrefix = "prefstore"

// RedisOptions configures a RedisStorage connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStorage implements prefstore.Storage on a Redis hash.
//
// Values live in the hash "<prefix>:values" as JSON-encoded prefstore.Value fields.
// Each write publishes the key on "<prefix>:changes" (empty for Clear) in the same
// MULTI block, so every process subscribed to the channel observes it.
type RedisStorage struct {
	client  redis.UniversalClient
	hashKey string
	channel string
	logger  prefstore.Logger
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ro RedisOptions, opts ...Option) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     ro.Addr,
		Password: ro.Password,
		DB:       ro.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}
	return NewRedisStorageWithClient(client, ro.Prefix, opts...), nil
}

// NewRedisStorageWithClient wraps an existing client. The storage takes ownership of it.
func NewRedisStorageWithClient(client redis.UniversalClient, prefix string, opts ...Option) *RedisStorage {
	o := applyOptions(opts)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		client:  client,
		hashKey: prefix + ":values",
		channel: prefix + ":changes",
		logger:  o.logger,
	}
}

// Get retrieves the value stored under key.
func (s *RedisStorage) Get(ctx context.Context, key string) (prefstore.Value, error) {
	data, err := s.client.HGet(ctx, s.hashKey, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return prefstore.Value{}, prefstore.ErrNotFound
	}
	if err != nil {
		return prefstore.Value{}, fmt.Errorf("redis: failed to get preference %q: %w", key, err)
	}

	var v prefstore.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return prefstore.Value{}, fmt.Errorf("%w: %w", prefstore.ErrDecode, err)
	}
	return v, nil
}

// Set stores value under key and publishes the change.
func (s *RedisStorage) Set(ctx context.Context, key string, value prefstore.Value) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal value: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hashKey, key, data)
		pipe.Publish(ctx, s.channel, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to set preference %q: %w", key, err)
	}
	return nil
}

// Delete removes key and publishes the change.
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.hashKey, key)
		pipe.Publish(ctx, s.channel, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to delete preference %q: %w", key, err)
	}
	return nil
}

// Contains reports whether the hash has a field for key.
func (s *RedisStorage) Contains(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.hashKey, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to check preference %q: %w", key, err)
	}
	return ok, nil
}

// Keys returns every stored key in ascending order.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear deletes the hash and publishes an empty payload.
func (s *RedisStorage) Clear(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey)
		pipe.Publish(ctx, s.channel, "")
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to clear preferences: %w", err)
	}
	return nil
}

// Listen subscribes to the change channel. The subscription is confirmed before Listen
// returns; a receive error afterwards is reported as a terminal event.
func (s *RedisStorage) Listen(ctx context.Context, fn prefstore.ListenFunc) (prefstore.StopFunc, error) {
	ps := s.client.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to %q: %w", s.channel, err)
	}

	var stopped atomic.Bool
	go func() {
		for {
			msg, err := ps.ReceiveMessage(ctx)
			if err != nil {
				if stopped.Load() || ctx.Err() != nil {
					return
				}
				fn(prefstore.StorageFailed(fmt.Errorf("redis: change subscription failed: %w", err)))
				return
			}
			if msg.Payload == "" {
				fn(prefstore.AllChanged())
				continue
			}
			fn(prefstore.KeyChanged(msg.Payload))
		}
	}()

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() {
			stopped.Store(true)
			err = ps.Close()
		})
		return err
	}, nil
}

// Close closes the Redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
