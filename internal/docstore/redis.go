package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix      = "doc:"
	redisMaxTxnAttempts = 100
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore implements Store on Redis string keys.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return NewRedisWithClient(rdb), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(collection, id string) string {
	return fmt.Sprintf("%s%s:%s", redisKeyPrefix, collection, id)
}

// Get returns the document body or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, redisKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", collection, id, err)
	}
	return data, nil
}

// Put creates or replaces a document.
func (s *RedisStore) Put(ctx context.Context, collection, id string, body []byte) error {
	if err := s.rdb.Set(ctx, redisKey(collection, id), body, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update uses WATCH/MULTI so concurrent writers retry instead of clobbering.
func (s *RedisStore) Update(ctx context.Context, collection, id string, fn UpdateFunc) error {
	key := redisKey(collection, id)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			current, exists = nil, false
		} else if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxnAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s/%s: too many concurrent writers", collection, id)
}

// Delete removes a document.
func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.rdb.Del(ctx, redisKey(collection, id)).Err(); err != nil {
		return fmt.Errorf("redis del %s/%s: %w", collection, id, err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
