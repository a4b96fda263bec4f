package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "reelforge:ratelimit:"
	scanBatchSize = 100
	opTimeout     = 2 * time.Second
)

// RedisStorage implements fiber.Storage on a shared Redis client.
type RedisStorage struct {
	client redis.UniversalClient
}

var _ fiber.Storage = (*RedisStorage)(nil)

// NewRedisStorage returns a storage over client, or nil if client is nil.
func NewRedisStorage(client redis.UniversalClient) *RedisStorage {
	if client == nil {
		return nil
	}

	return &RedisStorage{client: client}
}

// Get retrieves the value for the given key.
// Returns nil, nil when the key does not exist.
func (storage *RedisStorage) Get(key string) ([]byte, error) {
	if storage == nil || storage.client == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	val, err := storage.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return val, nil
}

// Set stores the given value for the given key with an expiration.
// 0 expiration means no expiration. Empty key or value will be ignored.
func (storage *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	if storage == nil || storage.client == nil {
		return nil
	}

	if key == "" || len(val) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := storage.client.Set(ctx, keyPrefix+key, val, exp).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the value for the given key.
func (storage *RedisStorage) Delete(key string) error {
	if storage == nil || storage.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := storage.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}

	return nil
}

// Reset clears all rate limit keys.
func (storage *RedisStorage) Reset() error {
	if storage == nil || storage.client == nil {
		return nil
	}

	ctx := context.Background()

	var cursor uint64

	for {
		keys, nextCursor, err := storage.client.Scan(ctx, cursor, keyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			if err := storage.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis batch delete: %w", err)
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Close is a no-op; the client belongs to the job store.
func (*RedisStorage) Close() error {
	return nil
}
