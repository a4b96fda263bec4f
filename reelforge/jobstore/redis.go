package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LerianStudio/lib-reelforge/reelforge/log"
)

// DefaultKeyPrefix namespaces keys written by RedisStore.
const DefaultKeyPrefix = "reelforge:job:"

// ErrInvalidConfig indicates the provided redis configuration is invalid.
var ErrInvalidConfig = errors.New("jobstore: invalid redis config")

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Addresses lists one address for standalone mode, several for cluster or
	// sentinel mode.
	Addresses  []string
	MasterName string
	Password   string
	DB         int
	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string
	// TTL expires records; zero keeps them forever.
	TTL         time.Duration
	DialTimeout time.Duration
	Logger      log.Logger
}

// RedisStore is a Store backed by Redis or Valkey.
type RedisStore[T any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger log.Logger
	owned  bool
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore[T any](ctx context.Context, cfg RedisConfig) (*RedisStore[T], error) {
	addrs := make([]string, 0, len(cfg.Addresses))

	for _, addr := range cfg.Addresses {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}

	// An empty Addrs makes go-redis silently fall back to localhost:6379.
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: at least one address is required", ErrInvalidConfig)
	}

	if cfg.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must not be negative", ErrInvalidConfig)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		MasterName:  cfg.MasterName,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	logger := log.OrNop(cfg.Logger)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		logger.Log(ctx, log.LevelError, "redis ping failed", log.Err(err))

		return nil, fmt.Errorf("jobstore: redis ping: %w", err)
	}

	switch client.(type) {
	case *redis.ClusterClient:
		logger.Log(ctx, log.LevelInfo, "job store connected to Redis/Valkey in cluster mode")
	case *redis.Client:
		logger.Log(ctx, log.LevelInfo, "job store connected to Redis/Valkey in standalone mode")
	default:
		logger.Log(ctx, log.LevelWarn, "job store connected to Redis/Valkey in unknown mode")
	}

	store := NewRedisStoreFromClient[T](client, cfg)
	store.owned = true

	return store, nil
}

// NewRedisStoreFromClient wraps an existing client. Close leaves the client
// open.
func NewRedisStoreFromClient[T any](client redis.UniversalClient, cfg RedisConfig) *RedisStore[T] {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisStore[T]{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		logger: log.OrNop(cfg.Logger),
	}
}

func (s *RedisStore[T]) key(id string) string {
	return s.prefix + id
}

// Save stores value under id, refreshing the TTL.
func (s *RedisStore[T]) Save(ctx context.Context, id string, value T) error {
	if s == nil || s.client == nil {
		return ErrNilStore
	}

	if id == "" {
		return ErrEmptyID
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("jobstore: encode %s: %w", id, err)
	}

	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		s.logger.Log(ctx, log.LevelError, "job store save failed", log.String("id", id), log.Err(err))

		return fmt.Errorf("jobstore: save %s: %w", id, err)
	}

	return nil
}

// Load returns the record saved under id.
func (s *RedisStore[T]) Load(ctx context.Context, id string) (T, error) {
	var value T

	if s == nil || s.client == nil {
		return value, ErrNilStore
	}

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return value, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return value, fmt.Errorf("jobstore: load %s: %w", id, err)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("jobstore: decode %s: %w", id, err)
	}

	return value, nil
}

// Delete removes the record saved under id.
func (s *RedisStore[T]) Delete(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return ErrNilStore
	}

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("jobstore: delete %s: %w", id, err)
	}

	return nil
}

// Ping checks the connection.
func (s *RedisStore[T]) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrNilStore
	}

	return s.client.Ping(ctx).Err()
}

// Close closes the client if the store created it.
func (s *RedisStore[T]) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}

	return s.client.Close()
}

// Client returns the underlying client so other Redis-backed components can
// share the connection.
func (s *RedisStore[T]) Client() redis.UniversalClient {
	if s == nil {
		return nil
	}

	return s.client
}
