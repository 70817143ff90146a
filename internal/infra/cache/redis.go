package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures a Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient opens a pooled Redis client. A failed ping is logged and
// the client returned anyway; the pool reconnects on demand.
func NewRedisClient(ctx context.Context, opts RedisOptions, logger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("redis: ping failed", zap.String("addr", opts.Addr), zap.Error(err))
		return client
	}
	logger.Info("redis: connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client
}

// Redis is a typed cache shared between replicas. Values are stored as JSON
// under prefix+key. Redis failures degrade to cache misses.
type Redis[T any] struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedis creates a Redis-backed cache.
func NewRedis[T any](client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *Redis[T] {
	return &Redis[T]{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 500 * time.Millisecond,
		logger:  logger,
	}
}

// Get returns the cached value, or false on a miss or any Redis error.
func (c *Redis[T]) Get(key string) (T, bool) {
	var zero T
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false
	}
	if err != nil {
		c.logger.Warn("redis cache: get failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		c.logger.Warn("redis cache: decode failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return value, true
}

// Set stores value with the configured TTL.
func (c *Redis[T]) Set(key string, value T) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("redis cache: encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache: set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes a key.
func (c *Redis[T]) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.logger.Warn("redis cache: delete failed", zap.String("key", key), zap.Error(err))
	}
}
