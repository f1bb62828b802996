package forgetting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores computed forgetting results keyed by
// (learner, concept, estimator). Misses are cheap to recompute, so cache
// failures degrade silently to recomputation.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Put(ctx context.Context, key string, result Result)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	results map[string]Result
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{results: make(map[string]Result)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[key]
	return r, ok
}

func (c *MemoryCache) Put(_ context.Context, key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = result
}

// RedisCache shares forgetting results across workers and processes.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to Redis and namespaces keys by dataset.
func NewRedisCache(redisURL, dataset string, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{
		rdb:    rdb,
		prefix: "mentora:forgetting:" + dataset + ":",
		ttl:    24 * time.Hour,
		logger: logger,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (Result, bool) {
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("forgetting cache read failed", zap.String("key", key), zap.Error(err))
		}
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, false
	}
	return r, true
}

func (c *RedisCache) Put(ctx context.Context, key string, result Result) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("forgetting cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Close shuts down the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
