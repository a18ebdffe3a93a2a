package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedisCache stores analysis results as JSON with a per-key TTL
type RedisCache struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisCacheFromClient(client, opts.Prefix), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "deltamix"
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: log.With().Str("component", "redis_cache").Logger(),
	}
}

// CacheGet decodes the cached value into dest. It reports false on a miss.
func (c *RedisCache) CacheGet(ctx context.Context, key Key, dest any) (bool, error) {
	val, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return true, nil
}

// CachePut stores value under key for ttl
func (c *RedisCache) CachePut(ctx context.Context, key Key, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// PurgeExpiredCache removes keys under the prefix that were stored without
// an expiry. Keys written by CachePut expire on their own.
func (c *RedisCache) PurgeExpiredCache(ctx context.Context) (int64, error) {
	var purged int64
	iter := c.client.Scan(ctx, 0, c.prefix+":analysis:*", 500).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		ttl, err := c.client.TTL(ctx, k).Result()
		if err != nil {
			return purged, fmt.Errorf("redis ttl %s: %w", k, err)
		}
		// -1 means no expiry is set
		if ttl != -1 {
			continue
		}
		n, err := c.client.Del(ctx, k).Result()
		if err != nil {
			return purged, fmt.Errorf("redis del %s: %w", k, err)
		}
		purged += n
	}
	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("redis scan: %w", err)
	}

	if purged > 0 {
		c.logger.Info().Int64("purged", purged).Msg("Purged cache entries without expiry")
	}
	return purged, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) redisKey(key Key) string {
	return c.prefix + ":" + key.String()
}
