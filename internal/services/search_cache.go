package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/tourism-booking-core/internal/models"
)

const (
	searchCacheVersionKey = "availability:search:version"
	searchCacheKeyPrefix  = "availability:search"
)

// SearchCache caches availability search pages between capacity changes.
// Key captures the cache version before the database read, so a page computed
// while a mutation lands is stored under the superseded version and never served.
type SearchCache interface {
	Key(ctx context.Context, filter models.SlotSearchFilter, today time.Time) (string, bool)
	Get(ctx context.Context, key string) ([]models.AvailabilitySlot, bool)
	Set(ctx context.Context, key string, slots []models.AvailabilitySlot)
	Invalidate(ctx context.Context)
}

// RedisSearchCache keys every page by a global version counter. Any capacity
// or blocking change bumps the counter, so pages written before the change are
// never read again and simply expire.
type RedisSearchCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisSearchCache creates a Redis-backed search cache
func NewRedisSearchCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisSearchCache {
	return &RedisSearchCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// NewRedisClient creates a Redis client from a redis:// URL
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Key builds the versioned cache key; false means the cache is unavailable
func (c *RedisSearchCache) Key(ctx context.Context, filter models.SlotSearchFilter, today time.Time) (string, bool) {
	version, err := c.client.Get(ctx, searchCacheVersionKey).Result()
	if err == redis.Nil {
		version = "0"
	} else if err != nil {
		c.logger.WithError(err).Warn("Search cache version lookup failed")
		return "", false
	}

	sum := sha1.Sum([]byte(filter.CacheKey(today)))
	return fmt.Sprintf("%s:v%s:%s", searchCacheKeyPrefix, version, hex.EncodeToString(sum[:])), true
}

// Get returns a cached page; any cache failure is treated as a miss
func (c *RedisSearchCache) Get(ctx context.Context, key string) ([]models.AvailabilitySlot, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Warn("Search cache read failed")
		}
		return nil, false
	}

	var slots []models.AvailabilitySlot
	if err := json.Unmarshal(data, &slots); err != nil {
		c.logger.WithError(err).Warn("Search cache entry corrupt")
		return nil, false
	}
	return slots, true
}

// Set stores a page under the given key
func (c *RedisSearchCache) Set(ctx context.Context, key string, slots []models.AvailabilitySlot) {
	data, err := json.Marshal(slots)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode search cache entry")
		return
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Search cache write failed")
	}
}

// Invalidate bumps the version so every cached page becomes unreachable
func (c *RedisSearchCache) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, searchCacheVersionKey).Err(); err != nil {
		c.logger.WithError(err).Warn("Search cache invalidation failed")
	}
}

// NoopSearchCache never caches
type NoopSearchCache struct{}

// Key implements SearchCache
func (NoopSearchCache) Key(context.Context, models.SlotSearchFilter, time.Time) (string, bool) {
	return "", false
}

// Get implements SearchCache
func (NoopSearchCache) Get(context.Context, string) ([]models.AvailabilitySlot, bool) {
	return nil, false
}

// Set implements SearchCache
func (NoopSearchCache) Set(context.Context, string, []models.AvailabilitySlot) {}

// Invalidate implements SearchCache
func (NoopSearchCache) Invalidate(context.Context) {}
