package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned when no structure is cached for a timeframe.
var ErrCacheMiss = errors.New("cache miss")

// StructureCache keeps the latest FinalStructure per timeframe in Redis under
// <prefix><timeframe>, e.g. "cache:4h".
type StructureCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
}

func NewStructureCache(client *redis.Client, prefix string, ttl time.Duration, logger *logrus.Logger) *StructureCache {
	return &StructureCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// Key returns the Redis key for a timeframe
func (c *StructureCache) Key(tf string) string {
	return c.prefix + tf
}

// Save caches fs under its timeframe, replacing any previous structure.
// Non-finite values in fs are replaced with null in place.
func (c *StructureCache) Save(ctx context.Context, fs models.FinalStructure) error {
	if fs.Timeframe == "" {
		return fmt.Errorf("failed to cache structure: empty timeframe")
	}
	fs.Sanitize()

	data, err := encode(fs)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.Key(fs.Timeframe), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache %s structure: %w", fs.Timeframe, err)
	}

	c.logger.WithFields(logrus.Fields{
		"key":         c.Key(fs.Timeframe),
		"instruments": len(fs.Data),
		"bytes":       len(data),
	}).Debug("Cached final structure")
	return nil
}

// Load retrieves the cached structure for a timeframe
func (c *StructureCache) Load(ctx context.Context, tf string) (*models.FinalStructure, error) {
	data, err := c.client.Get(ctx, c.Key(tf)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheAccess("redis", false)
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s structure: %w", tf, err)
	}
	metrics.RecordCacheAccess("redis", true)

	var fs models.FinalStructure
	if err := decode(data, &fs); err != nil {
		return nil, err
	}
	return &fs, nil
}

// Delete removes the cached structure for a timeframe
func (c *StructureCache) Delete(ctx context.Context, tf string) error {
	return c.client.Del(ctx, c.Key(tf)).Err()
}
