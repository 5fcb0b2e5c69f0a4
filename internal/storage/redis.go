package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWatermarkStore persists indexing watermarks in Redis, for deployments
// where the indexer runs apart from the ledger database.
type RedisWatermarkStore struct {
	client *redis.Client
	prefix string
}

// NewRedisWatermarkStore wraps an existing Redis client. Keys are stored
// under prefix to keep them apart from other tenants of the instance.
func NewRedisWatermarkStore(client *redis.Client, prefix string) *RedisWatermarkStore {
	if prefix == "" {
		prefix = "pursecat:watermark:"
	}
	return &RedisWatermarkStore{client: client, prefix: prefix}
}

// Read returns the persisted watermark for key, if any.
func (s *RedisWatermarkStore) Read(ctx context.Context, key string) (time.Time, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read watermark: %w", err)
	}

	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse watermark %q: %w", value, err)
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

// Write persists the watermark for key.
func (s *RedisWatermarkStore) Write(ctx context.Context, key string, t time.Time) error {
	err := s.client.Set(ctx, s.prefix+key, strconv.FormatInt(t.UnixMilli(), 10), 0).Err()
	if err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}
