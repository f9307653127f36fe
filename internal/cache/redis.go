package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"portfolio-pipeline/internal/models"
)

const redisKeyPrefix = "gencache:"

// Redis is a Cache backed by a shared Redis instance, letting separate
// deployments of the service reuse each other's accepted generations.
// Expiry is delegated to Redis TTLs.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client with the cache TTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, fingerprint string) (models.GenerationResult, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.GenerationResult{}, false, nil
	}
	if err != nil {
		return models.GenerationResult{}, false, fmt.Errorf("cache get: %w", err)
	}
	var result models.GenerationResult
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupt entry reads as a miss; the next Set replaces it.
		return models.GenerationResult{}, false, nil
	}
	return result, true, nil
}

func (r *Redis) Set(ctx context.Context, fingerprint string, result models.GenerationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+fingerprint, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
