package idempotency

import (
	"context"
	"time"

	"retail-loyalty/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// Cache remembers recently seen keys. SetNX reports true when key was not
// present and is now stored.
type Cache interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

type redisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb}
}

func (c *redisCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, rediskey.BuildWebhookDedupKey(key), "1", ttl).Result()
}

func (c *redisCache) Forget(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, rediskey.BuildWebhookDedupKey(key)).Err()
}
