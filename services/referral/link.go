package referral

import (
	"context"
	"errors"
	"time"

	"retail-loyalty/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// LinkStore maps short-lived referral link tokens to the referrer.
// Resolve returns "" for an unknown or expired token.
type LinkStore interface {
	Put(ctx context.Context, token, referrerID string, ttl time.Duration) error
	Resolve(ctx context.Context, token string) (string, error)
}

type redisLinkStore struct {
	rdb *redis.Client
}

func NewRedisLinkStore(rdb *redis.Client) LinkStore {
	return &redisLinkStore{rdb: rdb}
}

func (s *redisLinkStore) Put(ctx context.Context, token, referrerID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, rediskey.BuildReferralLinkKey(token), referrerID, ttl).Err()
}

func (s *redisLinkStore) Resolve(ctx context.Context, token string) (string, error) {
	v, err := s.rdb.Get(ctx, rediskey.BuildReferralLinkKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}
