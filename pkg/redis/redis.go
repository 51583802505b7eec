package redis

import (
	"context"
	"fmt"
	"time"

	"retail-loyalty/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const (
	defaultConnectRetries = 5
	defaultRetryInterval  = 3 * time.Second
)

// Options maps the REDIS config block onto client options.
func Options(c *config.Config) *redis.Options {
	return &redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	}
}

// New connects to redis, retrying the ping up to REDIS.CONNECT_RETRIES times.
// The dedup cache and task queue cannot run without it, so startup fails when
// every attempt fails.
func New(lc fx.Lifecycle, c *config.Config) (*redis.Client, error) {
	zapLog := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.Int("pool_size", c.Redis.PoolSize),
	)

	retries := c.Redis.ConnectRetries
	if retries <= 0 {
		retries = defaultConnectRetries
	}
	interval := c.Redis.RetryInterval
	if interval < 0 {
		interval = defaultRetryInterval
	}

	rdb := redis.NewClient(Options(c))

	var err error
	for i := 0; i < retries; i++ {
		if err = rdb.Ping(context.Background()).Err(); err == nil {
			break
		}
		zapLog.Warn("[Redis] Redis not ready, retrying", zap.Int("retry", i+1), zap.Duration("interval", interval), zap.Error(err))
		if i < retries-1 {
			time.Sleep(interval)
		}
	}
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable after %d attempts: %w", c.Redis.Addr, retries, err)
	}

	zapLog.Info("[Redis] Connected to Redis")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb, nil
}
