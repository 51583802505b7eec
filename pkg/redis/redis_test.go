package redis

import (
	"testing"
	"time"

	"retail-loyalty/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestOptions(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Addr = "cache:6379"
	cfg.Redis.DB = 2
	cfg.Redis.PoolSize = 20
	cfg.Redis.PoolTimeout = time.Second

	opts := Options(cfg)
	require.Equal(t, "cache:6379", opts.Addr)
	require.Equal(t, 2, opts.DB)
	require.Equal(t, 20, opts.PoolSize)
	require.Equal(t, time.Second, opts.PoolTimeout)
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.ConnectRetries = 2
	cfg.Redis.RetryInterval = 0

	rdb, err := New(fxtest.NewLifecycle(t), cfg)
	require.Error(t, err)
	require.Nil(t, rdb)
	require.Contains(t, err.Error(), "after 2 attempts")
}
