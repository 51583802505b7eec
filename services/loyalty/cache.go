package loyalty

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	levelCacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "loyalty_level_cache_hits_total"})
	levelCacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "loyalty_level_cache_miss_total"})
)

// levelCache holds the level catalog; concurrent misses share one load.
type levelCache struct {
	mu       sync.RWMutex
	levels   []*Level
	loadedAt time.Time
	ttl      time.Duration
	group    singleflight.Group
}

func newLevelCache(ttl time.Duration) *levelCache {
	return &levelCache{ttl: ttl}
}

func (c *levelCache) get(ctx context.Context, load func(ctx context.Context) ([]*Level, error)) ([]*Level, error) {
	c.mu.RLock()
	levels, fresh := c.levels, c.levels != nil && time.Since(c.loadedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		levelCacheHits.Inc()
		return levels, nil
	}

	levelCacheMiss.Inc()
	v, err, _ := c.group.Do("levels", func() (any, error) {
		levels, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.levels = levels
		c.loadedAt = time.Now()
		c.mu.Unlock()
		return levels, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Level), nil
}

func (c *levelCache) invalidate() {
	c.mu.Lock()
	c.levels = nil
	c.mu.Unlock()
}
