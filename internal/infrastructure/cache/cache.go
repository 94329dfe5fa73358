package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

// Resilient is a Redis-backed cache that switches to an in-process TTL map for the rest of the
// process lifetime after the first Redis failure. Errors never reach callers.
type Resilient struct {
	redis    *redis.Client
	local    *gocache.Cache
	degraded atomic.Bool
	once     sync.Once
	logger   *slog.Logger
}

// New returns a cache over redisURL. An empty or unparsable URL starts in local mode.
func New(redisURL string, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Resilient{
		local:  gocache.New(defaultTTL, 2*defaultTTL),
		logger: logger,
	}
	if strings.TrimSpace(redisURL) == "" {
		c.degraded.Store(true)
		return c
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		c.degrade(err)
		return c
	}
	c.redis = redis.NewClient(opts)
	return c
}

// NewLocal returns a cache that never talks to Redis.
func NewLocal() *Resilient {
	return New("", nil)
}

func (c *Resilient) Degraded() bool {
	return c.degraded.Load()
}

func (c *Resilient) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.degraded.Load() {
		val, err := c.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			return val, true
		case errors.Is(err, redis.Nil):
			return nil, false
		case ctx.Err() != nil:
			return nil, false
		default:
			c.degrade(err)
		}
	}
	v, ok := c.local.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (c *Resilient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if !c.degraded.Load() {
		err := c.redis.Set(ctx, key, value, ttl).Err()
		if err == nil || ctx.Err() != nil {
			return
		}
		c.degrade(err)
	}
	c.local.Set(key, value, ttl)
}

func (c *Resilient) Delete(ctx context.Context, key string) {
	if !c.degraded.Load() {
		err := c.redis.Del(ctx, key).Err()
		if err == nil || ctx.Err() != nil {
			return
		}
		c.degrade(err)
	}
	c.local.Delete(key)
}

func (c *Resilient) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func (c *Resilient) degrade(err error) {
	c.degraded.Store(true)
	c.once.Do(func() {
		c.logger.Warn("cache_degraded", "backend", "redis", "fallback", "memory", "error", err)
	})
}
