package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown grants at most one notification per key per window.
type Cooldown interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type MemoryCooldown struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryCooldown(window time.Duration) *MemoryCooldown {
	return &MemoryCooldown{window: window, now: time.Now, last: map[string]time.Time{}}
}

func (c *MemoryCooldown) Allow(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.last[key]; ok && now.Sub(last) <= c.window {
		return false, nil
	}
	c.last[key] = now
	return true, nil
}

// RedisCooldown shares the window between replicas.
type RedisCooldown struct {
	rdb    *redis.Client
	prefix string
	window time.Duration
}

func NewRedisCooldown(rdb *redis.Client, prefix string, window time.Duration) *RedisCooldown {
	if prefix == "" {
		prefix = "lorawatch:alert:"
	}
	return &RedisCooldown{rdb: rdb, prefix: prefix, window: window}
}

func (c *RedisCooldown) Allow(ctx context.Context, key string) (bool, error) {
	return c.rdb.SetNX(ctx, c.prefix+key, time.Now().UTC().Format(time.RFC3339), c.window).Result()
}
