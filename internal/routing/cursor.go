package routing

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Cursor hands out a monotonically increasing position in the pool rotation.
type Cursor interface {
	Next(ctx context.Context) (int64, error)
}

type MemoryCursor struct {
	mu sync.Mutex
	n  int64
}

func (c *MemoryCursor) Next(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

// RedisCursor shares the rotation between processes with INCR.
type RedisCursor struct {
	rdb redis.Cmdable
	key string
}

func NewRedisCursor(rdb redis.Cmdable, key string) *RedisCursor {
	if key == "" {
		key = "routing:sales_cursor"
	}
	return &RedisCursor{rdb: rdb, key: key}
}

func (c *RedisCursor) Next(ctx context.Context) (int64, error) {
	return c.rdb.Incr(ctx, c.key).Result()
}
