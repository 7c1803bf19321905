package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is a list used as a FIFO: LPUSH to produce, BRPOP to consume.
// A task popped by a worker that then crashes is lost.
type RedisBackend struct {
	rdb   redis.Cmdable
	key   string
	block time.Duration
}

func NewRedisBackend(rdb redis.Cmdable, key string) *RedisBackend {
	if key == "" {
		key = "queue:tasks"
	}
	return &RedisBackend{rdb: rdb, key: key, block: time.Second}
}

func (r *RedisBackend) Push(ctx context.Context, t Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.rdb.LPush(ctx, r.key, b).Err()
}

func (r *RedisBackend) Pop(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := r.rdb.BRPop(ctx, r.block, r.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// res is [key, value].
		if len(res) != 2 {
			return nil, fmt.Errorf("queue: unexpected BRPOP reply %v", res)
		}
		var t Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			return nil, fmt.Errorf("queue: decode task: %w", err)
		}
		return &Delivery{Task: t}, nil
	}
}

func (r *RedisBackend) Close() error { return nil }
