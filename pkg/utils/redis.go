package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the shared redis client. Locks, the task queue, webhook
// de-dup and the RTP port pool all go through one client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout time.Duration
	// IOTimeout applies to reads and writes. BRPOP callers pass their own
	// block timeout, which go-redis adds on top of this.
	IOTimeout time.Duration

	PoolSize    int
	PoolTimeout time.Duration
	MaxIdleTime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) options() *redis.Options {
	opt := &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     orDefault(c.DialTimeout, 3*time.Second),
		ReadTimeout:     orDefault(c.IOTimeout, 2*time.Second),
		WriteTimeout:    orDefault(c.IOTimeout, 2*time.Second),
		PoolTimeout:     orDefault(c.PoolTimeout, 4*time.Second),
		ConnMaxIdleTime: orDefault(c.MaxIdleTime, 5*time.Minute),
		PoolSize:        c.PoolSize,
	}
	if opt.PoolSize <= 0 {
		// Queue workers each hold a connection while blocked in BRPOP.
		opt.PoolSize = 32
	}
	return opt
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// OpenRedis builds the client and fails fast when the server does not answer PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, orDefault(cfg.PingTimeout, 2*time.Second))
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
