package whatsapp

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupTTL is how long a message id is remembered.
const DedupTTL = 24 * time.Hour

// Deduper claims message ids. Claim reports true only the first time an id is
// seen; Release forgets a claim whose processing failed.
type Deduper interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

type RedisDeduper struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisDeduper(rdb redis.Cmdable) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: DedupTTL}
}

func dedupKey(id string) string { return "dedup:msg:" + id }

func (d *RedisDeduper) Claim(ctx context.Context, messageID string) (bool, error) {
	return d.rdb.SetNX(ctx, dedupKey(messageID), 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, messageID string) error {
	return d.rdb.Del(ctx, dedupKey(messageID)).Err()
}

// MemoryDeduper is the single-process fallback.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: map[string]time.Time{}, ttl: DedupTTL, now: time.Now}
}

func (d *MemoryDeduper) Claim(ctx context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[messageID]; ok {
		return false, nil
	}
	d.seen[messageID] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, messageID)
	return nil
}
