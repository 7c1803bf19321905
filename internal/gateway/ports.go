package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrNoPorts means every RTP/RTCP pair in the range is reserved.
var ErrNoPorts = errors.New("gateway: no rtp ports available")

// PortPair is an RTP port and its RTCP companion (RTP+1).
type PortPair struct {
	RTP  int `json:"rtp_port"`
	RTCP int `json:"rtcp_port"`
}

// PortPool hands out RTP/RTCP pairs from [min, max].
type PortPool interface {
	Acquire(ctx context.Context) (PortPair, error)
	Release(ctx context.Context, p PortPair) error
}

// rtpPorts lists the even ports in range whose RTCP companion also fits.
func rtpPorts(min, max int) []int {
	if min%2 != 0 {
		min++
	}
	var out []int
	for p := min; p+1 <= max; p += 2 {
		out = append(out, p)
	}
	return out
}

type MemoryPortPool struct {
	mu   sync.Mutex
	free []int
	used map[int]bool
}

func NewMemoryPortPool(min, max int) *MemoryPortPool {
	return &MemoryPortPool{free: rtpPorts(min, max), used: map[int]bool{}}
}

func (p *MemoryPortPool) Acquire(ctx context.Context) (PortPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return PortPair{}, ErrNoPorts
	}
	rtp := p.free[0]
	p.free = p.free[1:]
	p.used[rtp] = true
	return PortPair{RTP: rtp, RTCP: rtp + 1}, nil
}

func (p *MemoryPortPool) Release(ctx context.Context, pair PortPair) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.used[pair.RTP] {
		return nil
	}
	delete(p.used, pair.RTP)
	p.free = append(p.free, pair.RTP)
	return nil
}

// Available is the number of free pairs.
func (p *MemoryPortPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// RedisPortPool shares the port range across API instances using a redis set
// of free RTP ports. SPOP reserves, SADD returns.
type RedisPortPool struct {
	rdb redis.Cmdable
	key string
	min int
	max int
}

func NewRedisPortPool(rdb redis.Cmdable, key string, min, max int) *RedisPortPool {
	if key == "" {
		key = "mediasoup:rtp_ports"
	}
	return &RedisPortPool{rdb: rdb, key: key, min: min, max: max}
}

// Init seeds the free set when it does not exist yet. Existing reservations
// made by other instances are left alone.
func (p *RedisPortPool) Init(ctx context.Context) error {
	n, err := p.rdb.Exists(ctx, p.key).Result()
	if err != nil {
		return fmt.Errorf("port pool exists: %w", err)
	}
	if n > 0 {
		return nil
	}
	ports := rtpPorts(p.min, p.max)
	if len(ports) == 0 {
		return ErrNoPorts
	}
	members := make([]any, len(ports))
	for i, port := range ports {
		members[i] = port
	}
	if err := p.rdb.SAdd(ctx, p.key, members...).Err(); err != nil {
		return fmt.Errorf("port pool seed: %w", err)
	}
	return nil
}

func (p *RedisPortPool) Acquire(ctx context.Context) (PortPair, error) {
	v, err := p.rdb.SPop(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return PortPair{}, ErrNoPorts
	}
	if err != nil {
		return PortPair{}, fmt.Errorf("port pool acquire: %w", err)
	}
	rtp, err := strconv.Atoi(v)
	if err != nil {
		return PortPair{}, fmt.Errorf("port pool: bad member %q", v)
	}
	return PortPair{RTP: rtp, RTCP: rtp + 1}, nil
}

func (p *RedisPortPool) Release(ctx context.Context, pair PortPair) error {
	if pair.RTP < p.min || pair.RTP > p.max {
		return nil
	}
	if err := p.rdb.SAdd(ctx, p.key, pair.RTP).Err(); err != nil {
		return fmt.Errorf("port pool release: %w", err)
	}
	return nil
}
