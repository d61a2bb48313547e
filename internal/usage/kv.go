// Package usage meters AI spend and registry API calls against monthly and
// daily budgets. Counters live in Redis and expire on their period
// boundary, so a new month or day starts from zero without a reset job.
package usage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/clock"
)

// KV is the counter store. Increments must be atomic with respect to the
// TTL so a counter never outlives its period.
type KV interface {
	GetInt(ctx context.Context, key string) (int64, error)
	GetFloat(ctx context.Context, key string) (float64, error)
	IncrInt(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	IncrFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)
}

// RedisKV implements KV on go-redis.
type RedisKV struct {
	rdb redis.UniversalClient
}

func NewRedisKV(rdb redis.UniversalClient) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (r *RedisKV) GetInt(ctx context.Context, key string) (int64, error) {
	v, err := r.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "usage: get %s", key)
	}
	return v, nil
}

func (r *RedisKV) GetFloat(ctx context.Context, key string) (float64, error) {
	v, err := r.rdb.Get(ctx, key).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "usage: get %s", key)
	}
	return v, nil
}

func (r *RedisKV) IncrInt(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrapf(err, "usage: incr %s", key)
	}
	return incr.Val(), nil
}

func (r *RedisKV) IncrFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, delta)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrapf(err, "usage: incr %s", key)
	}
	return incr.Val(), nil
}

// MemoryKV is an in-process KV for tests and single-node setups. Expiry is
// checked lazily against the injected clock.
type MemoryKV struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryKV(clk clock.Clock) *MemoryKV {
	return &MemoryKV{clk: clk, entries: make(map[string]memoryEntry)}
}

func (m *MemoryKV) live(key string) (string, bool) {
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !m.clk.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *MemoryKV) GetInt(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.live(key)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, eris.Wrapf(err, "usage: parse %s", key)
}

func (m *MemoryKV) GetFloat(ctx context.Context, key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.live(key)
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, eris.Wrapf(err, "usage: parse %s", key)
}

func (m *MemoryKV) IncrInt(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	if v, ok := m.live(key); ok {
		cur, _ = strconv.ParseInt(v, 10, 64)
	}
	cur += delta
	m.entries[key] = memoryEntry{value: strconv.FormatInt(cur, 10), expiresAt: m.clk.Now().Add(ttl)}
	return cur, nil
}

func (m *MemoryKV) IncrFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur float64
	if v, ok := m.live(key); ok {
		cur, _ = strconv.ParseFloat(v, 64)
	}
	cur += delta
	m.entries[key] = memoryEntry{value: strconv.FormatFloat(cur, 'f', -1, 64), expiresAt: m.clk.Now().Add(ttl)}
	return cur, nil
}
