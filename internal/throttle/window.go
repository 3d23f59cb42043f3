package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultWindowKeys = 5000

// Window counts hits per key and reports how long a rejected key has to wait.
type Window interface {
	Hit(ctx context.Context, key string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

// MemoryWindow is a per-process sliding window, for single instance deployments.
type MemoryWindow struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	maxKeys int
}

func NewMemoryWindow(maxKeys int) *MemoryWindow {
	if maxKeys <= 0 {
		maxKeys = defaultWindowKeys
	}
	return &MemoryWindow{
		hits:    make(map[string][]time.Time),
		maxKeys: maxKeys,
	}
}

func (m *MemoryWindow) Hit(_ context.Context, key string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	hits := m.hits[key]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= maxHits {
		retryAfter := filtered[0].Add(window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		m.hits[key] = filtered
		return false, retryAfter, nil
	}

	m.hits[key] = append(filtered, now)

	if len(m.hits) > m.maxKeys {
		for k, value := range m.hits {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(m.hits, k)
			}
		}
	}

	return true, 0, nil
}

func (m *MemoryWindow) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// RedisWindow is a fixed window shared by every instance: INCR, with the expiry set by the first hit.
type RedisWindow struct {
	client *redis.Client
	prefix string
}

func NewRedisWindow(client *redis.Client, prefix string) *RedisWindow {
	if prefix == "" {
		prefix = "newsdesk:window:"
	}
	return &RedisWindow{client: client, prefix: prefix}
}

func (r *RedisWindow) Hit(ctx context.Context, key string, maxHits int, window time.Duration, _ time.Time) (bool, time.Duration, error) {
	k := r.prefix + key

	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, k, window).Err(); err != nil {
			return false, 0, fmt.Errorf("redis pexpire: %w", err)
		}
	}
	if count <= int64(maxHits) {
		return true, 0, nil
	}

	ttl, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis pttl: %w", err)
	}
	// A key left without expiry would block the client forever.
	if ttl < 0 {
		if err := r.client.PExpire(ctx, k, window).Err(); err != nil {
			return false, 0, fmt.Errorf("redis pexpire: %w", err)
		}
		ttl = window
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return false, ttl, nil
}

var (
	_ Window = (*MemoryWindow)(nil)
	_ Window = (*RedisWindow)(nil)
)
