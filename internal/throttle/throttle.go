package throttle

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

// Limiter decides whether an event for key may count again.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is a process-local TTL set. It forgets keys once their window has passed.
type Memory struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	seen       map[string]time.Time
	now        func() time.Time
}

func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Memory{
		ttl:        ttl,
		maxEntries: maxEntries,
		seen:       make(map[string]time.Time),
		now:        time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	if m.ttl <= 0 {
		return true, nil
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if expires, ok := m.seen[key]; ok && now.Before(expires) {
		return false, nil
	}

	if len(m.seen) >= m.maxEntries {
		m.evict(now)
	}
	m.seen[key] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// evict drops expired keys, then the entry closest to expiry while still full.
func (m *Memory) evict(now time.Time) {
	for key, expires := range m.seen {
		if !now.Before(expires) {
			delete(m.seen, key)
		}
	}

	for len(m.seen) >= m.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, expires := range m.seen {
			if oldestKey == "" || expires.Before(oldest) {
				oldestKey, oldest = key, expires
			}
		}
		delete(m.seen, oldestKey)
	}
}
