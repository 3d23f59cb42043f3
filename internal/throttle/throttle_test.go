package throttle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryThrottlesWithinWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(3*time.Second, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := m.Allow(ctx, "1.2.3.4:post")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Allow(ctx, "1.2.3.4:post")
	assert.False(t, ok)

	ok, _ = m.Allow(ctx, "5.6.7.8:post")
	assert.True(t, ok)

	now = now.Add(3 * time.Second)
	ok, _ = m.Allow(ctx, "1.2.3.4:post")
	assert.True(t, ok)
}

func TestMemoryBoundsEntries(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute, 3)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		ok, err := m.Allow(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.LessOrEqual(t, m.Len(), 3)

	// The newest key survives eviction.
	ok, _ := m.Allow(ctx, "key-9")
	assert.False(t, ok)
}

func TestMemoryZeroTTLAlwaysAllows(t *testing.T) {
	t.Parallel()
	m := NewMemory(0, 0)
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRedisThrottle(t *testing.T) {
	url := os.Getenv("THROTTLE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("THROTTLE_TEST_REDIS_URL not set")
	}

	client, err := NewRedisClient(url)
	require.NoError(t, err)
	defer client.Close()

	r := NewRedis(client, time.Second, fmt.Sprintf("newsdesk:test:%d:", time.Now().UnixNano()))
	ctx := context.Background()

	ok, err := r.Allow(ctx, "ip:slug")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Allow(ctx, "ip:slug")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryWindowSlides(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewMemoryWindow(0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := w.Hit(ctx, "ip", 2, time.Minute, now.Add(time.Duration(i)*10*time.Second))
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, retryAfter, err := w.Hit(ctx, "ip", 2, time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retryAfter)

	ok, _, _ = w.Hit(ctx, "other", 2, time.Minute, now.Add(30*time.Second))
	assert.True(t, ok)

	// The first hit falls out of the window.
	ok, _, _ = w.Hit(ctx, "ip", 2, time.Minute, now.Add(61*time.Second))
	assert.True(t, ok)
}

func TestMemoryWindowForgetsIdleKeys(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewMemoryWindow(2)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		_, _, err := w.Hit(ctx, key, 5, time.Minute, now)
		require.NoError(t, err)
	}
	_, _, err := w.Hit(ctx, "c", 5, time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, w.Len())
}

func TestRateLimiterMiddleware(t *testing.T) {
	t.Parallel()
	limiter := NewRateLimiter(NewMemoryWindow(0), 2, time.Minute, nil).Skip("/auth/refresh")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.7:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("/posts").Code)
	assert.Equal(t, http.StatusNoContent, do("/posts/a").Code)

	limited := do("/posts")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests, please try again later"}`, limited.Body.String())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, do("/auth/refresh").Code)
	}
}

type brokenWindow struct{}

func (brokenWindow) Hit(context.Context, string, int, time.Duration, time.Time) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimiterFailsOpen(t *testing.T) {
	t.Parallel()
	handler := NewRateLimiter(brokenWindow{}, 1, time.Minute, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestRedisWindow(t *testing.T) {
	url := os.Getenv("THROTTLE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("THROTTLE_TEST_REDIS_URL not set")
	}

	client, err := NewRedisClient(url)
	require.NoError(t, err)
	defer client.Close()

	w := NewRedisWindow(client, fmt.Sprintf("newsdesk:test:%d:", time.Now().UnixNano()))
	ctx := context.Background()
	now := time.Now()

	ok, _, err := w.Hit(ctx, "ip", 1, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, retryAfter, err := w.Hit(ctx, "ip", 1, time.Minute, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)
}
