package maintenance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsdesk/internal/auth"
	"newsdesk/internal/post"
)

type fakeCleaner struct {
	calls     int
	batchSize int
	err       error
}

func (c *fakeCleaner) CleanupStaleAuthData(_ context.Context, _, _, _ time.Duration, batchSize int) (auth.CleanupResult, error) {
	c.calls++
	c.batchSize = batchSize
	return auth.CleanupResult{DeletedSessions: 3}, c.err
}

type fakeSweeper struct {
	calls int
}

func (s *fakeSweeper) RunOnce(context.Context) ([]post.Published, error) {
	s.calls++
	return []post.Published{{ID: "p1", Slug: "due"}}, nil
}

func request(method, path, token string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestCleanupRequiresSecret(t *testing.T) {
	t.Parallel()
	cleaner := &fakeCleaner{}
	h := NewHandler(cleaner, &fakeSweeper{}, nil, "s3cret", CleanupPolicy{BatchSize: 50})

	rec := httptest.NewRecorder()
	h.Cleanup(rec, request(http.MethodPost, "/internal/maintenance/cleanup", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Cleanup(rec, request(http.MethodPost, "/internal/maintenance/cleanup", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, cleaner.calls)

	rec = httptest.NewRecorder()
	h.Cleanup(rec, request(http.MethodGet, "/internal/maintenance/cleanup", "s3cret"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted_sessions":3`)
	assert.Equal(t, 50, cleaner.batchSize)
}

func TestDisabledWithoutSecret(t *testing.T) {
	t.Parallel()
	h := NewHandler(&fakeCleaner{}, &fakeSweeper{}, nil, "  ", CleanupPolicy{})

	rec := httptest.NewRecorder()
	h.Publish(rec, request(http.MethodPost, "/internal/maintenance/publish", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupFailure(t *testing.T) {
	t.Parallel()
	h := NewHandler(&fakeCleaner{err: errors.New("db down")}, &fakeSweeper{}, nil, "s3cret", CleanupPolicy{})

	rec := httptest.NewRecorder()
	h.Cleanup(rec, request(http.MethodPost, "/internal/maintenance/cleanup", "s3cret"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPublishRunsSweep(t *testing.T) {
	t.Parallel()
	sweeper := &fakeSweeper{}
	h := NewHandler(&fakeCleaner{}, sweeper, nil, "s3cret", CleanupPolicy{})

	rec := httptest.NewRecorder()
	h.Publish(rec, request(http.MethodPost, "/internal/maintenance/publish", "s3cret"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sweeper.calls)
	assert.Contains(t, rec.Body.String(), `"slug":"due"`)
}
