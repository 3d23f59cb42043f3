package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	stats PostStats
	daily map[string]int64
	err   error
}

func (f fakeSource) PostStats(context.Context) (PostStats, error) {
	return f.stats, f.err
}

func (f fakeSource) DailyViews(context.Context, time.Time, time.Time) (map[string]int64, error) {
	return f.daily, f.err
}

func TestBuildSummaryFillsMissingDays(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)

	summary := BuildSummary(PostStats{Total: 3, Published: 2, TotalViews: 40}, map[string]int64{
		"2026-03-04": 7,
		"2026-02-26": 2,
		"2026-02-25": 99,
	}, now)

	require.Len(t, summary.Last7Days, 7)
	assert.Equal(t, DayViews{Day: "Thu", Date: "2026-02-26", Views: 2}, summary.Last7Days[0])
	assert.Equal(t, DayViews{Day: "Fri", Date: "2026-02-27", Views: 0}, summary.Last7Days[1])
	assert.Equal(t, DayViews{Day: "Sun", Date: "2026-03-01", Views: 0}, summary.Last7Days[3])
	assert.Equal(t, DayViews{Day: "Wed", Date: "2026-03-04", Views: 7}, summary.Last7Days[6])
	var total int64
	for _, d := range summary.Last7Days {
		total += d.Views
	}
	assert.Equal(t, int64(9), total)
	assert.Equal(t, int64(40), summary.Today["views"])
	assert.NotNil(t, summary.Categories)
}

func TestDateKeyUsesUTC(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+10", 10*60*60)
	assert.Equal(t, "2026-03-03", DateKey(time.Date(2026, 3, 4, 5, 0, 0, 0, loc)))
}

func TestSummaryHandler(t *testing.T) {
	t.Parallel()
	h := NewHandler(fakeSource{
		stats: PostStats{
			Total:      1,
			Published:  1,
			TopPost:    &TopPost{ID: "p1", Title: "Hello", Slug: "hello", Views: 5, Category: "markets"},
			Categories: []CategoryCount{{Name: "markets", Count: 1}},
		},
	})
	h.now = func() time.Time { return time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	h.Summary(rec, httptest.NewRequest(http.MethodGet, "/admin/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Published)
	require.NotNil(t, body.TopPost)
	assert.Equal(t, "hello", body.TopPost.Slug)
	assert.Len(t, body.Last7Days, 7)
}

func TestSummaryHandlerFailure(t *testing.T) {
	t.Parallel()
	h := NewHandler(fakeSource{err: errors.New("db down")})

	rec := httptest.NewRecorder()
	h.Summary(rec, httptest.NewRequest(http.MethodGet, "/admin/summary", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to load summary"}`, rec.Body.String())
}
