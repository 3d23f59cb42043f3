package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

const summaryTimeout = 5 * time.Second

type TopPost struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Views    int64  `json:"views"`
	Category string `json:"category"`
}

type CategoryCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type PostStats struct {
	Total      int64
	Published  int64
	Drafts     int64
	Scheduled  int64
	TotalViews int64
	TopPost    *TopPost
	Categories []CategoryCount
}

type DayViews struct {
	Day   string `json:"day"`
	Date  string `json:"date"`
	Views int64  `json:"views"`
}

type Summary struct {
	Total      int64           `json:"total"`
	Published  int64           `json:"published"`
	Drafts     int64           `json:"drafts"`
	Scheduled  int64           `json:"scheduled"`
	Today      map[string]any  `json:"today"`
	TopPost    *TopPost        `json:"topPost"`
	Last7Days  []DayViews      `json:"last7Days"`
	Categories []CategoryCount `json:"categories"`
}

type Source interface {
	PostStats(ctx context.Context) (PostStats, error)
	DailyViews(ctx context.Context, from, to time.Time) (map[string]int64, error)
}

// BuildSummary fills the last seven UTC days ending at now, zero for days without a row.
func BuildSummary(stats PostStats, daily map[string]int64, now time.Time) Summary {
	now = now.UTC()
	days := make([]DayViews, 0, 7)
	for i := 6; i >= 0; i-- {
		d := now.AddDate(0, 0, -i)
		key := DateKey(d)
		days = append(days, DayViews{Day: d.Format("Mon"), Date: key, Views: daily[key]})
	}

	categories := stats.Categories
	if categories == nil {
		categories = []CategoryCount{}
	}

	return Summary{
		Total:      stats.Total,
		Published:  stats.Published,
		Drafts:     stats.Drafts,
		Scheduled:  stats.Scheduled,
		Today:      map[string]any{"views": stats.TotalViews, "countedToday": daily[DateKey(now)]},
		TopPost:    stats.TopPost,
		Last7Days:  days,
		Categories: categories,
	}
}

type Handler struct {
	source Source
	now    func() time.Time
}

func NewHandler(source Source) *Handler {
	return &Handler{source: source, now: time.Now}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), summaryTimeout)
	defer cancel()

	now := h.now().UTC()
	stats, err := h.source.PostStats(ctx)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}

	daily, err := h.source.DailyViews(ctx, now.AddDate(0, 0, -6), now)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}

	writeJSON(w, http.StatusOK, BuildSummary(stats, daily, now))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
