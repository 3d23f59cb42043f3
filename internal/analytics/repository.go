package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DateKey is the UTC calendar day a counter lands in.
func DateKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// IncrementDailyViews adds one view to day, creating the row when absent.
func (r *Repository) IncrementDailyViews(ctx context.Context, day time.Time, slug string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_summaries (date, views, posts_created, top_post_slug)
		VALUES ($1, 1, 0, NULLIF($2, ''))
		ON CONFLICT (date) DO UPDATE
		SET views = daily_summaries.views + 1,
			top_post_slug = COALESCE(NULLIF($2, ''), daily_summaries.top_post_slug)
	`, DateKey(day), slug)
	if err != nil {
		return fmt.Errorf("increment daily views: %w", err)
	}
	return nil
}

func (r *Repository) IncrementPostsCreated(ctx context.Context, day time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_summaries (date, views, posts_created)
		VALUES ($1, 0, 1)
		ON CONFLICT (date) DO UPDATE
		SET posts_created = daily_summaries.posts_created + 1
	`, DateKey(day))
	if err != nil {
		return fmt.Errorf("increment posts created: %w", err)
	}
	return nil
}

// DailyViews returns views keyed by date for the inclusive range.
func (r *Repository) DailyViews(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, views
		FROM daily_summaries
		WHERE date >= $1 AND date <= $2
	`, DateKey(from), DateKey(to))
	if err != nil {
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	defer rows.Close()

	views := make(map[string]int64)
	for rows.Next() {
		var date string
		var count int64
		if err := rows.Scan(&date, &count); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		views[date] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily summaries: %w", err)
	}

	return views, nil
}

func (r *Repository) PostStats(ctx context.Context) (PostStats, error) {
	var stats PostStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'published'),
			COUNT(*) FILTER (WHERE status = 'draft'),
			COUNT(*) FILTER (WHERE status = 'scheduled'),
			COALESCE(SUM(views), 0)
		FROM posts
	`).Scan(&stats.Total, &stats.Published, &stats.Drafts, &stats.Scheduled, &stats.TotalViews)
	if err != nil {
		return PostStats{}, fmt.Errorf("count posts: %w", err)
	}

	var top TopPost
	err = r.db.QueryRowContext(ctx, `
		SELECT id, title, slug, views, category
		FROM posts
		ORDER BY views DESC, created_at DESC
		LIMIT 1
	`).Scan(&top.ID, &top.Title, &top.Slug, &top.Views, &top.Category)
	switch {
	case err == nil:
		stats.TopPost = &top
	case errors.Is(err, sql.ErrNoRows):
	default:
		return PostStats{}, fmt.Errorf("query top post: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category, COUNT(*)
		FROM posts
		GROUP BY category
		ORDER BY COUNT(*) DESC, category
	`)
	if err != nil {
		return PostStats{}, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	stats.Categories = make([]CategoryCount, 0)
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return PostStats{}, fmt.Errorf("scan category: %w", err)
		}
		stats.Categories = append(stats.Categories, c)
	}
	if err := rows.Err(); err != nil {
		return PostStats{}, fmt.Errorf("iterate categories: %w", err)
	}

	return stats, nil
}
