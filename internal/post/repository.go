package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	uniqueViolation = "23505"
	maxSlugAttempts = 100
)

var ErrSlugExhausted = errors.New("could not find a free slug")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const postColumns = `
	id, title, slug, excerpt, content, hero_image_url, hero_image_alt, category, sub_category,
	tags, keywords, related_tickers, source, reference_links, status, scheduled_for, views,
	meta_title, meta_description, created_by, created_at, updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner, types *pgtype.Map) (Post, error) {
	var p Post
	var scheduledFor sql.NullTime
	err := row.Scan(
		&p.ID, &p.Title, &p.Slug, &p.Excerpt, &p.Content, &p.HeroImage.URL, &p.HeroImage.Alt,
		&p.Category, &p.SubCategory,
		types.SQLScanner(&p.Tags), types.SQLScanner(&p.Keywords), types.SQLScanner(&p.RelatedTickers),
		&p.Source, types.SQLScanner(&p.ReferenceLinks), &p.Status, &scheduledFor, &p.Views,
		&p.MetaTitle, &p.MetaDescription, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Post{}, err
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time.UTC()
		p.ScheduledFor = &t
	}
	normalizeLists(&p)
	return p, nil
}

func (r *Repository) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	types := pgtype.NewMap()
	posts := make([]Post, 0)
	for rows.Next() {
		p, err := scanPost(rows, types)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	return posts, nil
}

func (r *Repository) queryPost(ctx context.Context, query string, args ...any) (Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx, query, args...), pgtype.NewMap())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Post{}, ErrNotFound
		}
		return Post{}, fmt.Errorf("query post: %w", err)
	}
	return p, nil
}

func (r *Repository) List(ctx context.Context) ([]Post, error) {
	return r.queryPosts(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC`)
}

func (r *Repository) ListPublished(ctx context.Context, filter ListFilter) ([]Post, error) {
	return r.queryPosts(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE status = 'published'
			AND ($1 = '' OR category = $1)
			AND ($2 = '' OR $2 = ANY(tags))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, filter.Category, filter.Tag, filter.Limit, filter.Offset())
}

func (r *Repository) GetPublishedBySlug(ctx context.Context, slug string) (Post, error) {
	return r.queryPost(ctx, `SELECT `+postColumns+` FROM posts WHERE slug = $1 AND status = 'published'`, slug)
}

// IncrementViews counts one view on a published post and returns it.
func (r *Repository) IncrementViews(ctx context.Context, slug string) (Post, error) {
	return r.queryPost(ctx, `
		UPDATE posts
		SET views = views + 1
		WHERE slug = $1 AND status = 'published'
		RETURNING `+postColumns, slug)
}

// Create inserts the post under the first free slug derived from baseSlug.
func (r *Repository) Create(ctx context.Context, input Input, baseSlug, createdBy string) (Post, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Post{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		p, err := r.queryPost(ctx, `
			INSERT INTO posts (
				id, title, slug, excerpt, content, hero_image_url, hero_image_alt, category, sub_category,
				tags, keywords, related_tickers, source, reference_links, status, scheduled_for,
				meta_title, meta_description, created_by, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
			RETURNING `+postColumns,
			id.String(), input.Title, SlugCandidate(baseSlug, attempt), input.Excerpt, input.Content,
			input.HeroImage.URL, input.HeroImage.Alt, input.Category, input.SubCategory,
			input.Tags, input.Keywords, input.RelatedTickers, input.Source, input.ReferenceLinks,
			input.Status, input.ScheduledFor, input.MetaTitle, input.MetaDescription, createdBy, now,
		)
		if err == nil {
			return p, nil
		}
		if !isUniqueViolation(err, "posts_slug_key") {
			return Post{}, fmt.Errorf("insert post: %w", err)
		}
	}

	return Post{}, ErrSlugExhausted
}

// Update replaces the editable fields. An empty baseSlug keeps the current slug.
func (r *Repository) Update(ctx context.Context, id string, input Input, baseSlug string) (Post, error) {
	now := time.Now().UTC()
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		var slug string
		if baseSlug != "" {
			slug = SlugCandidate(baseSlug, attempt)
		}

		p, err := r.queryPost(ctx, `
			UPDATE posts
			SET title = $2, slug = COALESCE(NULLIF($3, ''), slug), excerpt = $4, content = $5,
				hero_image_url = $6, hero_image_alt = $7, category = $8, sub_category = $9,
				tags = $10, keywords = $11, related_tickers = $12, source = $13, reference_links = $14,
				status = $15, scheduled_for = $16, meta_title = $17, meta_description = $18, updated_at = $19
			WHERE id = $1
			RETURNING `+postColumns,
			id, input.Title, slug, input.Excerpt, input.Content,
			input.HeroImage.URL, input.HeroImage.Alt, input.Category, input.SubCategory,
			input.Tags, input.Keywords, input.RelatedTickers, input.Source, input.ReferenceLinks,
			input.Status, input.ScheduledFor, input.MetaTitle, input.MetaDescription, now,
		)
		if err == nil || errors.Is(err, ErrNotFound) {
			return p, err
		}
		if baseSlug == "" || !isUniqueViolation(err, "posts_slug_key") {
			return Post{}, fmt.Errorf("update post: %w", err)
		}
	}

	return Post{}, ErrSlugExhausted
}

func (r *Repository) Delete(ctx context.Context, id string) (Post, error) {
	var p Post
	err := r.db.QueryRowContext(ctx, `DELETE FROM posts WHERE id = $1 RETURNING id, title, slug`, id).
		Scan(&p.ID, &p.Title, &p.Slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Post{}, ErrNotFound
		}
		return Post{}, fmt.Errorf("delete post: %w", err)
	}

	return p, nil
}

// PublishDue promotes every scheduled post whose time has come.
func (r *Repository) PublishDue(ctx context.Context, now time.Time) ([]Published, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE posts
		SET status = 'published', scheduled_for = NULL, updated_at = $1
		WHERE status = 'scheduled' AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		RETURNING id, slug, title
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("publish due posts: %w", err)
	}
	defer rows.Close()

	published := make([]Published, 0)
	for rows.Next() {
		var p Published
		if err := rows.Scan(&p.ID, &p.Slug, &p.Title); err != nil {
			return nil, fmt.Errorf("scan published post: %w", err)
		}
		published = append(published, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published posts: %w", err)
	}

	return published, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

func normalizeLists(p *Post) {
	for _, list := range []*[]string{&p.Tags, &p.Keywords, &p.RelatedTickers, &p.ReferenceLinks} {
		if *list == nil {
			*list = []string{}
		}
	}
}
