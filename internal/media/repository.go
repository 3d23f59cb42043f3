package media

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const listLimit = 200

// Asset is an upload in flight.
type Asset struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Stored is where the uploader put an asset.
type Stored struct {
	URL      string
	PublicID string
}

type Media struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	URL            string    `json:"url"`
	Mimetype       string    `json:"mimetype"`
	Size           int64     `json:"size"`
	UploadedBy     string    `json:"uploadedBy"`
	AssociatedPost *string   `json:"associatedPost"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, m Media) (Media, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Media{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	m.ID = id.String()
	m.CreatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO media (id, filename, url, mimetype, size, uploaded_by, associated_post, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.Filename, m.URL, m.Mimetype, m.Size, m.UploadedBy, m.AssociatedPost, m.CreatedAt)
	if err != nil {
		return Media{}, fmt.Errorf("insert media: %w", err)
	}

	return m, nil
}

// ListByUploader returns the newest uploads of one account.
func (r *Repository) ListByUploader(ctx context.Context, accountID string) ([]Media, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, filename, url, mimetype, size, uploaded_by, associated_post, created_at
		FROM media
		WHERE uploaded_by = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	items := make([]Media, 0)
	for rows.Next() {
		var m Media
		var post sql.NullString
		if err := rows.Scan(&m.ID, &m.Filename, &m.URL, &m.Mimetype, &m.Size, &m.UploadedBy, &post, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		if post.Valid {
			m.AssociatedPost = &post.String
		}
		items = append(items, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}

	return items, nil
}
