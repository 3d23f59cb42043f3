package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ActionLogin         = "login"
	ActionPasswordReset = "password_reset"
	ActionCreatePost    = "create_post"
	ActionUpdatePost    = "update_post"
	ActionDeletePost    = "delete_post"
	ActionUploadMedia   = "upload_media"
)

type Event struct {
	AccountID    string
	AccountEmail string
	Action       string
	TargetID     string
	IP           string
	UserAgent    string
}

type Entry struct {
	ID           string
	AccountID    string
	AccountEmail string
	Action       string
	TargetID     string
	TargetTitle  string
	CreatedAt    time.Time
}

// Recorder persists audit events. Callers treat failures as non-fatal.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Record(ctx context.Context, event Event) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate audit id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, account_id, account_email, action, target_id, ip, user_agent, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6, $7, $8)
	`, id.String(), event.AccountID, event.AccountEmail, event.Action, event.TargetID, event.IP, event.UserAgent, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 15
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, COALESCE(a.account_id, ''), a.account_email, a.action,
			COALESCE(a.target_id, ''), COALESCE(p.title, ''), a.created_at
		FROM audit_events a
		LEFT JOIN posts p ON p.id = a.target_id
		ORDER BY a.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.AccountEmail, &e.Action, &e.TargetID, &e.TargetTitle, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return entries, nil
}
