package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	DeletedSessions    int64 `json:"deleted_sessions"`
	ClearedResetTokens int64 `json:"cleared_reset_tokens"`
	DeletedIPLimits    int64 `json:"deleted_ip_limits"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const accountColumns = `
	id, email, name, role, password_hash, failed_login_attempts, locked_until,
	COALESCE(reset_token_hash, ''), reset_token_expire, created_at, updated_at
`

func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	return r.getAccount(ctx, r.db, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *Repository) GetAccountByID(ctx context.Context, id string) (Account, error) {
	return r.getAccount(ctx, r.db, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *Repository) getAccount(ctx context.Context, q rowQuerier, query string, arg string) (Account, error) {
	var account Account
	var lockedUntil, resetExpire sql.NullTime
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&account.ID, &account.Email, &account.Name, &account.Role, &account.PasswordHash,
		&account.FailedLoginAttempts, &lockedUntil, &account.ResetTokenHash, &resetExpire,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	account.LockedUntil = nullTimePtr(lockedUntil)
	account.ResetTokenExpire = nullTimePtr(resetExpire)

	sessions, err := r.listSessions(ctx, q, account.ID)
	if err != nil {
		return Account{}, err
	}
	account.Sessions = sessions

	return account, nil
}

func (r *Repository) listSessions(ctx context.Context, q rowQuerier, accountID string) ([]SessionRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT token_id, issued_at, revoked_at, client_ip, client_agent
		FROM auth_sessions
		WHERE account_id = $1
		ORDER BY issued_at ASC, token_id ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]SessionRecord, 0)
	for rows.Next() {
		var s SessionRecord
		var revokedAt sql.NullTime
		if err := rows.Scan(&s.TokenID, &s.IssuedAt, &revokedAt, &s.ClientIP, &s.ClientAgent); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.RevokedAt = nullTimePtr(revokedAt)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

func (r *Repository) CreateAccount(ctx context.Context, account Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, name, role, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, account.ID, account.Email, account.Name, account.Role, account.PasswordHash, account.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

func (r *Repository) RecordFailedLogin(ctx context.Context, accountID string, policy LockoutPolicy, now time.Time) (LoginState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LoginState{}, fmt.Errorf("begin failed login tx: %w", err)
	}
	defer tx.Rollback()

	var state LoginState
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_login_attempts, locked_until
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID).Scan(&state.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginState{}, ErrAccountNotFound
		}
		return LoginState{}, fmt.Errorf("lock account row: %w", err)
	}
	state.LockedUntil = nullTimePtr(lockedUntil)

	// A concurrent failure may have locked the account after the caller's check.
	if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
		if err := tx.Commit(); err != nil {
			return LoginState{}, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return state, nil
	}

	next := policy.RegisterFailure(state, now)
	var nextLock any
	if next.LockedUntil != nil {
		nextLock = next.LockedUntil.UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET failed_login_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, accountID, next.FailedAttempts, nextLock, now.UTC()); err != nil {
		return LoginState{}, fmt.Errorf("update failed login attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LoginState{}, fmt.Errorf("commit failed login tx: %w", err)
	}

	return next, nil
}

func (r *Repository) RecordSuccessfulLogin(ctx context.Context, accountID string, session SessionRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin login tx: %w", err)
	}
	defer tx.Rollback()

	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT locked_until
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lock account row: %w", err)
	}

	// Failures that landed after the caller read its snapshot may have locked the account.
	if lockedUntil.Valid && session.IssuedAt.Before(lockedUntil.Time) {
		return ErrLoginLocked{Until: lockedUntil.Time.UTC()}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, accountID, session.IssuedAt.UTC()); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}

	if err := insertSession(ctx, tx, accountID, session); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit login tx: %w", err)
	}

	return nil
}

func (r *Repository) RotateSession(ctx context.Context, accountID, oldTokenID string, next SessionRecord, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session rotation tx: %w", err)
	}
	defer tx.Rollback()

	// Conditional revoke: of two racing rotations only one sees a row here.
	res, err := tx.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = $3
		WHERE account_id = $1 AND token_id = $2 AND revoked_at IS NULL
	`, accountID, oldTokenID, now.UTC())
	if err != nil {
		return fmt.Errorf("revoke rotated session: %w", err)
	}
	if err := requireOneRow(res, ErrSessionNotActive); err != nil {
		return err
	}

	if err := insertSession(ctx, tx, accountID, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session rotation tx: %w", err)
	}

	return nil
}

func (r *Repository) RevokeSession(ctx context.Context, accountID, tokenID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = $3
		WHERE account_id = $1 AND token_id = $2 AND revoked_at IS NULL
	`, accountID, tokenID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke session rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *Repository) SetResetToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET reset_token_hash = $2, reset_token_expire = $3, updated_at = NOW()
		WHERE id = $1
	`, accountID, tokenHash, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	return requireOneRow(res, ErrAccountNotFound)
}

func (r *Repository) CompletePasswordReset(ctx context.Context, accountID, tokenHash, passwordHash string, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin password reset tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $3,
			reset_token_hash = NULL,
			reset_token_expire = NULL,
			failed_login_attempts = 0,
			locked_until = NULL,
			updated_at = $4
		WHERE id = $1 AND reset_token_hash = $2 AND reset_token_expire > $4
	`, accountID, tokenHash, passwordHash, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("update password: %w", err)
	}
	if err := requireOneRow(res, ErrInvalidResetToken); err != nil {
		return 0, err
	}

	revoked, err := tx.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = $2
		WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke sessions after reset: %w", err)
	}
	count, err := revoked.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoked sessions rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit password reset tx: %w", err)
	}

	return count, nil
}

func (r *Repository) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.UTC().Add(-window)

	var hits int
	var windowStartedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		WITH upsert AS (
			INSERT INTO auth_login_ip_limits (ip, window_started_at, hits, updated_at)
			VALUES ($1, $2, 1, $2)
			ON CONFLICT (ip) DO UPDATE
			SET
				hits = CASE
					WHEN auth_login_ip_limits.window_started_at <= $3 THEN 1
					ELSE auth_login_ip_limits.hits + 1
				END,
				window_started_at = CASE
					WHEN auth_login_ip_limits.window_started_at <= $3 THEN $2
					ELSE auth_login_ip_limits.window_started_at
				END,
				updated_at = $2
			RETURNING hits, window_started_at
		)
		SELECT hits, window_started_at FROM upsert
	`, ip, now.UTC(), threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return false, 0, fmt.Errorf("upsert login ip rate limit: %w", err)
	}

	if hits <= maxHits {
		return true, 0, nil
	}

	retryAfter := windowStartedAt.Add(window).Sub(now.UTC())
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return false, retryAfter, nil
}

// CleanupStaleAuthData prunes session records that can no longer validate, expired reset tokens and
// stale limiter rows. sessionMaxAge is the refresh token lifetime.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, revokedRetention, sessionMaxAge, ipLimitRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if revokedRetention <= 0 {
		revokedRetention = 14 * 24 * time.Hour
	}
	if sessionMaxAge <= 0 {
		sessionMaxAge = defaultRefreshTTL
	}
	if ipLimitRetention <= 0 {
		ipLimitRetention = 30 * 24 * time.Hour
	}

	now := time.Now().UTC()

	deletedSessions, err := r.deleteStaleSessions(ctx, now.Add(-revokedRetention), now.Add(-sessionMaxAge), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	clearedResets, err := r.clearExpiredResetTokens(ctx, now)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedIPLimits, err := r.deleteStaleIPLimits(ctx, now.Add(-ipLimitRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedSessions:    deletedSessions,
		ClearedResetTokens: clearedResets,
		DeletedIPLimits:    deletedIPLimits,
	}, nil
}

func (r *Repository) deleteStaleSessions(ctx context.Context, revokedCutoff, issuedCutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT account_id, token_id
			FROM auth_sessions
			WHERE issued_at < $2 OR (revoked_at IS NOT NULL AND revoked_at < $1)
			ORDER BY issued_at ASC
			LIMIT $3
		)
		DELETE FROM auth_sessions s
		USING stale
		WHERE s.account_id = stale.account_id AND s.token_id = stale.token_id
	`, revokedCutoff, issuedCutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale sessions rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) clearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET reset_token_hash = NULL, reset_token_expire = NULL
		WHERE reset_token_expire IS NOT NULL AND reset_token_expire < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("clear expired reset tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired reset tokens rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleIPLimits(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT ip
			FROM auth_login_ip_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_ip_limits t
		USING stale
		WHERE t.ip = stale.ip
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login ip limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login ip limits rows affected: %w", err)
	}

	return affected, nil
}

func insertSession(ctx context.Context, tx *sql.Tx, accountID string, session SessionRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO auth_sessions (account_id, token_id, issued_at, client_ip, client_agent)
		VALUES ($1, $2, $3, $4, $5)
	`, accountID, session.TokenID, session.IssuedAt.UTC(), session.ClientIP, session.ClientAgent)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func requireOneRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

var _ Store = (*Repository)(nil)
