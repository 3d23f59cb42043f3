package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"newsdesk/internal/audit"
	"newsdesk/internal/observability"
)

const (
	resetTokenBytes   = 24
	MinPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	MaxPasswordLength = 72
)

var ErrWeakPassword = fmt.Errorf("password must be between %d and %d characters", MinPasswordLength, MaxPasswordLength)

// ResetNotifier delivers a raw reset token to its owner.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, account Profile, rawToken string, expiresAt time.Time) error
}

// LogResetNotifier records that a token was issued. The token itself is never logged.
type LogResetNotifier struct {
	logger *observability.Logger
}

func NewLogResetNotifier(logger *observability.Logger) *LogResetNotifier {
	return &LogResetNotifier{logger: logger}
}

func (n *LogResetNotifier) NotifyPasswordReset(_ context.Context, account Profile, _ string, expiresAt time.Time) error {
	n.logger.Info("password_reset_issued", map[string]any{
		"account_id": account.ID,
		"email":      observability.MaskEmail(account.Email),
		"expires_at": expiresAt,
	})
	return nil
}

// RequestPasswordReset stores a fresh reset hash for a known email and returns the raw token.
// Unknown emails return an empty token and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", nil
	}

	account, err := s.getAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.logger.Info("password_reset_unknown_account", map[string]any{"email": observability.MaskEmail(email)})
			return "", nil
		}
		return "", err
	}

	raw, err := randomHex(resetTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := s.now().Add(s.resetTTL)

	storeCtx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.store.SetResetToken(storeCtx, account.ID, hashResetToken(raw), expiresAt); err != nil {
		return "", &StorageError{Op: "set reset token", Err: err}
	}

	if err := s.notifier.NotifyPasswordReset(ctx, account.Profile(), raw, expiresAt); err != nil {
		s.logger.Error("password_reset_notify_failed", map[string]any{"account_id": account.ID, "error": err.Error()})
	}

	return raw, nil
}

// ResetPassword consumes a reset token, replaces the password and revokes every active session.
func (s *Service) ResetPassword(ctx context.Context, email, rawToken, newPassword string, client ClientInfo) error {
	email = NormalizeEmail(email)
	if email == "" || rawToken == "" {
		return ErrInvalidResetToken
	}
	if len(newPassword) < MinPasswordLength || len(newPassword) > MaxPasswordLength {
		return ErrWeakPassword
	}

	account, err := s.getAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}

	now := s.now()
	presented := hashResetToken(rawToken)
	if account.ResetTokenHash == "" ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(account.ResetTokenHash)) != 1 ||
		account.ResetTokenExpire == nil || !now.Before(*account.ResetTokenExpire) {
		s.logger.Info("password_reset_rejected", map[string]any{"account_id": account.ID})
		return ErrInvalidResetToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	storeCtx, cancel := s.storageContext(ctx)
	defer cancel()
	revoked, err := s.store.CompletePasswordReset(storeCtx, account.ID, presented, hash, now)
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			return ErrInvalidResetToken
		}
		return &StorageError{Op: "complete password reset", Err: err}
	}

	s.logger.Info("password_reset_completed", map[string]any{"account_id": account.ID, "revoked_sessions": revoked})
	s.recordAudit(ctx, audit.Event{
		AccountID:    account.ID,
		AccountEmail: account.Email,
		Action:       audit.ActionPasswordReset,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
	})

	return nil
}

func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
