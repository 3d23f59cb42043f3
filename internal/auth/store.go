package auth

import (
	"context"
	"time"
)

// Store is the Credential Store. Each method is one atomic unit at the storage layer.
type Store interface {
	// GetAccountByEmail and GetAccountByID return ErrAccountNotFound when absent.
	// The returned account includes its session records in issue order.
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, id string) (Account, error)

	// CreateAccount returns ErrAccountExists when the email is taken.
	CreateAccount(ctx context.Context, account Account) error

	// RecordFailedLogin applies policy to the account's counters under a row lock.
	RecordFailedLogin(ctx context.Context, accountID string, policy LockoutPolicy, now time.Time) (LoginState, error)

	// RecordSuccessfulLogin clears the lockout counters and appends session under the account row lock.
	// It returns ErrLoginLocked when the account is locked at session.IssuedAt.
	RecordSuccessfulLogin(ctx context.Context, accountID string, session SessionRecord) error

	// RotateSession revokes oldTokenID only while it is active and then appends next.
	// It returns ErrSessionNotActive without appending when the old record is missing or revoked.
	RotateSession(ctx context.Context, accountID, oldTokenID string, next SessionRecord, now time.Time) error

	// RevokeSession sets revoked_at when unset. It reports whether a record changed.
	RevokeSession(ctx context.Context, accountID, tokenID string, now time.Time) (bool, error)

	SetResetToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) error

	// CompletePasswordReset swaps the password hash only while tokenHash is still the stored, unexpired
	// reset hash, clears the reset and lockout fields and revokes every active session.
	// It returns ErrInvalidResetToken when the condition no longer holds.
	CompletePasswordReset(ctx context.Context, accountID, tokenHash, passwordHash string, now time.Time) (int64, error)
}
