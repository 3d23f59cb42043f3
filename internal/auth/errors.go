package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrTokenReuseDetected is returned when a revoked session's refresh token is presented again.
	// It matches ErrInvalidRefreshToken with errors.Is so clients see the same response.
	ErrTokenReuseDetected = fmt.Errorf("%w: reuse detected", ErrInvalidRefreshToken)

	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")

	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrSessionNotActive = errors.New("session not active")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "account temporarily locked"
}

// ConfigError is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("auth config %s: %s", e.Field, e.Reason)
}

// StorageError marks a failed or timed out store call. Callers may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
