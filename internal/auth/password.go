package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const DefaultPasswordCost = 12

// PasswordHasher hashes and verifies admin passwords with bcrypt.
type PasswordHasher struct {
	cost  int
	dummy []byte
}

func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost <= 0 {
		cost = DefaultPasswordCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, &ConfigError{Field: "PASSWORD_HASH_COST", Reason: fmt.Sprintf("must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)}
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("newsdesk-timing-equaliser"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &PasswordHasher{cost: cost, dummy: dummy}, nil
}

func (h *PasswordHasher) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h *PasswordHasher) Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// VerifyDummy spends one comparison so unknown accounts take as long as known ones.
func (h *PasswordHasher) VerifyDummy(plain string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
}
