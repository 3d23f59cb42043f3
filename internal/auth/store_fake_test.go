package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errFakeStoreDown = errors.New("connection refused")

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	fail     error
	rotateFn func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]*Account)}
}

func (s *fakeStore) put(account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := cloneAccount(account)
	s.accounts[account.ID] = &copied
}

func (s *fakeStore) get(id string) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAccount(*s.accounts[id])
}

func (s *fakeStore) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Account{}, s.fail
	}
	for _, account := range s.accounts {
		if account.Email == email {
			return cloneAccount(*account), nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (s *fakeStore) GetAccountByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Account{}, s.fail
	}
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return cloneAccount(*account), nil
}

func (s *fakeStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for _, existing := range s.accounts {
		if existing.Email == account.Email {
			return ErrAccountExists
		}
	}
	copied := cloneAccount(account)
	s.accounts[account.ID] = &copied
	return nil
}

func (s *fakeStore) RecordFailedLogin(_ context.Context, accountID string, policy LockoutPolicy, now time.Time) (LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return LoginState{}, s.fail
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return LoginState{}, ErrAccountNotFound
	}

	state := LoginState{FailedAttempts: account.FailedLoginAttempts, LockedUntil: account.LockedUntil}
	if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
		return state, nil
	}
	next := policy.RegisterFailure(state, now)
	account.FailedLoginAttempts = next.FailedAttempts
	account.LockedUntil = next.LockedUntil
	return next, nil
}

func (s *fakeStore) RecordSuccessfulLogin(_ context.Context, accountID string, session SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if account.LockedUntil != nil && session.IssuedAt.Before(*account.LockedUntil) {
		return ErrLoginLocked{Until: *account.LockedUntil}
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	account.Sessions = append(account.Sessions, session)
	return nil
}

func (s *fakeStore) RotateSession(_ context.Context, accountID, oldTokenID string, next SessionRecord, now time.Time) error {
	if s.rotateFn != nil {
		s.rotateFn()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return ErrSessionNotActive
	}
	for i := range account.Sessions {
		if account.Sessions[i].TokenID == oldTokenID && account.Sessions[i].RevokedAt == nil {
			revokedAt := now
			account.Sessions[i].RevokedAt = &revokedAt
			account.Sessions = append(account.Sessions, next)
			return nil
		}
	}
	return ErrSessionNotActive
}

func (s *fakeStore) RevokeSession(_ context.Context, accountID, tokenID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return false, nil
	}
	for i := range account.Sessions {
		if account.Sessions[i].TokenID == tokenID && account.Sessions[i].RevokedAt == nil {
			revokedAt := now
			account.Sessions[i].RevokedAt = &revokedAt
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SetResetToken(_ context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.ResetTokenHash = tokenHash
	account.ResetTokenExpire = &expiresAt
	return nil
}

func (s *fakeStore) CompletePasswordReset(_ context.Context, accountID, tokenHash, passwordHash string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	account, ok := s.accounts[accountID]
	if !ok || account.ResetTokenHash != tokenHash || account.ResetTokenExpire == nil || !now.Before(*account.ResetTokenExpire) {
		return 0, ErrInvalidResetToken
	}

	account.PasswordHash = passwordHash
	account.ResetTokenHash = ""
	account.ResetTokenExpire = nil
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil

	var revoked int64
	for i := range account.Sessions {
		if account.Sessions[i].RevokedAt == nil {
			revokedAt := now
			account.Sessions[i].RevokedAt = &revokedAt
			revoked++
		}
	}
	return revoked, nil
}

func cloneAccount(account Account) Account {
	account.Sessions = append([]SessionRecord(nil), account.Sessions...)
	return account
}

var _ Store = (*fakeStore)(nil)
