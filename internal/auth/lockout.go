package auth

import "time"

const (
	defaultMaxAttempts  = 5
	defaultLockDuration = 10 * time.Minute
)

type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: defaultMaxAttempts, Duration: defaultLockDuration}
}

// LockedUntil reports the lock expiry when the account is locked at now.
func (p LockoutPolicy) LockedUntil(account Account, now time.Time) (time.Time, bool) {
	if account.LockedUntil == nil || !now.Before(*account.LockedUntil) {
		return time.Time{}, false
	}
	return *account.LockedUntil, true
}

// RegisterFailure returns the state after one more failed attempt. An existing lock is never shortened.
func (p LockoutPolicy) RegisterFailure(state LoginState, now time.Time) LoginState {
	next := LoginState{FailedAttempts: state.FailedAttempts + 1, LockedUntil: state.LockedUntil}
	if next.FailedAttempts < p.Threshold {
		return next
	}

	until := now.UTC().Add(p.Duration)
	if next.LockedUntil == nil || until.After(*next.LockedUntil) {
		next.LockedUntil = &until
	}
	return next
}

func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = defaultMaxAttempts
	}
	if p.Duration <= 0 {
		p.Duration = defaultLockDuration
	}
	return p
}
