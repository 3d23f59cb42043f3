package auth

import "time"

const RoleAdmin = "admin"

// Account is the single credential record per admin user. Sessions is ordered by IssuedAt.
type Account struct {
	ID                  string
	Email               string
	Name                string
	Role                string
	PasswordHash        string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	ResetTokenHash      string
	ResetTokenExpire    *time.Time
	Sessions            []SessionRecord
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Session returns the record with the given token id, active or not.
func (a Account) Session(tokenID string) (SessionRecord, bool) {
	for _, s := range a.Sessions {
		if s.TokenID == tokenID {
			return s, true
		}
	}
	return SessionRecord{}, false
}

func (a Account) Profile() Profile {
	return Profile{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// SessionRecord correlates one refresh token to its account. ACTIVE while RevokedAt is nil.
type SessionRecord struct {
	TokenID     string
	IssuedAt    time.Time
	RevokedAt   *time.Time
	ClientIP    string
	ClientAgent string
}

func (s SessionRecord) Active() bool {
	return s.RevokedAt == nil
}

// ClientInfo is recorded on new sessions for audit only.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// LoginState is the lockout bookkeeping after a failed attempt.
type LoginState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session pairs a fresh access token with the refresh token that backs it.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Account          Profile
}
