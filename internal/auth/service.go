package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"newsdesk/internal/audit"
	"newsdesk/internal/observability"
)

const (
	defaultResetTTL       = time.Hour
	defaultStorageTimeout = 5 * time.Second
	sessionTokenIDBytes   = 16
)

type SecurityConfig struct {
	Lockout        LockoutPolicy
	ResetTokenTTL  time.Duration
	StorageTimeout time.Duration
}

type Service struct {
	store          Store
	hasher         *PasswordHasher
	tokens         *TokenIssuer
	lockout        LockoutPolicy
	resetTTL       time.Duration
	storageTimeout time.Duration
	notifier       ResetNotifier
	audit          audit.Recorder
	logger         *observability.Logger
	metrics        *observability.Metrics
	now            func() time.Time
}

func NewService(store Store, hasher *PasswordHasher, tokens *TokenIssuer) *Service {
	logger := observability.NewNopLogger()
	return &Service{
		store:          store,
		hasher:         hasher,
		tokens:         tokens,
		lockout:        DefaultLockoutPolicy(),
		resetTTL:       defaultResetTTL,
		storageTimeout: defaultStorageTimeout,
		notifier:       NewLogResetNotifier(logger),
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithSecurityConfig(cfg SecurityConfig) {
	s.lockout = cfg.Lockout.normalized()
	if cfg.ResetTokenTTL > 0 {
		s.resetTTL = cfg.ResetTokenTTL
	}
	if cfg.StorageTimeout > 0 {
		s.storageTimeout = cfg.StorageTimeout
	}
}

func (s *Service) WithObservability(logger *observability.Logger, metrics *observability.Metrics) {
	if logger != nil {
		s.logger = logger
		if n, ok := s.notifier.(*LogResetNotifier); ok {
			n.logger = logger
		}
	}
	s.metrics = metrics
}

func (s *Service) WithAuditRecorder(recorder audit.Recorder) {
	s.audit = recorder
}

func (s *Service) WithResetNotifier(notifier ResetNotifier) {
	if notifier != nil {
		s.notifier = notifier
	}
}

func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

func (s *Service) Login(ctx context.Context, email, password string, client ClientInfo) (Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	now := s.now()
	account, err := s.getAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.hasher.VerifyDummy(password)
			s.metrics.AuthEvent("login_failure")
			s.logger.Info("login_unknown_account", map[string]any{"email": observability.MaskEmail(email), "ip": client.IP})
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	if until, locked := s.lockout.LockedUntil(account, now); locked {
		s.metrics.AuthEvent("login_locked")
		s.logger.Warn("login_rejected_locked", map[string]any{"account_id": account.ID, "ip": client.IP, "locked_until": until})
		return Session{}, ErrLoginLocked{Until: until}
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		state, err := s.recordFailedLogin(ctx, account.ID, now)
		if err != nil {
			return Session{}, err
		}
		s.metrics.AuthEvent("login_failure")
		fields := map[string]any{"account_id": account.ID, "ip": client.IP, "failed_attempts": state.FailedAttempts}
		if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
			fields["locked_until"] = *state.LockedUntil
			s.logger.Warn("account_locked", fields)
		} else {
			s.logger.Info("login_failed", fields)
		}
		return Session{}, ErrInvalidCredentials
	}

	record, err := newSessionRecord(client, now)
	if err != nil {
		return Session{}, err
	}

	issued, err := s.issue(account, record.TokenID, now)
	if err != nil {
		return Session{}, err
	}

	if err := s.recordSuccessfulLogin(ctx, account.ID, record); err != nil {
		var locked ErrLoginLocked
		if errors.As(err, &locked) {
			s.metrics.AuthEvent("login_locked")
			s.logger.Warn("login_rejected_locked", map[string]any{"account_id": account.ID, "ip": client.IP, "locked_until": locked.Until})
		}
		return Session{}, err
	}

	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	issued.Account = account.Profile()

	s.metrics.AuthEvent("login_success")
	s.logger.Info("login_succeeded", map[string]any{"account_id": account.ID, "ip": client.IP})
	s.recordAudit(ctx, audit.Event{
		AccountID:    account.ID,
		AccountEmail: account.Email,
		Action:       audit.ActionLogin,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
	})

	return issued, nil
}

// Refresh validates a refresh token, revokes its session record and issues a replacement.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (Session, error) {
	claims, account, record, err := s.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	next, err := newSessionRecord(client, now)
	if err != nil {
		return Session{}, err
	}

	issued, err := s.issue(account, next.TokenID, now)
	if err != nil {
		return Session{}, err
	}

	if err := s.rotateSession(ctx, account.ID, record.TokenID, next, now); err != nil {
		if errors.Is(err, ErrSessionNotActive) {
			// Lost a race with another rotation of the same token.
			return Session{}, s.reuseDetected(claims, client, "concurrent_rotation")
		}
		return Session{}, err
	}

	issued.Account = account.Profile()
	s.metrics.AuthEvent("refresh_success")
	return issued, nil
}

// ValidateRefresh performs the checks of a refresh without mutating anything.
func (s *Service) ValidateRefresh(ctx context.Context, refreshToken string) (RefreshClaims, Account, SessionRecord, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		s.metrics.AuthEvent("refresh_rejected")
		return RefreshClaims{}, Account{}, SessionRecord{}, ErrInvalidRefreshToken
	}

	claims, err := s.tokens.ParseRefresh(refreshToken, s.now())
	if err != nil {
		s.metrics.AuthEvent("refresh_rejected")
		s.logger.Info("refresh_token_invalid", map[string]any{"error": err.Error()})
		return RefreshClaims{}, Account{}, SessionRecord{}, ErrInvalidRefreshToken
	}

	account, err := s.getAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.metrics.AuthEvent("refresh_rejected")
			s.logger.Warn("refresh_token_unknown_account", map[string]any{"account_id": claims.Subject})
			return RefreshClaims{}, Account{}, SessionRecord{}, ErrInvalidRefreshToken
		}
		return RefreshClaims{}, Account{}, SessionRecord{}, err
	}

	record, ok := account.Session(claims.TokenID)
	if !ok {
		s.metrics.AuthEvent("refresh_rejected")
		s.logger.Warn("refresh_token_unknown", map[string]any{"account_id": account.ID, "token_id": claims.TokenID})
		return RefreshClaims{}, Account{}, SessionRecord{}, ErrInvalidRefreshToken
	}
	if !record.Active() {
		return RefreshClaims{}, Account{}, SessionRecord{}, s.reuseDetected(claims, ClientInfo{}, "revoked_record")
	}

	return claims, account, record, nil
}

// Logout revokes the session behind the token when the signature checks out. Expired tokens still revoke.
// Only storage failures are returned.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	claims, err := s.tokens.ParseRefreshAllowExpired(refreshToken)
	if err != nil {
		s.logger.Info("logout_token_invalid", map[string]any{"error": err.Error()})
		return nil
	}

	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	revoked, err := s.store.RevokeSession(ctx, claims.Subject, claims.TokenID, s.now())
	if err != nil {
		return &StorageError{Op: "revoke session", Err: err}
	}

	s.logger.Info("logout", map[string]any{"account_id": claims.Subject, "token_id": claims.TokenID, "revoked": revoked})
	return nil
}

// Authenticate validates a bearer access token. It is stateless.
func (s *Service) Authenticate(accessToken string) (AccessClaims, error) {
	return s.tokens.ParseAccess(accessToken, s.now())
}

func (s *Service) Me(ctx context.Context, accountID string) (Profile, error) {
	account, err := s.getAccountByID(ctx, accountID)
	if err != nil {
		return Profile{}, err
	}
	return account.Profile(), nil
}

// BootstrapAdmin seeds the admin account once. An existing account is left untouched.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" && password == "" {
		return false, nil
	}
	if email == "" || password == "" {
		return false, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	if _, err := s.getAccountByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return false, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return false, fmt.Errorf("generate account id: %w", err)
	}

	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	err = s.store.CreateAccount(ctx, Account{
		ID:           id.String(),
		Email:        email,
		Name:         "Default Admin",
		Role:         RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return false, nil
		}
		return false, &StorageError{Op: "create account", Err: err}
	}

	s.logger.Info("admin_bootstrapped", map[string]any{"account_id": id.String(), "email": observability.MaskEmail(email)})
	return true, nil
}

func (s *Service) issue(account Account, tokenID string, now time.Time) (Session, error) {
	access, accessExp, err := s.tokens.IssueAccess(account, now)
	if err != nil {
		return Session{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(account, tokenID, now)
	if err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) reuseDetected(claims RefreshClaims, client ClientInfo, reason string) error {
	s.metrics.AuthEvent("refresh_rejected")
	s.metrics.RefreshReuse()
	s.logger.Warn("refresh_token_reuse_detected", map[string]any{
		"account_id": claims.Subject,
		"token_id":   claims.TokenID,
		"reason":     reason,
		"ip":         client.IP,
	})

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("account_id", claims.Subject)
		scope.SetTag("reason", reason)
		sentry.CaptureMessage("refresh token reuse detected")
	})

	return ErrTokenReuseDetected
}

func (s *Service) recordAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}

	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Error("audit_record_failed", map[string]any{"action": event.Action, "error": err.Error()})
	}
}

func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storageTimeout)
}

func (s *Service) getAccountByEmail(ctx context.Context, email string) (Account, error) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return Account{}, &StorageError{Op: "get account by email", Err: err}
	}
	return account, err
}

func (s *Service) getAccountByID(ctx context.Context, id string) (Account, error) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	account, err := s.store.GetAccountByID(ctx, id)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return Account{}, &StorageError{Op: "get account by id", Err: err}
	}
	return account, err
}

func (s *Service) recordFailedLogin(ctx context.Context, accountID string, now time.Time) (LoginState, error) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	state, err := s.store.RecordFailedLogin(ctx, accountID, s.lockout, now)
	if err != nil {
		return LoginState{}, &StorageError{Op: "record failed login", Err: err}
	}
	return state, nil
}

func (s *Service) recordSuccessfulLogin(ctx context.Context, accountID string, record SessionRecord) error {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	err := s.store.RecordSuccessfulLogin(ctx, accountID, record)
	var locked ErrLoginLocked
	if err != nil && !errors.As(err, &locked) {
		return &StorageError{Op: "record successful login", Err: err}
	}
	return err
}

func (s *Service) rotateSession(ctx context.Context, accountID, oldTokenID string, next SessionRecord, now time.Time) error {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	err := s.store.RotateSession(ctx, accountID, oldTokenID, next, now)
	if err != nil && !errors.Is(err, ErrSessionNotActive) {
		return &StorageError{Op: "rotate session", Err: err}
	}
	return err
}

func newSessionRecord(client ClientInfo, now time.Time) (SessionRecord, error) {
	tokenID, err := randomHex(sessionTokenIDBytes)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("generate session token id: %w", err)
	}

	return SessionRecord{
		TokenID:     tokenID,
		IssuedAt:    now.UTC(),
		ClientIP:    truncate(client.IP, 64),
		ClientAgent: truncate(client.UserAgent, 512),
	}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
