package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultKeyID      = "v1"

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// SigningKey is an HMAC secret addressed by the kid header.
type SigningKey struct {
	ID     string
	Secret []byte
}

type TokenConfig struct {
	Active     SigningKey
	Previous   []SigningKey
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type AccessClaims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	TokenID string `json:"tid"`
	Type    string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer signs with the active key and verifies with the active or any previous key.
type TokenIssuer struct {
	active     SigningKey
	keys       map[string][]byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.Active.Secret) == 0 {
		return nil, &ConfigError{Field: "JWT_SECRET", Reason: "is required"}
	}
	if strings.TrimSpace(cfg.Active.ID) == "" {
		cfg.Active.ID = defaultKeyID
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}

	keys := map[string][]byte{cfg.Active.ID: cfg.Active.Secret}
	for _, key := range cfg.Previous {
		if key.ID == "" || len(key.Secret) == 0 {
			return nil, &ConfigError{Field: "JWT_PREVIOUS_KEYS", Reason: "entries need a key id and a secret"}
		}
		if _, exists := keys[key.ID]; exists {
			return nil, &ConfigError{Field: "JWT_PREVIOUS_KEYS", Reason: fmt.Sprintf("duplicate key id %q", key.ID)}
		}
		keys[key.ID] = key.Secret
	}

	return &TokenIssuer{
		active:     cfg.Active,
		keys:       keys,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *TokenIssuer) IssueAccess(account Account, now time.Time) (string, time.Time, error) {
	exp := now.UTC().Add(i.accessTTL)
	claims := AccessClaims{
		Role: account.Role,
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	encoded, err := i.sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return encoded, exp, nil
}

func (i *TokenIssuer) IssueRefresh(account Account, tokenID string, now time.Time) (string, time.Time, error) {
	if tokenID == "" {
		return "", time.Time{}, errors.New("refresh token id is required")
	}

	exp := now.UTC().Add(i.refreshTTL)
	claims := RefreshClaims{
		TokenID: tokenID,
		Type:    tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	encoded, err := i.sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return encoded, exp, nil
}

func (i *TokenIssuer) ParseAccess(raw string, now time.Time) (AccessClaims, error) {
	var claims AccessClaims
	if err := i.parse(raw, &claims, now, true); err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if claims.Type != tokenTypeAccess || claims.Subject == "" {
		return AccessClaims{}, ErrInvalidAccessToken
	}
	return claims, nil
}

func (i *TokenIssuer) ParseRefresh(raw string, now time.Time) (RefreshClaims, error) {
	return i.parseRefresh(raw, now, true)
}

// ParseRefreshAllowExpired checks the signature but not the expiry. Logout uses it.
func (i *TokenIssuer) ParseRefreshAllowExpired(raw string) (RefreshClaims, error) {
	return i.parseRefresh(raw, time.Time{}, false)
}

func (i *TokenIssuer) parseRefresh(raw string, now time.Time, checkExpiry bool) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := i.parse(raw, &claims, now, checkExpiry); err != nil {
		return RefreshClaims{}, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}
	if claims.Type != tokenTypeRefresh || claims.Subject == "" || claims.TokenID == "" {
		return RefreshClaims{}, ErrInvalidRefreshToken
	}
	return claims, nil
}

func (i *TokenIssuer) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = i.active.ID
	return token.SignedString(i.active.Secret)
}

func (i *TokenIssuer) parse(raw string, claims jwt.Claims, now time.Time, checkExpiry bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if checkExpiry {
		opts = append(opts, jwt.WithExpirationRequired(), jwt.WithTimeFunc(func() time.Time { return now }))
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(raw, claims, i.keyFor, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token is not valid")
	}
	return nil
}

func (i *TokenIssuer) keyFor(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		kid = i.active.ID
	}
	secret, ok := i.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return secret, nil
}

// ParseSigningKeys reads "kid:secret,kid:secret".
func ParseSigningKeys(raw string) ([]SigningKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var keys []SigningKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" || secret == "" {
			return nil, &ConfigError{Field: "JWT_PREVIOUS_KEYS", Reason: "expected kid:secret pairs"}
		}
		keys = append(keys, SigningKey{ID: id, Secret: []byte(secret)})
	}
	return keys, nil
}

func randomHex(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
