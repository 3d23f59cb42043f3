package auth

import (
	"net/http"
	"strings"
	"time"
)

const (
	RefreshCookieName        = "refresh_token"
	defaultRefreshCookiePath = "/auth"
)

type CookieConfig struct {
	Path     string
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

// CookieConfigFor returns production defaults when production is true. sameSite may override the mode.
func CookieConfigFor(production bool, path, sameSite string) CookieConfig {
	cfg := CookieConfig{
		Path:     defaultRefreshCookiePath,
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
	}
	if production {
		cfg.SameSite = http.SameSiteNoneMode
	}
	if strings.TrimSpace(path) != "" {
		cfg.Path = strings.TrimSpace(path)
	}

	switch strings.ToLower(strings.TrimSpace(sameSite)) {
	case "lax":
		cfg.SameSite = http.SameSiteLaxMode
	case "strict":
		cfg.SameSite = http.SameSiteStrictMode
	case "none":
		cfg.SameSite = http.SameSiteNoneMode
	}
	// Browsers drop SameSite=None cookies without Secure.
	if cfg.SameSite == http.SameSiteNoneMode && !cfg.Secure {
		cfg.SameSite = http.SameSiteLaxMode
	}

	return cfg
}

func (c CookieConfig) set(w http.ResponseWriter, token string, expiresAt, now time.Time) {
	maxAge := int(expiresAt.Sub(now).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		Expires:  expiresAt.UTC(),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func refreshTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
