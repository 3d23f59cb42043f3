package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"newsdesk/internal/observability"
)

const (
	maxJSONBodyBytes  = 1 << 20
	minLoginPassword  = 6
	maxLoginPassword  = 200
	maxEmailLength    = 254
	resetRequestReply = "if that email is registered, a reset link has been issued"
)

type Handler struct {
	service          *Service
	cookies          CookieConfig
	exposeResetToken bool
}

func NewHandler(service *Service, cookies CookieConfig) *Handler {
	return &Handler{service: service, cookies: cookies}
}

// ExposeResetTokens makes request-password-reset echo the raw token. Local development only.
func (h *Handler) ExposeResetTokens(enabled bool) {
	h.exposeResetToken = enabled
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string  `json:"accessToken"`
	User        Profile `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetRequestResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"resetToken,omitempty"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	email := NormalizeEmail(body.Email)
	if email == "" || len(email) > maxEmailLength || !strings.Contains(email, "@") ||
		len(body.Password) < minLoginPassword || len(body.Password) > maxLoginPassword {
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	session, err := h.service.Login(r.Context(), email, body.Password, clientInfo(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "invalid credentials")
			return
		}
		var lockedErr ErrLoginLocked
		if errors.As(err, &lockedErr) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(lockedErr.Until, h.service.now())))
			writeError(w, http.StatusForbidden, "account temporarily locked, try again later")
			return
		}
		h.writeFailure(w, err, "failed to login")
		return
	}

	h.cookies.set(w, session.RefreshToken, session.RefreshExpiresAt, h.service.now())
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: session.AccessToken, User: session.Account})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Refresh(r.Context(), refreshTokenFromRequest(r), clientInfo(r))
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			h.cookies.clear(w)
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		h.writeFailure(w, err, "failed to refresh token")
		return
	}

	h.cookies.set(w, session.RefreshToken, session.RefreshExpiresAt, h.service.now())
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: session.AccessToken})
}

// Logout always answers 200. A storage failure is logged and reported but the cookie is still cleared.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), refreshTokenFromRequest(r)); err != nil {
		h.service.logger.Error("logout_revoke_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
	}

	h.cookies.clear(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body resetRequest
	if err := parseJSON(w, r, &body); err != nil {
		// The reply never reveals whether the request was usable.
		writeJSON(w, http.StatusOK, resetRequestResponse{Message: resetRequestReply})
		return
	}

	token, err := h.service.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		h.writeFailure(w, err, "failed to request password reset")
		return
	}

	resp := resetRequestResponse{Message: resetRequestReply}
	if h.exposeResetToken {
		resp.ResetToken = token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	err := h.service.ResetPassword(r.Context(), body.Email, strings.TrimSpace(body.Token), body.Password, clientInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidResetToken):
			writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		case errors.Is(err, ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeFailure(w, err, "failed to reset password")
		}
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated, please log in again"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	profile, err := h.service.Me(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			writeError(w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		h.writeFailure(w, err, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]Profile{"user": profile})
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error, message string) {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		WriteUnavailable(w)
		sentry.CaptureException(err)
		return
	}

	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, message)
}

// WriteUnavailable answers a retryable storage failure.
func WriteUnavailable(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := parseJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func parseJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func clientInfo(r *http.Request) ClientInfo {
	return ClientInfo{IP: observability.ClientIP(r), UserAgent: r.UserAgent()}
}

func retryAfterSeconds(until, now time.Time) int {
	seconds := int(until.Sub(now).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
