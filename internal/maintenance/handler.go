package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"newsdesk/internal/auth"
	"newsdesk/internal/observability"
	"newsdesk/internal/post"
)

type AuthCleaner interface {
	CleanupStaleAuthData(ctx context.Context, revokedRetention, sessionMaxAge, ipLimitRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type PublishSweeper interface {
	RunOnce(ctx context.Context) ([]post.Published, error)
}

type CleanupPolicy struct {
	RevokedRetention time.Duration
	SessionMaxAge    time.Duration
	IPLimitRetention time.Duration
	BatchSize        int
}

// Handler serves cron-triggered jobs behind a shared bearer secret. Without a secret the routes 404.
type Handler struct {
	cleaner    AuthCleaner
	publisher  PublishSweeper
	logger     *observability.Logger
	cronSecret string
	policy     CleanupPolicy
}

func NewHandler(cleaner AuthCleaner, publisher PublishSweeper, logger *observability.Logger, cronSecret string, policy CleanupPolicy) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{
		cleaner:    cleaner,
		publisher:  publisher,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		policy:     policy,
	}
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	result, err := h.cleaner.CleanupStaleAuthData(r.Context(), h.policy.RevokedRetention, h.policy.SessionMaxAge, h.policy.IPLimitRetention, h.policy.BatchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_sessions":     result.DeletedSessions,
		"cleared_reset_tokens": result.ClearedResetTokens,
		"deleted_ip_limits":    result.DeletedIPLimits,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	published, err := h.publisher.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("publish_sweep_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "publish failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"published": published,
	})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return false
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
