package auth

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"newsdesk/internal/observability"
)

const (
	defaultLoginRateMax    = 30
	defaultLoginRateWindow = 10 * time.Minute
	ipLimitTimeout         = 2 * time.Second
)

// IPLimitStore counts login attempts per client ip in fixed windows.
type IPLimitStore interface {
	AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

type LoginRateLimiter struct {
	store   IPLimitStore
	maxHits int
	window  time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewLoginRateLimiter(store IPLimitStore, maxHits int, window time.Duration, logger *observability.Logger, metrics *observability.Metrics) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = defaultLoginRateMax
	}
	if window <= 0 {
		window = defaultLoginRateWindow
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &LoginRateLimiter{
		store:   store,
		maxHits: maxHits,
		window:  window,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Middleware answers 429 once an ip exceeds the window budget. Limiter failures let the request through.
func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		ctx, cancel := context.WithTimeout(r.Context(), ipLimitTimeout)
		allowed, retryAfter, err := l.store.AllowLoginIP(ctx, ip, l.maxHits, l.window, l.now())
		cancel()
		if err != nil {
			l.logger.Error("login_rate_limit_failed", map[string]any{"ip": ip, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			l.metrics.AuthEvent("login_rate_limited")
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

var _ IPLimitStore = (*Repository)(nil)
