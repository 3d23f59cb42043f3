package throttle

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"newsdesk/internal/observability"
)

const (
	defaultRequestMax    = 300
	defaultRequestWindow = 15 * time.Minute
	requestLimitTimeout  = time.Second
)

// RateLimiter caps requests per client ip across the whole API.
type RateLimiter struct {
	window  Window
	maxHits int
	period  time.Duration
	skip    map[string]struct{}
	logger  *observability.Logger
	now     func() time.Time
}

func NewRateLimiter(window Window, maxHits int, period time.Duration, logger *observability.Logger) *RateLimiter {
	if maxHits <= 0 {
		maxHits = defaultRequestMax
	}
	if period <= 0 {
		period = defaultRequestWindow
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RateLimiter{
		window:  window,
		maxHits: maxHits,
		period:  period,
		skip:    make(map[string]struct{}),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Skip exempts exact request paths from the limit.
func (l *RateLimiter) Skip(paths ...string) *RateLimiter {
	for _, p := range paths {
		l.skip[p] = struct{}{}
	}
	return l
}

// Middleware answers 429 once an ip spends its budget. Window failures let the request through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := l.skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := observability.ClientIP(r)
		ctx, cancel := context.WithTimeout(r.Context(), requestLimitTimeout)
		allowed, retryAfter, err := l.window.Hit(ctx, "api|"+ip, l.maxHits, l.period, l.now())
		cancel()
		if err != nil {
			l.logger.Error("api_rate_limit_failed", map[string]any{"ip": ip, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			l.logger.Warn("api_rate_limited", map[string]any{"ip": ip, "path": r.URL.Path})
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests, please try again later"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
