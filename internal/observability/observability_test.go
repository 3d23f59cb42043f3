package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskEmail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "joh***@example.com", MaskEmail("john.doe@example.com"))
	assert.Equal(t, "a***@x.com", MaskEmail("a@x.com"))
	assert.Equal(t, "***", MaskEmail("not-an-email"))
	assert.Equal(t, "", MaskEmail(""))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestLoggerWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	logger := NewLoggerFromZap(zap.New(core))

	logger.Info("thing_happened", map[string]any{"account_id": "a1", "count": 2})
	logger.Error("thing_failed", map[string]any{"error": assert.AnError})

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "thing_happened", entries[0].Message)
	assert.Equal(t, "a1", entries[0].ContextMap()["account_id"])
	assert.Equal(t, assert.AnError.Error(), entries[1].ContextMap()["error"])
}

func TestRequestLoggingMiddlewareRecordsRoute(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	handler := RequestLoggingMiddleware(NewNopLogger(), metrics, mux)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts/hello", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues(http.MethodGet, "GET /posts/{slug}", "418")))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := RecoverMiddleware(NewNopLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "internal server error"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.AuthEvent("login_success")
	m.RefreshReuse()
	m.ObserveRequest(http.MethodGet, "/", 200, 0)
}
