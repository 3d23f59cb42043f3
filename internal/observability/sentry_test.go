package observability

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
)

func TestScrubEventRemovesCredentials(t *testing.T) {
	t.Parallel()
	event := &sentry.Event{Request: &sentry.Request{
		URL:         "https://api.example.com/auth/refresh",
		Method:      "POST",
		Data:        `{"password":"hunter2"}`,
		QueryString: "token=abc",
		Cookies:     "refresh_token=abc",
		Headers: map[string]string{
			"authorization": "Bearer abc",
			"Cookie":        "refresh_token=abc",
			"User-Agent":    "curl/8",
		},
	}}

	scrubEvent(event)

	assert.Equal(t, redacted, event.Request.Data)
	assert.Equal(t, redacted, event.Request.QueryString)
	assert.Equal(t, redacted, event.Request.Cookies)
	assert.Equal(t, redacted, event.Request.Headers["authorization"])
	assert.Equal(t, redacted, event.Request.Headers["Cookie"])
	assert.Equal(t, "curl/8", event.Request.Headers["User-Agent"])
	assert.Equal(t, "https://api.example.com/auth/refresh", event.Request.URL)
}

func TestScrubEventToleratesMissingRequest(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() {
		scrubEvent(nil)
		scrubEvent(&sentry.Event{})
	})
}
