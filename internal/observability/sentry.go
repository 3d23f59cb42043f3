package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const redacted = "[redacted]"

// SentryOptions configures error reporting. An empty DSN disables it.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
}

func InitSentry(options SentryOptions) error {
	if options.DSN == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              options.DSN,
		Environment:      options.Environment,
		Release:          options.Release,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			scrubEvent(event)
			return event
		},
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// scrubEvent drops credentials that ride on auth requests: bearer tokens, the refresh cookie and any body.
func scrubEvent(event *sentry.Event) {
	if event == nil || event.Request == nil {
		return
	}

	request := event.Request
	for name := range request.Headers {
		switch http.CanonicalHeaderKey(name) {
		case "Authorization", "Cookie", "Set-Cookie", "X-Csrf-Token":
			request.Headers[name] = redacted
		}
	}
	if request.Cookies != "" {
		request.Cookies = redacted
	}
	if request.Data != "" {
		request.Data = redacted
	}
	if strings.Contains(request.QueryString, "token") {
		request.QueryString = redacted
	}
}
