package post

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"newsdesk/internal/observability"
)

const (
	defaultPublishInterval = time.Minute
	publishTimeout         = 30 * time.Second
)

type DueStore interface {
	PublishDue(ctx context.Context, now time.Time) ([]Published, error)
}

// Publisher flips scheduled posts to published once their time has passed.
type Publisher struct {
	store    DueStore
	interval time.Duration
	logger   *observability.Logger
	now      func() time.Time
}

func NewPublisher(store DueStore, interval time.Duration, logger *observability.Logger) *Publisher {
	if interval <= 0 {
		interval = defaultPublishInterval
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Publisher{store: store, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("publish_sweep_failed", map[string]any{"error": err.Error()})
			sentry.CaptureException(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Publisher) RunOnce(ctx context.Context) ([]Published, error) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	published, err := p.store.PublishDue(ctx, p.now().UTC())
	if err != nil {
		return nil, err
	}

	for _, item := range published {
		p.logger.Info("post_published", map[string]any{"post_id": item.ID, "slug": item.Slug, "title": item.Title})
	}
	return published, nil
}
