package post

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsdesk/internal/db"
)

// Postgres tests run only when POST_TEST_DATABASE_URL is set.

func newIntegrationRepo(t *testing.T) *Repository {
	t.Helper()

	dsn := os.Getenv("POST_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("POST_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	database, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	_, err = db.RunMigrations(ctx, database)
	require.NoError(t, err)

	return NewRepository(database)
}

func scheduledInput(title string, at time.Time) Input {
	return Input{
		Title:          title,
		Content:        "<p>" + title + "</p>",
		Category:       defaultCategory,
		SubCategory:    defaultSubCategory,
		Tags:           []string{},
		Keywords:       []string{},
		RelatedTickers: []string{},
		ReferenceLinks: []string{},
		Status:         StatusScheduled,
		ScheduledFor:   &at,
	}
}

func TestRepositoryPublishDueClearsSchedule(t *testing.T) {
	t.Parallel()
	repo := newIntegrationRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	due := now.Add(-time.Minute)
	later := now.Add(time.Hour)
	base := "publish-" + uuid.NewString()

	ready, err := repo.Create(ctx, scheduledInput("Ready", due), base, "editor")
	require.NoError(t, err)
	pending, err := repo.Create(ctx, scheduledInput("Pending", later), base, "editor")
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = repo.Delete(ctx, ready.ID)
		_, _ = repo.Delete(ctx, pending.ID)
	})
	assert.NotEqual(t, ready.Slug, pending.Slug)

	published, err := repo.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Contains(t, published, Published{ID: ready.ID, Slug: ready.Slug, Title: ready.Title})
	assert.NotContains(t, published, Published{ID: pending.ID, Slug: pending.Slug, Title: pending.Title})

	stored, err := repo.GetPublishedBySlug(ctx, ready.Slug)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, stored.Status)
	assert.Nil(t, stored.ScheduledFor)

	_, err = repo.GetPublishedBySlug(ctx, pending.Slug)
	require.ErrorIs(t, err, ErrNotFound)
}
