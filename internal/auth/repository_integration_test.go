package auth

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsdesk/internal/db"
)

// Postgres tests run only when AUTH_TEST_DATABASE_URL is set.

func newIntegrationRepo(t *testing.T) (*Repository, Account) {
	t.Helper()

	dsn := os.Getenv("AUTH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUTH_TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	database, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	_, err = db.RunMigrations(ctx, database)
	require.NoError(t, err)

	repo := NewRepository(database)
	account := Account{
		ID:           uuid.NewString(),
		Email:        "it-" + uuid.NewString() + "@example.com",
		Name:         "Integration",
		Role:         RoleAdmin,
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.CreateAccount(ctx, account))
	t.Cleanup(func() { deleteAccount(t, database, account.ID) })

	return repo, account
}

func deleteAccount(t *testing.T, database *sql.DB, id string) {
	t.Helper()
	_, err := database.ExecContext(context.Background(), `DELETE FROM accounts WHERE id = $1`, id)
	assert.NoError(t, err)
}

func testSession(t *testing.T, now time.Time) SessionRecord {
	t.Helper()
	record, err := newSessionRecord(ClientInfo{IP: "10.0.0.1", UserAgent: "integration"}, now)
	require.NoError(t, err)
	return record
}

func TestRepositoryRotateSessionHasOneWinner(t *testing.T) {
	t.Parallel()
	repo, account := newIntegrationRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	original := testSession(t, now)
	require.NoError(t, repo.RecordSuccessfulLogin(ctx, account.ID, original))

	const racers = 4
	errs := make([]error, racers)
	var start, wg sync.WaitGroup
	start.Add(1)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := testSession(t, now.Add(time.Second))
			start.Wait()
			errs[i] = repo.RotateSession(ctx, account.ID, original.TokenID, next, now.Add(time.Second))
		}(i)
	}
	start.Done()
	wg.Wait()

	var winners int
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, ErrSessionNotActive)
	}
	assert.Equal(t, 1, winners)

	stored, err := repo.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, stored.Sessions, 2)
	assert.Equal(t, original.TokenID, stored.Sessions[0].TokenID)
	assert.False(t, stored.Sessions[0].Active())
	assert.True(t, stored.Sessions[1].Active())
}

func TestRepositoryCompletePasswordResetRevokesAllSessions(t *testing.T) {
	t.Parallel()
	repo, account := newIntegrationRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.RecordSuccessfulLogin(ctx, account.ID, testSession(t, now)))
	require.NoError(t, repo.RecordSuccessfulLogin(ctx, account.ID, testSession(t, now.Add(time.Second))))
	require.NoError(t, repo.SetResetToken(ctx, account.ID, "reset-hash", now.Add(time.Hour)))

	_, err := repo.CompletePasswordReset(ctx, account.ID, "other-hash", "new-hash", now)
	require.ErrorIs(t, err, ErrInvalidResetToken)

	revoked, err := repo.CompletePasswordReset(ctx, account.ID, "reset-hash", "new-hash", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)

	stored, err := repo.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", stored.PasswordHash)
	assert.Empty(t, stored.ResetTokenHash)
	assert.Nil(t, stored.ResetTokenExpire)
	for _, record := range stored.Sessions {
		assert.False(t, record.Active())
	}

	_, err = repo.CompletePasswordReset(ctx, account.ID, "reset-hash", "again", now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestRepositoryCompletePasswordResetRejectsExpiredToken(t *testing.T) {
	t.Parallel()
	repo, account := newIntegrationRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.SetResetToken(ctx, account.ID, "reset-hash", now.Add(time.Hour)))
	_, err := repo.CompletePasswordReset(ctx, account.ID, "reset-hash", "new-hash", now.Add(time.Hour))
	require.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestRepositoryConcurrentFailuresLockOnce(t *testing.T) {
	t.Parallel()
	repo, account := newIntegrationRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	policy := LockoutPolicy{Threshold: 5, Duration: 10 * time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.RecordFailedLogin(ctx, account.ID, policy, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := repo.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockedUntil)
	assert.True(t, stored.LockedUntil.Equal(now.Add(10*time.Minute)))

	// A success computed from an older snapshot must not clear the lock.
	err = repo.RecordSuccessfulLogin(ctx, account.ID, testSession(t, now.Add(time.Second)))
	var locked ErrLoginLocked
	require.ErrorAs(t, err, &locked)

	stored, err = repo.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Sessions)
	assert.Equal(t, 5, stored.FailedLoginAttempts)
}
