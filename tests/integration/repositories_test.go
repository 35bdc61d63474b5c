package integration

import (
	"context"
	"testing"
	"time"

	"github.com/posternhq/postern/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTest(t *testing.T) (*TestDB, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testDB.Teardown(context.Background())
	})
	return testDB, ctx
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	testDB, ctx := setupTest(t)
	users, _, _ := InitializeRepositories(testDB.DB)

	_, err := SeedDomain(ctx, testDB.Pool, "example.com", models.UnlimitedUsers)
	require.NoError(t, err)

	created, err := users.Create(ctx, &models.User{
		Email:        "user@example.com",
		Localpart:    "user",
		DomainName:   "example.com",
		PasswordHash: "$2a$04$fakehashfortest",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	fetched, err := users.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "user", fetched.Localpart)
	assert.Equal(t, "example.com", fetched.DomainName)
	assert.True(t, fetched.HasUsablePassword())
}

func TestUserRepository_GetMissingUser(t *testing.T) {
	testDB, ctx := setupTest(t)
	users, _, _ := InitializeRepositories(testDB.DB)

	_, err := users.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUserRepository_NullPasswordHash(t *testing.T) {
	testDB, ctx := setupTest(t)
	users, _, _ := InitializeRepositories(testDB.DB)

	_, err := SeedDomain(ctx, testDB.Pool, "example.com", models.UnlimitedUsers)
	require.NoError(t, err)

	// Federated accounts store NULL, not an empty string
	created, err := users.Create(ctx, &models.User{
		Email:      "federated@example.com",
		Localpart:  "federated",
		DomainName: "example.com",
	})
	require.NoError(t, err)

	fetched, err := users.GetByEmail(ctx, created.Email)
	require.NoError(t, err)
	assert.False(t, fetched.HasUsablePassword())
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	testDB, ctx := setupTest(t)
	users, _, _ := InitializeRepositories(testDB.DB)

	_, err := SeedDomain(ctx, testDB.Pool, "example.com", models.UnlimitedUsers)
	require.NoError(t, err)

	_, err = users.Create(ctx, &models.User{
		Email: "dup@example.com", Localpart: "dup", DomainName: "example.com",
	})
	require.NoError(t, err)

	_, err = users.Create(ctx, &models.User{
		Email: "dup@example.com", Localpart: "dup", DomainName: "example.com",
	})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestUserRepository_CountByDomain(t *testing.T) {
	testDB, ctx := setupTest(t)
	users, _, _ := InitializeRepositories(testDB.DB)

	_, err := SeedDomain(ctx, testDB.Pool, "example.com", 10)
	require.NoError(t, err)
	_, err = SeedDomain(ctx, testDB.Pool, "other.example", 10)
	require.NoError(t, err)

	for _, seed := range []struct{ email, localpart, domain string }{
		{"a@example.com", "a", "example.com"},
		{"b@example.com", "b", "example.com"},
		{"c@other.example", "c", "other.example"},
	} {
		_, err := SeedUser(ctx, testDB.Pool, seed.email, seed.localpart, seed.domain, "")
		require.NoError(t, err)
	}

	count, err := users.CountByDomain(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDomainRepository_GetByName(t *testing.T) {
	testDB, ctx := setupTest(t)
	_, domains, _ := InitializeRepositories(testDB.DB)

	_, err := SeedDomain(ctx, testDB.Pool, "example.com", 50)
	require.NoError(t, err)

	domain, err := domains.GetByName(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 50, domain.MaxUsers)

	_, err = domains.GetByName(ctx, "missing.example")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLoginAttemptRepository_WindowedCounts(t *testing.T) {
	testDB, ctx := setupTest(t)
	_, _, attempts := InitializeRepositories(testDB.DB)

	now := time.Now()
	record := func(username, ip string, at time.Time) {
		err := attempts.RecordAttempt(ctx, &models.LoginAttempt{
			Username:    username,
			IPAddress:   ip,
			Success:     false,
			AttemptTime: at,
			ExpiresAt:   at.Add(30 * time.Minute),
		})
		require.NoError(t, err)
	}

	record("user@example.com", "192.168.1.1", now)
	record("user@example.com", "192.168.1.1", now.Add(-time.Minute))
	record("user@example.com", "192.168.1.1", now.Add(-time.Hour)) // outside window
	record("other@example.com", "192.168.1.2", now)

	since := now.Add(-15 * time.Minute)

	count, err := attempts.CountFailedByUsername(ctx, "user@example.com", since)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = attempts.CountFailedByIP(ctx, "192.168.1.1", since)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLoginAttemptRepository_DeleteExpiredAttempts(t *testing.T) {
	testDB, ctx := setupTest(t)
	_, _, attempts := InitializeRepositories(testDB.DB)

	now := time.Now()
	err := attempts.RecordAttempt(ctx, &models.LoginAttempt{
		Username:    "stale@example.com",
		IPAddress:   "192.168.1.1",
		AttemptTime: now.Add(-2 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
	})
	require.NoError(t, err)
	err = attempts.RecordAttempt(ctx, &models.LoginAttempt{
		Username:    "fresh@example.com",
		IPAddress:   "192.168.1.1",
		AttemptTime: now,
		ExpiresAt:   now.Add(30 * time.Minute),
	})
	require.NoError(t, err)

	deleted, err := attempts.DeleteExpiredAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := attempts.CountFailedByUsername(ctx, "fresh@example.com", now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
