package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/tenant-auth/internal/config"
	"github.com/magabrotheeeer/tenant-auth/internal/migrations"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storage, err := New(ctx, config.Storage{StorageConnectionString: dsn, MaxOpenConns: 20})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = storage.Close()
	})

	root, err := filepath.Abs("../..")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, filepath.Join(root, "migrations")))

	return storage
}

// testDataFactory создаёт тестовые данные напрямую в базе.
type testDataFactory struct {
	storage *Storage
}

func newTestDataFactory(storage *Storage) *testDataFactory {
	return &testDataFactory{storage: storage}
}

func (f *testDataFactory) createUser(t *testing.T, email string) *models.User {
	t.Helper()
	u := &models.User{
		ID:        uuid.NewString(),
		Username:  email,
		Email:     email,
		FullName:  "Test User",
		Role:      models.RoleUser,
		State:     models.UserActive,
		Timezone:  "UTC",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.storage.CreateUser(context.Background(), u))
	return u
}

func (f *testDataFactory) createLicense(t *testing.T, subscriberID string, maxMembers int, end time.Time) *models.License {
	t.Helper()
	start := end.AddDate(0, -1, 0)
	lic, err := f.storage.UpsertLicense(context.Background(), &models.License{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		MaxMembers:   maxMembers,
		Status:       models.LicenseActive,
		StartDate:    &start,
		EndDate:      &end,
		CreatedAt:    start,
		UpdatedAt:    start,
	})
	require.NoError(t, err)
	return lic
}

func (f *testDataFactory) addMember(t *testing.T, subscriberID string, member *models.User) *models.MemberRecord {
	t.Helper()
	rec := &models.MemberRecord{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		MemberID:     &member.ID,
		Email:        member.Email,
	}
	_, err := f.storage.AddMember(context.Background(), rec, time.Now().UTC())
	require.NoError(t, err)
	return rec
}

func (f *testDataFactory) activeSessions(t *testing.T, userID string, platform models.Platform) int {
	t.Helper()
	var n int
	err := f.storage.DB.QueryRow(`SELECT COUNT(*) FROM user_sessions
		WHERE user_id = $1 AND platform = $2 AND is_active`, userID, platform).Scan(&n)
	require.NoError(t, err)
	return n
}

func (f *testDataFactory) activeMembers(t *testing.T, subscriberID string) int {
	t.Helper()
	n, err := countActiveMembers(context.Background(), f.storage.DB, "test", subscriberID)
	require.NoError(t, err)
	return n
}
