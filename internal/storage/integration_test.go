package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

func newTestSession(userID string, platform models.Platform, now time.Time) *models.Session {
	return &models.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		Platform:         platform,
		AccessToken:      uuid.NewString(),
		RefreshToken:     uuid.NewString(),
		ExpiresAt:        now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
		IsActive:         true,
		Timezone:         "UTC",
		LastActive:       now,
		CreatedAt:        now,
	}
}

func TestIntegration_SingleSessionPerPlatform(t *testing.T) {
	storage := setupTestDatabase(t)
	factory := newTestDataFactory(storage)
	user := factory.createUser(t, "sso@example.com")
	ctx := context.Background()
	now := time.Now().UTC()

	const logins = 8
	var wg sync.WaitGroup
	errs := make(chan error, logins)
	for range logins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.CreateSession(ctx, newTestSession(user.ID, models.PlatformWeb, now))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, factory.activeSessions(t, user.ID, models.PlatformWeb))

	_, err := storage.CreateSession(ctx, newTestSession(user.ID, models.PlatformMobile, now))
	require.NoError(t, err)
	assert.Equal(t, 1, factory.activeSessions(t, user.ID, models.PlatformWeb), "other platforms are untouched")
	assert.Equal(t, 1, factory.activeSessions(t, user.ID, models.PlatformMobile))
}

func TestIntegration_SeatLimitUnderConcurrency(t *testing.T) {
	storage := setupTestDatabase(t)
	factory := newTestDataFactory(storage)
	sub := factory.createUser(t, "owner@example.com")
	factory.createLicense(t, sub.ID, 3, time.Now().UTC().AddDate(0, 1, 0))
	ctx := context.Background()

	const attempts = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		added   int
		limited int
	)
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := storage.AddMember(ctx, &models.MemberRecord{
				ID:           uuid.NewString(),
				SubscriberID: sub.ID,
				Email:        fmt.Sprintf("member%d@example.com", i),
			}, time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				added++
			case errors.Is(err, apperr.ErrSeatLimitReached):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, added)
	assert.Equal(t, attempts-3, limited)

	lic, err := storage.GetLicense(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, lic.CurrentMembers)
	assert.Equal(t, 3, factory.activeMembers(t, sub.ID))
}

func TestIntegration_RosterExclusivity(t *testing.T) {
	storage := setupTestDatabase(t)
	factory := newTestDataFactory(storage)
	subA := factory.createUser(t, "a@example.com")
	subB := factory.createUser(t, "b@example.com")
	member := factory.createUser(t, "shared@example.com")
	end := time.Now().UTC().AddDate(0, 1, 0)
	factory.createLicense(t, subA.ID, 5, end)
	factory.createLicense(t, subB.ID, 5, end)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, sub := range []string{subA.ID, subB.ID} {
		wg.Add(1)
		go func(sub string) {
			defer wg.Done()
			_, err := storage.AddMember(ctx, &models.MemberRecord{
				ID:           uuid.NewString(),
				SubscriberID: sub,
				MemberID:     &member.ID,
				Email:        "Shared@Example.com",
			}, time.Now().UTC())
			results <- err
		}(sub)
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrAlreadyInOtherRoster):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	in, err := storage.IsInAnyRoster(ctx, member.ID)
	require.NoError(t, err)
	assert.True(t, in)

	total := factory.activeMembers(t, subA.ID) + factory.activeMembers(t, subB.ID)
	assert.Equal(t, 1, total)
}

func TestIntegration_ConcurrentLeaveSucceedsOnce(t *testing.T) {
	storage := setupTestDatabase(t)
	factory := newTestDataFactory(storage)
	sub := factory.createUser(t, "owner@example.com")
	member := factory.createUser(t, "member@example.com")
	factory.createLicense(t, sub.ID, 3, time.Now().UTC().AddDate(0, 1, 0))
	rec := factory.addMember(t, sub.ID, member)
	ctx := context.Background()
	require.NoError(t, storage.GrantPermission(ctx, sub.ID, rec.ID, string(models.PermOrderView), time.Now().UTC()))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := storage.LeaveRoster(ctx, member.ID, time.Now().UTC())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, notIn int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrNotInRoster):
			notIn++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notIn)

	lic, err := storage.GetLicense(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, lic.CurrentMembers)

	all, err := storage.ListAllMemberPermissions(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIntegration_ReplacePermissions(t *testing.T) {
	storage := setupTestDatabase(t)
	factory := newTestDataFactory(storage)
	sub := factory.createUser(t, "owner@example.com")
	member := factory.createUser(t, "member@example.com")
	factory.createLicense(t, sub.ID, 3, time.Now().UTC().AddDate(0, 1, 0))
	rec := factory.addMember(t, sub.ID, member)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, storage.ReplacePermissions(ctx, sub.ID, rec.ID,
		[]string{"order.view", "warehouse.create"}, now))
	require.NoError(t, storage.ReplacePermissions(ctx, sub.ID, rec.ID,
		[]string{"inventory.view"}, now))

	perms, err := storage.ListMemberPermissions(ctx, sub.ID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory.view"}, perms)

	other := factory.createUser(t, "other@example.com")
	err = storage.ReplacePermissions(ctx, other.ID, rec.ID, []string{"order.view"}, now)
	require.Error(t, err, "a subscriber cannot touch another roster")

	perms, err = storage.ListMemberPermissions(ctx, sub.ID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"inventory.view"}, perms)
}

func TestIntegration_ProcessLicenseRequest(t *testing.T) {
	storage := setupTestDatabase(t)
	factory := newTestDataFactory(storage)
	user := factory.createUser(t, "buyer@example.com")
	admin := factory.createUser(t, "admin@example.com")
	ctx := context.Background()
	now := time.Now().UTC()

	req := &models.LicenseRequest{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		RequestedMembers: 4,
		Duration:         models.DurationMonth,
		Type:             models.RequestNew,
		Status:           models.RequestPending,
		CreatedAt:        now,
	}
	require.NoError(t, storage.CreateLicenseRequest(ctx, req))

	dup := *req
	dup.ID = uuid.NewString()
	require.ErrorIs(t, storage.CreateLicenseRequest(ctx, &dup), apperr.ErrPendingRequestExists)

	processed, lic, err := storage.ProcessLicenseRequest(ctx, req.ID, admin.ID, true, uuid.NewString(), now)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, processed.Status)
	require.NotNil(t, lic)
	assert.Equal(t, 4, lic.MaxMembers)
	assert.True(t, lic.IsValid(now))

	_, _, err = storage.ProcessLicenseRequest(ctx, req.ID, admin.ID, false, "", now)
	require.ErrorIs(t, err, apperr.ErrRequestProcessed)
}
