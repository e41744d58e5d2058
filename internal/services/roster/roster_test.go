package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) AddMember(ctx context.Context, rec *models.MemberRecord, now time.Time) (*models.License, error) {
	args := m.Called(ctx, rec, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.License), args.Error(1)
}

func (m *RepoMock) RemoveMember(ctx context.Context, subscriberID, recordID string, now time.Time) (*models.MemberRecord, *models.License, error) {
	args := m.Called(ctx, subscriberID, recordID, now)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.MemberRecord), args.Get(1).(*models.License), args.Error(2)
}

func (m *RepoMock) LeaveRoster(ctx context.Context, memberUserID string, now time.Time) (*models.MemberRecord, *models.License, error) {
	args := m.Called(ctx, memberUserID, now)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.MemberRecord), args.Get(1).(*models.License), args.Error(2)
}

func (m *RepoMock) ListMembers(ctx context.Context, subscriberID string) ([]models.MemberRecord, error) {
	args := m.Called(ctx, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MemberRecord), args.Error(1)
}

func (m *RepoMock) MembershipOf(ctx context.Context, userID string) (*models.MemberRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MemberRecord), args.Error(1)
}

func (m *RepoMock) IsInAnyRoster(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RepoMock) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Notify(ctx context.Context, n models.Notification) {
	m.Called(ctx, n)
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*RosterService, *RepoMock, *NotifierMock, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Second)
	t.Cleanup(func() { _ = c.Close() })

	repo, notifier := &RepoMock{}, &NotifierMock{}
	svc := NewRosterService(repo, c, notifier, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)), nil).
		WithClock(func() time.Time { return testNow })
	return svc, repo, notifier, mr
}

var owner = &models.User{ID: "sub", Username: "owner", Email: "owner@example.com", State: models.UserActive}

func TestRosterService_AddMember(t *testing.T) {
	ctx := context.Background()

	t.Run("cannot add yourself", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		repo.On("GetUserByID", mock.Anything, "sub").Return(owner, nil)

		_, err := svc.AddMember(ctx, "sub", "Owner@Example.com")
		require.ErrorIs(t, err, apperr.ErrInvalidInput)
		repo.AssertNotCalled(t, "AddMember", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("registered user is linked", func(t *testing.T) {
		svc, repo, notifier, mr := newTestService(t)
		require.NoError(t, mr.Set(cache.MembersKey("sub"), `[]`))
		require.NoError(t, mr.Set(cache.MembershipKey("m1"), `{}`))
		repo.On("GetUserByID", mock.Anything, "sub").Return(owner, nil)
		repo.On("GetUserByEmail", mock.Anything, "bob@example.com").Return(&models.User{ID: "m1"}, nil)
		repo.On("AddMember", mock.Anything, mock.MatchedBy(func(r *models.MemberRecord) bool {
			return r.SubscriberID == "sub" && r.MemberID != nil && *r.MemberID == "m1" &&
				r.Status == models.MemberActive && r.Email == "bob@example.com"
		}), testNow).Return(&models.License{CurrentMembers: 1}, nil).Once()
		notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
			return n.To == "bob@example.com" && n.Template == models.TemplateMemberAdded
		})).Once()

		rec, err := svc.AddMember(ctx, "sub", "bob@example.com")
		require.NoError(t, err)
		assert.True(t, rec.IsRegistered())
		assert.False(t, mr.Exists(cache.MembersKey("sub")))
		assert.False(t, mr.Exists(cache.MembershipKey("m1")))
		notifier.AssertExpectations(t)
	})

	t.Run("unregistered email becomes an invite", func(t *testing.T) {
		svc, repo, notifier, _ := newTestService(t)
		repo.On("GetUserByID", mock.Anything, "sub").Return(owner, nil)
		repo.On("GetUserByEmail", mock.Anything, "new@example.com").Return(nil, apperr.ErrUserNotFound)
		repo.On("AddMember", mock.Anything, mock.MatchedBy(func(r *models.MemberRecord) bool {
			return r.MemberID == nil
		}), testNow).Return(&models.License{}, nil).Once()
		notifier.On("Notify", mock.Anything, mock.Anything)

		rec, err := svc.AddMember(ctx, "sub", "new@example.com")
		require.NoError(t, err)
		assert.False(t, rec.IsRegistered())
	})

	for _, want := range []error{apperr.ErrSeatLimitReached, apperr.ErrLicenseExpired, apperr.ErrAlreadyInOtherRoster} {
		t.Run(want.Error(), func(t *testing.T) {
			svc, repo, notifier, _ := newTestService(t)
			repo.On("GetUserByID", mock.Anything, "sub").Return(owner, nil)
			repo.On("GetUserByEmail", mock.Anything, "bob@example.com").Return(&models.User{ID: "m1"}, nil)
			repo.On("AddMember", mock.Anything, mock.Anything, testNow).Return(nil, want)

			_, err := svc.AddMember(ctx, "sub", "bob@example.com")
			require.ErrorIs(t, err, want)
			notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
		})
	}
}

func TestRosterService_RemoveMember(t *testing.T) {
	svc, repo, _, mr := newTestService(t)
	memberID := "m1"
	require.NoError(t, mr.Set(cache.AllMembersPermissionsKey("sub"), `[]`))
	repo.On("RemoveMember", mock.Anything, "sub", "r1", testNow).
		Return(&models.MemberRecord{ID: "r1", SubscriberID: "sub", MemberID: &memberID, Status: models.MemberRemoved}, &models.License{}, nil).Once()
	repo.On("RemoveMember", mock.Anything, "sub", "r2", testNow).Return(nil, nil, apperr.ErrMemberNotFound)

	rec, err := svc.RemoveMember(context.Background(), "sub", "r1")
	require.NoError(t, err)
	assert.Equal(t, models.MemberRemoved, rec.Status)
	assert.False(t, mr.Exists(cache.AllMembersPermissionsKey("sub")))

	_, err = svc.RemoveMember(context.Background(), "sub", "r2")
	require.ErrorIs(t, err, apperr.ErrMemberNotFound)
}

func TestRosterService_Leave(t *testing.T) {
	svc, repo, _, mr := newTestService(t)
	require.NoError(t, mr.Set(cache.MembershipKey("m1"), `{}`))
	repo.On("LeaveRoster", mock.Anything, "m1", testNow).
		Return(&models.MemberRecord{ID: "r1", SubscriberID: "sub"}, &models.License{}, nil).Once()
	repo.On("LeaveRoster", mock.Anything, "m1", testNow).Return(nil, nil, apperr.ErrNotInRoster)

	_, err := svc.Leave(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.MembershipKey("m1")))

	_, err = svc.Leave(context.Background(), "m1")
	require.ErrorIs(t, err, apperr.ErrNotInRoster)
}

func TestRosterService_GetMembersUsesCache(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.On("ListMembers", mock.Anything, "sub").Return(nil, nil).Once()

	first, err := svc.GetMembers(context.Background(), "sub")
	require.NoError(t, err)
	assert.NotNil(t, first)
	assert.Empty(t, first)

	_, err = svc.GetMembers(context.Background(), "sub")
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "ListMembers", 1)
}

func TestRosterService_MembershipOf(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.On("MembershipOf", mock.Anything, "u1").Return(nil, apperr.ErrNotInRoster)
	repo.On("MembershipOf", mock.Anything, "m1").Return(&models.MemberRecord{ID: "r1", SubscriberID: "sub"}, nil).Once()

	rec, err := svc.MembershipOf(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	for range 2 {
		rec, err = svc.MembershipOf(context.Background(), "m1")
		require.NoError(t, err)
		assert.Equal(t, "sub", rec.SubscriberID)
	}
	repo.AssertNumberOfCalls(t, "MembershipOf", 2)
}
