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

func (m *RepoMock) GetLicense(ctx context.Context, subscriberID string) (*models.License, error) {
	args := m.Called(ctx, subscriberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.License), args.Error(1)
}

func (m *RepoMock) UpsertLicense(ctx context.Context, lic *models.License) (*models.License, error) {
	args := m.Called(ctx, lic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.License), args.Error(1)
}

func (m *RepoMock) AdjustSeats(ctx context.Context, subscriberID string, delta int, now time.Time) (*models.License, error) {
	args := m.Called(ctx, subscriberID, delta, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.License), args.Error(1)
}

func (m *RepoMock) ReconcileSeats(ctx context.Context, subscriberID string, now time.Time) (*models.License, error) {
	args := m.Called(ctx, subscriberID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.License), args.Error(1)
}

func (m *RepoMock) CreateLicenseRequest(ctx context.Context, r *models.LicenseRequest) error {
	return m.Called(ctx, r).Error(0)
}

func (m *RepoMock) GetPendingRequest(ctx context.Context, userID string) (*models.LicenseRequest, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LicenseRequest), args.Error(1)
}

func (m *RepoMock) CancelPendingRequest(ctx context.Context, userID string, now time.Time) (*models.LicenseRequest, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LicenseRequest), args.Error(1)
}

func (m *RepoMock) ListLicenseRequests(ctx context.Context, status string, page, limit int) ([]models.LicenseRequest, int, error) {
	args := m.Called(ctx, status, page, limit)
	return args.Get(0).([]models.LicenseRequest), args.Int(1), args.Error(2)
}

func (m *RepoMock) ProcessLicenseRequest(ctx context.Context, requestID, adminID string, approve bool,
	newLicenseID string, now time.Time) (*models.LicenseRequest, *models.License, error) {
	args := m.Called(ctx, requestID, adminID, approve, newLicenseID, now)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	var lic *models.License
	if args.Get(1) != nil {
		lic = args.Get(1).(*models.License)
	}
	return args.Get(0).(*models.LicenseRequest), lic, args.Error(2)
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

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Notify(ctx context.Context, n models.Notification) {
	m.Called(ctx, n)
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*LicenseService, *RepoMock, *NotifierMock, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Second)
	t.Cleanup(func() { _ = c.Close() })

	repo, notifier := &RepoMock{}, &NotifierMock{}
	svc := NewLicenseService(repo, c, notifier,
		Options{TTL: time.Minute, TrialDays: 15, SuperAdminEmail: "root@example.com"},
		slog.New(slog.NewTextHandler(io.Discard, nil)), nil).
		WithClock(func() time.Time { return testNow })
	return svc, repo, notifier, mr
}

func activeLicense(current, max int, end time.Time) *models.License {
	start := end.AddDate(0, -1, 0)
	return &models.License{
		ID: "l1", SubscriberID: "sub", MaxMembers: max, CurrentMembers: current,
		Status: models.LicenseActive, StartDate: &start, EndDate: &end,
	}
}

func TestLicenseService_CheckStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("no license", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		repo.On("GetLicense", mock.Anything, "sub").Return(nil, apperr.ErrLicenseNotFound)

		lic, err := svc.CheckStatus(ctx, "sub")
		require.NoError(t, err)
		assert.Nil(t, lic)
	})

	t.Run("expiry is computed at read time and cached value is not changed", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		repo.On("GetLicense", mock.Anything, "sub").
			Return(activeLicense(1, 3, testNow.Add(-time.Hour)), nil).Once()

		lic, err := svc.CheckStatus(ctx, "sub")
		require.NoError(t, err)
		assert.Equal(t, models.LicenseExpired, lic.Status)

		again, err := svc.CheckStatus(ctx, "sub")
		require.NoError(t, err)
		assert.Equal(t, models.LicenseExpired, again.Status)
		repo.AssertNumberOfCalls(t, "GetLicense", 1)
	})

	t.Run("valid", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		repo.On("GetLicense", mock.Anything, "sub").Return(activeLicense(1, 3, testNow.Add(time.Hour)), nil)

		ok, err := svc.IsValid(ctx, "sub")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestLicenseService_CreateLicense(t *testing.T) {
	svc, repo, _, mr := newTestService(t)
	require.NoError(t, mr.Set(cache.LicenseKey("sub"), `{}`))
	repo.On("UpsertLicense", mock.Anything, mock.MatchedBy(func(l *models.License) bool {
		return l.SubscriberID == "sub" && l.MaxMembers == 5 && l.Status == models.LicenseActive &&
			l.EndDate != nil && l.EndDate.Equal(testNow.AddDate(0, 3, 0))
	})).Return(activeLicense(0, 5, testNow.AddDate(0, 3, 0)), nil).Once()

	_, err := svc.CreateLicense(context.Background(), "sub", 5, "quarter")
	require.NoError(t, err)
	repo.AssertExpectations(t)
	assert.False(t, mr.Exists(cache.LicenseKey("sub")))

	_, err = svc.CreateLicense(context.Background(), "sub", 0, "month")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = svc.CreateLicense(context.Background(), "sub", 1, "week")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestLicenseService_StartTrial(t *testing.T) {
	t.Run("once per subscriber", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		repo.On("GetLicense", mock.Anything, "sub").Return(activeLicense(0, 3, testNow.Add(-time.Hour)), nil)

		_, err := svc.StartTrial(context.Background(), "sub", 3)
		require.ErrorIs(t, err, apperr.ErrLicenseAlreadyActive)
	})

	t.Run("trial window", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		repo.On("GetLicense", mock.Anything, "sub").Return(nil, apperr.ErrLicenseNotFound)
		repo.On("UpsertLicense", mock.Anything, mock.MatchedBy(func(l *models.License) bool {
			return l.Status == models.LicenseTrial && l.TrialEndDate.Equal(testNow.AddDate(0, 0, 15))
		})).Return(&models.License{Status: models.LicenseTrial}, nil).Once()

		_, err := svc.StartTrial(context.Background(), "sub", 3)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestLicenseService_AdjustSeats(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.On("AdjustSeats", mock.Anything, "sub", 1, testNow).Return(nil, apperr.ErrSeatLimitReached).Once()
	repo.On("AdjustSeats", mock.Anything, "sub", -1, testNow).Return(activeLicense(0, 3, testNow.Add(time.Hour)), nil).Once()

	_, err := svc.IncrementSeats(context.Background(), "sub")
	require.ErrorIs(t, err, apperr.ErrSeatLimitReached)

	lic, err := svc.DecrementSeats(context.Background(), "sub")
	require.NoError(t, err)
	assert.Equal(t, 0, lic.CurrentMembers)
}

func TestLicenseService_Submit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		in      SubmitInput
		setup   func(repo *RepoMock)
		wantErr error
	}{
		{
			name:    "non positive members",
			in:      SubmitInput{Members: 0, Duration: "month", Type: "new"},
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name:    "unknown type",
			in:      SubmitInput{Members: 1, Duration: "month", Type: "upgrade"},
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name: "member of another roster",
			in:   SubmitInput{Members: 1, Duration: "month", Type: "new"},
			setup: func(repo *RepoMock) {
				repo.On("IsInAnyRoster", mock.Anything, "u1").Return(true, nil)
			},
			wantErr: apperr.ErrAlreadyInOtherRoster,
		},
		{
			name: "new while license is valid",
			in:   SubmitInput{Members: 1, Duration: "month", Type: "new"},
			setup: func(repo *RepoMock) {
				repo.On("IsInAnyRoster", mock.Anything, "u1").Return(false, nil)
				repo.On("GetLicense", mock.Anything, "u1").Return(activeLicense(0, 1, testNow.Add(time.Hour)), nil)
			},
			wantErr: apperr.ErrLicenseAlreadyActive,
		},
		{
			name: "renew without license",
			in:   SubmitInput{Members: 1, Duration: "year", Type: "renew"},
			setup: func(repo *RepoMock) {
				repo.On("IsInAnyRoster", mock.Anything, "u1").Return(false, nil)
				repo.On("GetLicense", mock.Anything, "u1").Return(nil, apperr.ErrLicenseNotFound)
			},
			wantErr: apperr.ErrLicenseNotFound,
		},
		{
			name: "pending request exists",
			in:   SubmitInput{Members: 2, Duration: "month", Type: "new"},
			setup: func(repo *RepoMock) {
				repo.On("IsInAnyRoster", mock.Anything, "u1").Return(false, nil)
				repo.On("GetLicense", mock.Anything, "u1").Return(nil, apperr.ErrLicenseNotFound)
				repo.On("CreateLicenseRequest", mock.Anything, mock.Anything).Return(apperr.ErrPendingRequestExists)
			},
			wantErr: apperr.ErrPendingRequestExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, notifier, _ := newTestService(t)
			if tt.setup != nil {
				tt.setup(repo)
			}
			_, err := svc.Submit(ctx, "u1", tt.in)
			require.ErrorIs(t, err, tt.wantErr)
			notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
		})
	}

	t.Run("notifies super administrator", func(t *testing.T) {
		svc, repo, notifier, _ := newTestService(t)
		repo.On("IsInAnyRoster", mock.Anything, "u1").Return(false, nil)
		repo.On("GetLicense", mock.Anything, "u1").Return(nil, apperr.ErrLicenseNotFound)
		repo.On("CreateLicenseRequest", mock.Anything, mock.MatchedBy(func(r *models.LicenseRequest) bool {
			return r.Status == models.RequestPending && r.RequestedMembers == 4 && r.Type == models.RequestNew
		})).Return(nil).Once()
		repo.On("GetUserByID", mock.Anything, "u1").Return(&models.User{ID: "u1", Username: "alice", Email: "a@example.com"}, nil)
		notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
			return n.To == "root@example.com" && n.Template == models.TemplateLicenseRequestSubmitted &&
				n.Params["members"] == "4"
		})).Once()

		req, err := svc.Submit(ctx, "u1", SubmitInput{Members: 4, Duration: "month", Type: "new"})
		require.NoError(t, err)
		assert.NotEmpty(t, req.ID)
		notifier.AssertExpectations(t)
	})
}

func TestLicenseService_Pending(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.On("GetPendingRequest", mock.Anything, "u1").Return(nil, apperr.ErrNoPendingRequest)

	req, err := svc.Pending(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestLicenseService_Cancel(t *testing.T) {
	svc, repo, _, mr := newTestService(t)
	require.NoError(t, mr.Set(cache.PendingRequestKey("u1"), `{}`))
	repo.On("CancelPendingRequest", mock.Anything, "u1", testNow).
		Return(&models.LicenseRequest{ID: "r1", Status: models.RequestCancelled}, nil).Once()
	repo.On("CancelPendingRequest", mock.Anything, "u2", testNow).Return(nil, apperr.ErrNoPendingRequest)

	_, err := svc.Cancel(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.PendingRequestKey("u1")))

	_, err = svc.Cancel(context.Background(), "u2")
	require.ErrorIs(t, err, apperr.ErrNoPendingRequest)
}

func TestLicenseService_Process(t *testing.T) {
	svc, repo, notifier, mr := newTestService(t)
	require.NoError(t, mr.Set(cache.LicenseKey("u1"), `{}`))
	require.NoError(t, mr.Set(cache.PendingRequestKey("u1"), `{}`))

	req := &models.LicenseRequest{ID: "r1", UserID: "u1", Status: models.RequestApproved, Type: models.RequestNew, RequestedMembers: 3}
	repo.On("ProcessLicenseRequest", mock.Anything, "r1", "admin", true, mock.Anything, testNow).
		Return(req, activeLicense(0, 3, testNow.AddDate(0, 1, 0)), nil).Once()
	repo.On("GetUserByID", mock.Anything, "u1").Return(&models.User{ID: "u1", Email: "a@example.com"}, nil)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.To == "a@example.com" && n.Params["status"] == "approved"
	})).Once()

	_, lic, err := svc.Process(context.Background(), "r1", "admin", true)
	require.NoError(t, err)
	assert.Equal(t, 3, lic.MaxMembers)
	assert.False(t, mr.Exists(cache.LicenseKey("u1")))
	assert.False(t, mr.Exists(cache.PendingRequestKey("u1")))
	notifier.AssertExpectations(t)

	repo.On("ProcessLicenseRequest", mock.Anything, "r1", "admin", false, mock.Anything, testNow).
		Return(nil, nil, apperr.ErrRequestProcessed)
	_, _, err = svc.Process(context.Background(), "r1", "admin", false)
	require.ErrorIs(t, err, apperr.ErrRequestProcessed)
}

func TestLicenseService_ListRejectsUnknownStatus(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.On("ListLicenseRequests", mock.Anything, "pending", 1, 20).Return([]models.LicenseRequest{}, 0, nil)

	_, _, err := svc.List(context.Background(), "lost", 1, 20)
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, _, err = svc.List(context.Background(), "pending", 0, 0)
	require.NoError(t, err)
}
