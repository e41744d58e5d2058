package admin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/http/middlewarectx"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
	adminservices "github.com/magabrotheeeer/tenant-auth/internal/services/admin"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) SetUserStatus(ctx context.Context, userID string, enabled bool) error {
	return m.Called(ctx, userID, enabled).Error(0)
}

func (m *ServiceMock) UpdateRole(ctx context.Context, userID, role string) error {
	return m.Called(ctx, userID, role).Error(0)
}

func (m *ServiceMock) DeleteUser(ctx context.Context, userID, reason string) (*models.User, error) {
	args := m.Called(ctx, userID, reason)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *ServiceMock) TerminateSession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *ServiceMock) TerminateUserSessions(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *ServiceMock) ListUsers(ctx context.Context, search string, p adminservices.Page) ([]models.User, int, error) {
	args := m.Called(ctx, search, p)
	list, _ := args.Get(0).([]models.User)
	return list, args.Int(1), args.Error(2)
}

func (m *ServiceMock) ListSessions(ctx context.Context, userID string, p adminservices.Page) ([]models.Session, int, error) {
	args := m.Called(ctx, userID, p)
	list, _ := args.Get(0).([]models.Session)
	return list, args.Int(1), args.Error(2)
}

func (m *ServiceMock) LoginLogs(ctx context.Context, userID string, since time.Duration, limit int) ([]models.LoginLog, error) {
	args := m.Called(ctx, userID, since, limit)
	list, _ := args.Get(0).([]models.LoginLog)
	return list, args.Error(1)
}

func (m *ServiceMock) UserStats(ctx context.Context, window time.Duration) (*models.UserStats, error) {
	args := m.Called(ctx, window)
	stats, _ := args.Get(0).(*models.UserStats)
	return stats, args.Error(1)
}

func (m *ServiceMock) SessionStats(ctx context.Context) (*models.SessionStats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*models.SessionStats)
	return stats, args.Error(1)
}

type RequestsMock struct {
	mock.Mock
}

func (m *RequestsMock) List(ctx context.Context, status string, page, limit int) ([]models.LicenseRequest, int, error) {
	args := m.Called(ctx, status, page, limit)
	list, _ := args.Get(0).([]models.LicenseRequest)
	return list, args.Int(1), args.Error(2)
}

func (m *RequestsMock) Process(ctx context.Context, requestID, adminID string, approve bool) (*models.LicenseRequest, *models.License, error) {
	args := m.Called(ctx, requestID, adminID, approve)
	lr, _ := args.Get(0).(*models.LicenseRequest)
	lic, _ := args.Get(1).(*models.License)
	return lr, lic, args.Error(2)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p := &models.Principal{UserID: "admin-1", Role: models.RoleSuperAdmin}
			next.ServeHTTP(w, req.WithContext(middlewarectx.WithPrincipal(req.Context(), p)))
		})
	})
	r.Get("/admin/users", h.ListUsers)
	r.Patch("/admin/users/{id}/status", h.SetStatus)
	r.Patch("/admin/users/{id}/role", h.SetRole)
	r.Delete("/admin/users/{id}", h.DeleteUser)
	r.Delete("/admin/users/{id}/sessions", h.TerminateUserSessions)
	r.Get("/admin/users/{id}/login-logs", h.LoginLogs)
	r.Get("/admin/sessions", h.ListSessions)
	r.Delete("/admin/sessions/{id}", h.TerminateSession)
	r.Get("/admin/stats/users", h.UserStats)
	r.Get("/admin/stats/sessions", h.SessionStats)
	r.Get("/admin/license-requests", h.ListRequests)
	r.Post("/admin/license-requests/{id}", h.ProcessRequest)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rr
}

func TestSetStatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		mockErr    error
		callsSvc   bool
		wantStatus int
	}{
		{name: "disable", body: `{"enabled":false}`, callsSvc: true, wantStatus: http.StatusOK},
		{name: "missing flag", body: `{}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "protected target", body: `{"enabled":false}`, mockErr: apperr.ErrForbidden, callsSvc: true, wantStatus: http.StatusForbidden},
		{name: "unknown user", body: `{"enabled":false}`, mockErr: apperr.ErrUserNotFound, callsSvc: true, wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			if tt.callsSvc {
				svc.On("SetUserStatus", mock.Anything, "u-7", false).Return(tt.mockErr).Once()
			}
			rr := serve(New(newNoopLogger(), svc, new(RequestsMock)), http.MethodPatch, "/admin/users/u-7/status", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestSetRole_RejectsSuperadmin(t *testing.T) {
	rr := serve(New(newNoopLogger(), new(ServiceMock), new(RequestsMock)), http.MethodPatch, "/admin/users/u-7/role",
		`{"role":"superadministrator"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestListUsers_PassesPaging(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("ListUsers", mock.Anything, "ali", adminservices.Page{Page: 2, Limit: 10}).
		Return([]models.User{{ID: "u-1"}}, 11, nil).Once()

	rr := serve(New(newNoopLogger(), svc, new(RequestsMock)), http.MethodGet, "/admin/users?search=ali&page=2&limit=10", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":11`)
	svc.AssertExpectations(t)
}

func TestListSessions_HidesTokens(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("ListSessions", mock.Anything, "", adminservices.Page{}).
		Return([]models.Session{{ID: "s-1", AccessToken: "secret-access", RefreshToken: "secret-refresh"}}, 1, nil).Once()

	rr := serve(New(newNoopLogger(), svc, new(RequestsMock)), http.MethodGet, "/admin/sessions", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret")
}

func TestLoginLogs_Days(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("LoginLogs", mock.Anything, "u-1", 7*24*time.Hour, 50).Return([]models.LoginLog{{ID: "log-1", Action: models.ActionLogin}}, nil).Once()

	rr := serve(New(newNoopLogger(), svc, new(RequestsMock)), http.MethodGet, "/admin/users/u-1/login-logs?days=7&limit=50", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "log-1")
	svc.AssertExpectations(t)
}

func TestProcessRequest(t *testing.T) {
	t.Run("approve", func(t *testing.T) {
		reqs := new(RequestsMock)
		reqs.On("Process", mock.Anything, "r-1", "admin-1", true).
			Return(&models.LicenseRequest{ID: "r-1", Status: models.RequestApproved}, &models.License{ID: "l-1", MaxMembers: 5}, nil).Once()

		rr := serve(New(newNoopLogger(), new(ServiceMock), reqs), http.MethodPost, "/admin/license-requests/r-1", `{"action":"approve"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		reqs.AssertExpectations(t)
	})

	t.Run("already processed", func(t *testing.T) {
		reqs := new(RequestsMock)
		reqs.On("Process", mock.Anything, "r-1", "admin-1", false).Return(nil, nil, apperr.ErrRequestProcessed).Once()

		rr := serve(New(newNoopLogger(), new(ServiceMock), reqs), http.MethodPost, "/admin/license-requests/r-1", `{"action":"reject"}`)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("bad action", func(t *testing.T) {
		rr := serve(New(newNoopLogger(), new(ServiceMock), new(RequestsMock)), http.MethodPost, "/admin/license-requests/r-1", `{"action":"maybe"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestStats(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("UserStats", mock.Anything, 7*24*time.Hour).Return(&models.UserStats{
		Total:   3,
		ByState: map[models.UserState]int{models.UserActive: 3},
		ByRole:  map[models.Role]int{models.RoleUser: 2, models.RoleAdmin: 1},
	}, nil).Once()
	svc.On("SessionStats", mock.Anything).Return(nil, errors.New("boom")).Once()
	h := New(newNoopLogger(), svc, new(RequestsMock))

	rr := serve(h, http.MethodGet, "/admin/stats/users?days=7", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"by_role":{"admin":1,"user":2}`)

	rr = serve(h, http.MethodGet, "/admin/stats/sessions", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	svc.AssertExpectations(t)
}
