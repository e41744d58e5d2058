package permissions

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/http/middlewarectx"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Vocabulary() []models.PermissionInfo {
	return models.Vocabulary()
}

func (m *ServiceMock) Grant(ctx context.Context, subscriberID, recordID, perm string) error {
	return m.Called(ctx, subscriberID, recordID, perm).Error(0)
}

func (m *ServiceMock) Revoke(ctx context.Context, subscriberID, recordID, perm string) error {
	return m.Called(ctx, subscriberID, recordID, perm).Error(0)
}

func (m *ServiceMock) BatchSet(ctx context.Context, subscriberID, recordID string, perms []string) ([]string, error) {
	args := m.Called(ctx, subscriberID, recordID, perms)
	res, _ := args.Get(0).([]string)
	return res, args.Error(1)
}

func (m *ServiceMock) GetForMember(ctx context.Context, subscriberID, recordID string) ([]string, error) {
	args := m.Called(ctx, subscriberID, recordID)
	res, _ := args.Get(0).([]string)
	return res, args.Error(1)
}

func (m *ServiceMock) GetForAllMembers(ctx context.Context, subscriberID string) ([]models.MemberPermissions, error) {
	args := m.Called(ctx, subscriberID)
	res, _ := args.Get(0).([]models.MemberPermissions)
	return res, args.Error(1)
}

type MembershipMock struct {
	mock.Mock
}

func (m *MembershipMock) MembershipOf(ctx context.Context, userID string) (*models.MemberRecord, error) {
	args := m.Called(ctx, userID)
	rec, _ := args.Get(0).(*models.MemberRecord)
	return rec, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func serve(h *Handler, userID, method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p := &models.Principal{UserID: userID, Role: models.RoleUser}
			next.ServeHTTP(w, req.WithContext(middlewarectx.WithPrincipal(req.Context(), p)))
		})
	})
	r.Get("/permissions", h.ListAll)
	r.Get("/permissions/vocabulary", h.Vocabulary)
	r.Get("/permissions/me", h.Mine)
	r.Get("/permissions/{memberID}", h.Get)
	r.Put("/permissions/{memberID}", h.Set)
	r.Post("/permissions/{memberID}/grant", h.Grant)
	r.Post("/permissions/{memberID}/revoke", h.Revoke)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rr
}

func TestGrant(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		mockErr    error
		callsSvc   bool
		wantStatus int
	}{
		{name: "granted", body: `{"permission":"order.view"}`, callsSvc: true, wantStatus: http.StatusOK},
		{name: "missing permission", body: `{}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "unknown key", body: `{"permission":"order.view"}`, mockErr: apperr.UnknownPermission("order.view"), callsSvc: true, wantStatus: http.StatusBadRequest},
		{name: "member gone", body: `{"permission":"order.view"}`, mockErr: apperr.ErrMemberNotFound, callsSvc: true, wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			if tt.callsSvc {
				svc.On("Grant", mock.Anything, "sub-1", "rec-1", "order.view").Return(tt.mockErr).Once()
			}
			rr := serve(New(newNoopLogger(), svc, new(MembershipMock)), "sub-1", http.MethodPost, "/permissions/rec-1/grant", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestRevoke(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("Revoke", mock.Anything, "sub-1", "rec-1", "inventory.edit").Return(nil).Once()

	rr := serve(New(newNoopLogger(), svc, new(MembershipMock)), "sub-1", http.MethodPost, "/permissions/rec-1/revoke", `{"permission":"inventory.edit"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestSet_ReturnsNormalizedSet(t *testing.T) {
	svc := new(ServiceMock)
	svc.On("BatchSet", mock.Anything, "sub-1", "rec-1", []string{"order.view", "inventory.view", "order.view"}).
		Return([]string{"inventory.view", "order.view"}, nil).Once()

	rr := serve(New(newNoopLogger(), svc, new(MembershipMock)), "sub-1", http.MethodPut, "/permissions/rec-1",
		`{"permissions":["order.view","inventory.view","order.view"]}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"permissions":["inventory.view","order.view"]`)
}

func TestMine(t *testing.T) {
	t.Run("member", func(t *testing.T) {
		svc := new(ServiceMock)
		ms := new(MembershipMock)
		ms.On("MembershipOf", mock.Anything, "member-1").Return(&models.MemberRecord{ID: "rec-1", SubscriberID: "sub-1"}, nil).Once()
		svc.On("GetForMember", mock.Anything, "sub-1", "rec-1").Return([]string{"warehouse.view"}, nil).Once()

		rr := serve(New(newNoopLogger(), svc, ms), "member-1", http.MethodGet, "/permissions/me", "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"subscriber_id":"sub-1"`)
		assert.Contains(t, rr.Body.String(), "warehouse.view")
	})

	t.Run("not a member", func(t *testing.T) {
		ms := new(MembershipMock)
		ms.On("MembershipOf", mock.Anything, "loner").Return(nil, nil).Once()

		rr := serve(New(newNoopLogger(), new(ServiceMock), ms), "loner", http.MethodGet, "/permissions/me", "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"permissions":[]`)
	})
}

func TestVocabulary(t *testing.T) {
	rr := serve(New(newNoopLogger(), new(ServiceMock), new(MembershipMock)), "sub-1", http.MethodGet, "/permissions/vocabulary", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	for _, key := range []string{"warehouse.create", "inventory.edit", "order.manage"} {
		assert.Contains(t, rr.Body.String(), key)
	}
}
