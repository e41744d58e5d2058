// Package admin реализует HTTP-обработчики панели администратора:
// пользователи, сессии, журнал входов и обработка заявок на лицензию.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/tenant-auth/internal/models"
	adminservices "github.com/magabrotheeeer/tenant-auth/internal/services/admin"
)

// Service административные операции над пользователями и сессиями.
type Service interface {
	SetUserStatus(ctx context.Context, userID string, enabled bool) error
	UpdateRole(ctx context.Context, userID, role string) error
	DeleteUser(ctx context.Context, userID, reason string) (*models.User, error)
	TerminateSession(ctx context.Context, sessionID string) error
	TerminateUserSessions(ctx context.Context, userID string) (int, error)
	ListUsers(ctx context.Context, search string, p adminservices.Page) ([]models.User, int, error)
	ListSessions(ctx context.Context, userID string, p adminservices.Page) ([]models.Session, int, error)
	LoginLogs(ctx context.Context, userID string, since time.Duration, limit int) ([]models.LoginLog, error)
	UserStats(ctx context.Context, window time.Duration) (*models.UserStats, error)
	SessionStats(ctx context.Context) (*models.SessionStats, error)
}

// Requests обработка заявок на лицензию.
type Requests interface {
	List(ctx context.Context, status string, page, limit int) ([]models.LicenseRequest, int, error)
	Process(ctx context.Context, requestID, adminID string, approve bool) (*models.LicenseRequest, *models.License, error)
}

// Handler обрабатывает маршруты /admin.
type Handler struct {
	log      *slog.Logger
	service  Service
	requests Requests
	validate *validator.Validate
}

// New создает Handler.
func New(log *slog.Logger, service Service, requests Requests) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		requests: requests,
		validate: validator.New(),
	}
}

// StatusRequest включение или блокировка пользователя.
type StatusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// RoleRequest смена роли.
type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

// DeleteRequest причина удаления.
type DeleteRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ProcessRequest решение по заявке.
type ProcessRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
}

// SessionView сессия без токенов.
type SessionView struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Platform   models.Platform `json:"platform"`
	DeviceInfo string          `json:"device_info"`
	IPAddress  string          `json:"ip_address"`
	LastActive time.Time       `json:"last_active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// LoginLogView запись журнала входов.
type LoginLogView struct {
	ID            string          `json:"id"`
	Action        string          `json:"action"`
	Platform      models.Platform `json:"platform"`
	Success       bool            `json:"success"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	IPAddress     string          `json:"ip_address"`
	DeviceInfo    string          `json:"device_info"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

func page(r *http.Request) adminservices.Page {
	return adminservices.Page{Page: queryInt(r, "page"), Limit: queryInt(r, "limit")}
}
