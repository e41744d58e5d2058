// Package auth реализует HTTP-обработчики аутентификации: регистрацию, вход
// по паролю и через Google, обновление токенов, выход, сброс пароля и работу
// с собственной учётной записью.
//
// Обработчики только разбирают запрос и делегируют работу Service; код
// ответа при ошибке определяет response.StatusFor.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/tenant-auth/internal/http/middlewarectx"
	"github.com/magabrotheeeer/tenant-auth/internal/http/response"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
	authservices "github.com/magabrotheeeer/tenant-auth/internal/services/auth"
)

// Service описывает бизнес-логику, которой пользуются обработчики.
type Service interface {
	Register(ctx context.Context, in authservices.RegisterInput) (*models.User, error)
	Login(ctx context.Context, in authservices.LoginInput) (*authservices.LoginResult, error)
	LoginWithIdentity(ctx context.Context, grant string, in authservices.LoginInput) (*authservices.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*authservices.LoginResult, error)
	Logout(ctx context.Context, p models.Principal) error
	Sessions(ctx context.Context, userID string) (map[models.Platform][]models.Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	Me(ctx context.Context, userID string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, in authservices.ProfileInput) (*models.User, error)
	Deactivate(ctx context.Context, userID, reason string) (*models.User, error)
}

// Handler обрабатывает маршруты /auth.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает Handler с указанными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// RegisterRequest входные данные регистрации.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"full_name" validate:"max=200"`
	Timezone string `json:"timezone" validate:"max=64"`
}

// LoginRequest входные данные входа по паролю.
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	Platform   string `json:"platform" validate:"required"`
	DeviceInfo string `json:"device_info" validate:"max=255"`
	Timezone   string `json:"timezone" validate:"max=64"`
}

// GoogleRequest входные данные входа через Google.
type GoogleRequest struct {
	IDToken    string `json:"id_token" validate:"required"`
	Platform   string `json:"platform" validate:"required"`
	DeviceInfo string `json:"device_info" validate:"max=255"`
	Timezone   string `json:"timezone" validate:"max=64"`
}

// RefreshRequest тело запроса обновления токенов.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ForgotRequest запрос кода сброса пароля.
type ForgotRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetRequest установка нового пароля по коду.
type ResetRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,numeric,len=6"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=72"`
}

// ProfileRequest частичное изменение профиля.
type ProfileRequest struct {
	FullName *string `json:"full_name" validate:"omitempty,max=200"`
	Timezone *string `json:"timezone" validate:"omitempty,max=64"`
}

// DeactivateRequest необязательная причина удаления учётной записи.
type DeactivateRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// TokensResponse результат входа или обновления токенов.
type TokensResponse struct {
	User          *models.User    `json:"user"`
	SessionID     string          `json:"session_id"`
	Platform      models.Platform `json:"platform"`
	AccessToken   string          `json:"access_token"`
	RefreshToken  string          `json:"refresh_token"`
	AccessExpiry  time.Time       `json:"access_expiry"`
	RefreshExpiry time.Time       `json:"refresh_expiry"`
}

func tokensResponse(res *authservices.LoginResult) TokensResponse {
	return TokensResponse{
		User:          res.User,
		SessionID:     res.Session.ID,
		Platform:      res.Session.Platform,
		AccessToken:   res.Tokens.AccessToken,
		RefreshToken:  res.Tokens.RefreshToken,
		AccessExpiry:  res.Tokens.AccessExpiry,
		RefreshExpiry: res.Tokens.RefreshExpiry,
	}
}

// SessionView сессия без токенов.
type SessionView struct {
	ID         string          `json:"id"`
	Platform   models.Platform `json:"platform"`
	DeviceInfo string          `json:"device_info"`
	IPAddress  string          `json:"ip_address"`
	Timezone   string          `json:"timezone"`
	LastActive time.Time       `json:"last_active"`
	CreatedAt  time.Time       `json:"created_at"`
	Current    bool            `json:"current"`
}

// NewSessionView убирает из сессии токены.
func NewSessionView(s models.Session, currentID string) SessionView {
	return SessionView{
		ID:         s.ID,
		Platform:   s.Platform,
		DeviceInfo: s.DeviceInfo,
		IPAddress:  s.IPAddress,
		Timezone:   s.Timezone,
		LastActive: s.LastActive,
		CreatedAt:  s.CreatedAt,
		Current:    s.ID == currentID,
	}
}

func deviceInfo(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.UserAgent()
}

func principal(w http.ResponseWriter, r *http.Request, log *slog.Logger) (*models.Principal, bool) {
	p, ok := middlewarectx.PrincipalFrom(r.Context())
	if !ok {
		log.Error("principal missing in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
	}
	return p, ok
}
