// Package services содержит административные операции над пользователями
// и их сессиями.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// AdminRepository описывает контракт для работы с пользователями в базе данных.
type AdminRepository interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SetUserState(ctx context.Context, id string, state models.UserState, now time.Time) error
	UpdateUserRole(ctx context.Context, id string, role models.Role, now time.Time) error
	ListUsers(ctx context.Context, search string, page, limit int) ([]models.User, int, error)
	ListSessions(ctx context.Context, userID string, page, limit int) ([]models.Session, int, error)
	ListLoginLogs(ctx context.Context, userID string, since time.Time, limit int) ([]models.LoginLog, error)
	UserStats(ctx context.Context, since time.Time) (*models.UserStats, error)
	SessionStats(ctx context.Context, now time.Time) (*models.SessionStats, error)
}

// Sessions завершение сессий.
type Sessions interface {
	Terminate(ctx context.Context, id string) error
	InvalidateAll(ctx context.Context, userID string) (int, error)
}

// Deactivator удаляет учётную запись.
type Deactivator interface {
	Deactivate(ctx context.Context, userID, reason string) (*models.User, error)
}

// Cache описывает методы кеша, которые использует сервис.
type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// AdminService выполняет действия администратора.
type AdminService struct {
	repo        AdminRepository
	sessions    Sessions
	deactivator Deactivator
	cache       Cache
	log         *slog.Logger
	now         func() time.Time
}

// NewAdminService создает новый экземпляр AdminService.
func NewAdminService(repo AdminRepository, sessions Sessions, deactivator Deactivator, cache Cache,
	log *slog.Logger) *AdminService {
	return &AdminService{
		repo:        repo,
		sessions:    sessions,
		deactivator: deactivator,
		cache:       cache,
		log:         log,
		now:         time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *AdminService) WithClock(now func() time.Time) *AdminService {
	s.now = now
	return s
}

// Page параметры постраничной выборки.
type Page struct {
	Page  int
	Limit int
}

func (p Page) normalize() (int, int) {
	page, limit := p.Page, p.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// target загружает пользователя, над которым выполняется действие.
func (s *AdminService) target(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsProtected() {
		return nil, apperr.ErrForbidden
	}
	return u, nil
}

// SetUserStatus включает или блокирует пользователя. При блокировке все
// сессии завершаются.
func (s *AdminService) SetUserStatus(ctx context.Context, userID string, enabled bool) error {
	if _, err := s.target(ctx, userID); err != nil {
		return err
	}
	state := models.UserActive
	if !enabled {
		state = models.UserDisabled
	}
	if err := s.repo.SetUserState(ctx, userID, state, s.now().UTC()); err != nil {
		return err
	}
	if !enabled {
		if _, err := s.sessions.InvalidateAll(ctx, userID); err != nil {
			return err
		}
	}
	s.invalidate(ctx, cache.UserKey(userID))
	s.log.Info("user status changed", slog.String("user_id", userID), slog.String("state", string(state)))
	return nil
}

// UpdateRole меняет роль пользователя. Назначить суперадминистратора нельзя.
// Роль зашита в access-токен, поэтому при смене роли все сессии завершаются.
func (s *AdminService) UpdateRole(ctx context.Context, userID, role string) error {
	r, err := models.ParseRole(role)
	if err != nil {
		return err
	}
	if r == models.RoleSuperAdmin {
		return apperr.ErrForbidden
	}
	u, err := s.target(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserRole(ctx, userID, r, s.now().UTC()); err != nil {
		return err
	}
	if u.Role != r {
		if _, err := s.sessions.InvalidateAll(ctx, userID); err != nil {
			return err
		}
	}
	s.invalidate(ctx, cache.UserKey(userID))
	s.log.Info("user role changed", slog.String("user_id", userID), slog.String("role", string(r)))
	return nil
}

// DeleteUser деактивирует учётную запись.
func (s *AdminService) DeleteUser(ctx context.Context, userID, reason string) (*models.User, error) {
	if reason == "" {
		reason = "deleted by administrator"
	}
	return s.deactivator.Deactivate(ctx, userID, reason)
}

// TerminateSession завершает одну сессию.
func (s *AdminService) TerminateSession(ctx context.Context, sessionID string) error {
	return s.sessions.Terminate(ctx, sessionID)
}

// TerminateUserSessions завершает все сессии пользователя.
func (s *AdminService) TerminateUserSessions(ctx context.Context, userID string) (int, error) {
	if _, err := s.target(ctx, userID); err != nil {
		return 0, err
	}
	return s.sessions.InvalidateAll(ctx, userID)
}

// ListUsers ищет пользователей по email или имени.
func (s *AdminService) ListUsers(ctx context.Context, search string, p Page) ([]models.User, int, error) {
	page, limit := p.normalize()
	return s.repo.ListUsers(ctx, search, page, limit)
}

// ListSessions возвращает сессии пользователя или всех пользователей, если userID пуст.
func (s *AdminService) ListSessions(ctx context.Context, userID string, p Page) ([]models.Session, int, error) {
	page, limit := p.normalize()
	return s.repo.ListSessions(ctx, userID, page, limit)
}

// LoginLogs возвращает журнал входов пользователя за период since.
func (s *AdminService) LoginLogs(ctx context.Context, userID string, since time.Duration, limit int) ([]models.LoginLog, error) {
	if since <= 0 {
		since = 30 * 24 * time.Hour
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListLoginLogs(ctx, userID, s.now().UTC().Add(-since), limit)
}

// UserStats возвращает сводку по пользователям. Новые и активные считаются
// за последние window, по умолчанию 30 дней.
func (s *AdminService) UserStats(ctx context.Context, window time.Duration) (*models.UserStats, error) {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return s.repo.UserStats(ctx, s.now().UTC().Add(-window))
}

// SessionStats возвращает сводку по действующим сессиям.
func (s *AdminService) SessionStats(ctx context.Context) (*models.SessionStats, error) {
	return s.repo.SessionStats(ctx, s.now().UTC())
}

func (s *AdminService) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", slog.Any("keys", keys), sl.Err(err))
	}
}
