// Package services содержит хранилище сессий: создание с правилом одной
// активной сессии на платформу, проверку, ротацию и завершение.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/ids"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/jwt"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// SessionRepository описывает контракт хранения сессий.
type SessionRepository interface {
	// CreateSession сохраняет сессию и деактивирует активные сессии на той же
	// платформе. Возвращает идентификаторы деактивированных сессий.
	CreateSession(ctx context.Context, sess *models.Session) ([]string, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	FindSessionByRefreshToken(ctx context.Context, token string) (*models.Session, error)
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
	RotateSessionTokens(ctx context.Context, sess *models.Session) error
	// DeactivateSession возвращает владельца деактивированной сессии.
	DeactivateSession(ctx context.Context, id string, now time.Time) (string, error)
	DeactivateSessionsByPlatform(ctx context.Context, userID string, platform models.Platform, now time.Time) ([]string, error)
	DeactivateAllSessions(ctx context.Context, userID string, now time.Time) ([]string, error)
}

// Cache описывает методы кеша, которые использует сервис.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// SessionService управляет жизненным циклом сессий. Кеш только ускоряет
// чтение: ключи сбрасываются после фиксации изменения в базе.
type SessionService struct {
	repo    SessionRepository
	cache   Cache
	tokens  jwt.Maker
	ttl     time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSessionService создает новый экземпляр SessionService.
func NewSessionService(repo SessionRepository, cache Cache, tokens jwt.Maker, ttl time.Duration,
	log *slog.Logger, m *metrics.Metrics) *SessionService {
	return &SessionService{
		repo:    repo,
		cache:   cache,
		tokens:  tokens,
		ttl:     ttl,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// Create создаёт сессию и выпускает для неё токены. Активные сессии
// пользователя на той же платформе деактивируются в той же транзакции.
func (s *SessionService) Create(ctx context.Context, in models.NewSession) (*models.Session, *jwt.TokenPair, error) {
	platform, err := models.ParsePlatform(in.Platform)
	if err != nil {
		return nil, nil, err
	}

	id := ids.New()
	pair, err := s.tokens.Issue(jwt.Subject{UserID: in.UserID, Role: in.Role, Timezone: in.Timezone}, id)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	sess := &models.Session{
		ID:               id,
		UserID:           in.UserID,
		Platform:         platform,
		DeviceInfo:       in.DeviceInfo,
		IPAddress:        in.IPAddress,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresAt:        pair.AccessExpiry,
		RefreshExpiresAt: pair.RefreshExpiry,
		IsActive:         true,
		Timezone:         in.Timezone,
		LastActive:       now,
		CreatedAt:        now,
	}

	invalidated, err := s.repo.CreateSession(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	s.invalidate(ctx, cache.SessionKeys(in.UserID, invalidated...)...)
	s.metrics.SessionsInvalidated("sso", len(invalidated))

	if len(invalidated) > 0 {
		s.log.Info("previous sessions on platform deactivated",
			slog.String("user_id", in.UserID),
			slog.String("platform", string(platform)),
			slog.Int("count", len(invalidated)))
	}
	return sess, pair, nil
}

// Get возвращает сессию по идентификатору, используя кеш.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	key := cache.SessionKey(id)
	var cached models.Session
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, sess)
	return sess, nil
}

// Validate проверяет, что сессия из claims существует, активна и
// принадлежит тому же пользователю.
func (s *SessionService) Validate(ctx context.Context, claims *jwt.CustomClaims) (*models.Principal, error) {
	if claims == nil {
		return nil, apperr.ErrTokenInvalid
	}
	sess, err := s.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UserID {
		return nil, apperr.ErrTokenInvalid
	}
	if !sess.IsActive || sess.RefreshExpired(s.now()) {
		return nil, apperr.ErrSessionExpired
	}
	return &models.Principal{
		UserID:    claims.UserID,
		Role:      claims.Role,
		SessionID: sess.ID,
		Platform:  sess.Platform,
		Timezone:  claims.Timezone,
	}, nil
}

// FindActiveByUser возвращает активные сессии пользователя.
func (s *SessionService) FindActiveByUser(ctx context.Context, userID string) ([]models.Session, error) {
	key := cache.UserSessionsKey(userID)
	var cached []models.Session
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	sessions, err := s.repo.ListActiveSessions(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	s.cacheSet(ctx, key, sessions)
	return sessions, nil
}

// FindByRefreshToken ищет активную сессию по refresh-токену. Сессия с
// истёкшим refresh-токеном завершается при чтении.
func (s *SessionService) FindByRefreshToken(ctx context.Context, token string) (*models.Session, error) {
	sess, err := s.repo.FindSessionByRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.RefreshExpired(s.now()) {
		if err := s.Terminate(ctx, sess.ID); err != nil && !errors.Is(err, apperr.ErrSessionNotFound) {
			s.log.Error("failed to terminate expired session", slog.String("session_id", sess.ID), sl.Err(err))
		}
		return nil, apperr.ErrSessionExpired
	}
	return sess, nil
}

// Rotate выпускает новую пару токенов для существующей сессии и продлевает её.
func (s *SessionService) Rotate(ctx context.Context, sess *models.Session, subject jwt.Subject) (*jwt.TokenPair, error) {
	pair, err := s.tokens.Issue(subject, sess.ID)
	if err != nil {
		return nil, err
	}

	next := *sess
	next.AccessToken = pair.AccessToken
	next.RefreshToken = pair.RefreshToken
	next.ExpiresAt = pair.AccessExpiry
	next.RefreshExpiresAt = pair.RefreshExpiry
	next.LastActive = s.now().UTC()
	if err := s.repo.RotateSessionTokens(ctx, &next); err != nil {
		return nil, err
	}
	*sess = next
	s.invalidate(ctx, cache.SessionKeys(sess.UserID, sess.ID)...)
	return pair, nil
}

// Terminate завершает одну сессию.
func (s *SessionService) Terminate(ctx context.Context, id string) error {
	userID, err := s.repo.DeactivateSession(ctx, id, s.now().UTC())
	if err != nil {
		return err
	}
	s.invalidate(ctx, cache.SessionKeys(userID, id)...)
	s.metrics.SessionsInvalidated("terminate", 1)
	return nil
}

// InvalidateByPlatform завершает сессии пользователя на одной платформе.
func (s *SessionService) InvalidateByPlatform(ctx context.Context, userID, platform string) (int, error) {
	p, err := models.ParsePlatform(platform)
	if err != nil {
		return 0, err
	}
	closed, err := s.repo.DeactivateSessionsByPlatform(ctx, userID, p, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, cache.SessionKeys(userID, closed...)...)
	s.metrics.SessionsInvalidated("logout", len(closed))
	return len(closed), nil
}

// InvalidateAll завершает все сессии пользователя.
func (s *SessionService) InvalidateAll(ctx context.Context, userID string) (int, error) {
	closed, err := s.repo.DeactivateAllSessions(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, cache.SessionKeys(userID, closed...)...)
	s.metrics.SessionsInvalidated("all", len(closed))
	return len(closed), nil
}

func (s *SessionService) cacheGet(ctx context.Context, key string, result any) bool {
	found, err := s.cache.Get(ctx, key, result)
	if err != nil {
		s.log.Warn("failed to read from cache", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("get")
		return false
	}
	return found
}

func (s *SessionService) cacheSet(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.log.Warn("failed to add to cache", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("set")
	}
}

func (s *SessionService) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("failed to remove from cache", slog.Any("keys", keys), sl.Err(err))
		s.metrics.CacheError("invalidate")
	}
}
