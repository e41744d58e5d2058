// Package services содержит состав участников подписчика: добавление,
// удаление, выход и проверки членства.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/ids"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// RosterRepository описывает контракт хранения состава.
type RosterRepository interface {
	// AddMember занимает место лицензии в той же транзакции.
	AddMember(ctx context.Context, rec *models.MemberRecord, now time.Time) (*models.License, error)
	RemoveMember(ctx context.Context, subscriberID, recordID string, now time.Time) (*models.MemberRecord, *models.License, error)
	LeaveRoster(ctx context.Context, memberUserID string, now time.Time) (*models.MemberRecord, *models.License, error)
	ListMembers(ctx context.Context, subscriberID string) ([]models.MemberRecord, error)
	MembershipOf(ctx context.Context, userID string) (*models.MemberRecord, error)
	IsInAnyRoster(ctx context.Context, userID string) (bool, error)

	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Cache описывает методы кеша, которые использует сервис.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Notifier отправляет уведомления асинхронно.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// RosterService управляет составом участников.
type RosterService struct {
	repo     RosterRepository
	cache    Cache
	notifier Notifier
	ttl      time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRosterService создает новый экземпляр RosterService.
func NewRosterService(repo RosterRepository, cache Cache, notifier Notifier, ttl time.Duration,
	log *slog.Logger, m *metrics.Metrics) *RosterService {
	return &RosterService{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		ttl:      ttl,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *RosterService) WithClock(now func() time.Time) *RosterService {
	s.now = now
	return s
}

// AddMember добавляет участника по email. Если пользователь с таким адресом
// ещё не зарегистрирован, запись остаётся приглашением без member id.
func (s *RosterService) AddMember(ctx context.Context, subscriberID, email string) (*models.MemberRecord, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, apperr.Validation("email is required")
	}

	subscriber, err := s.repo.GetUserByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if subscriber.Email == email {
		return nil, apperr.Validation("cannot add yourself")
	}

	now := s.now().UTC()
	rec := &models.MemberRecord{
		ID:           ids.New(),
		SubscriberID: subscriberID,
		Email:        email,
		Status:       models.MemberActive,
		JoinedAt:     now,
		CreatedAt:    now,
	}
	invitee, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		rec.MemberID = &invitee.ID
	case !errors.Is(err, apperr.ErrUserNotFound):
		return nil, err
	}

	_, err = s.repo.AddMember(ctx, rec, now)
	s.metrics.RosterChange("add", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.RosterKeys(subscriberID, rec.ID, memberUserID(rec))...)
	s.log.Info("member added",
		slog.String("subscriber_id", subscriberID),
		slog.String("record_id", rec.ID),
		slog.Bool("registered", rec.IsRegistered()),
	)

	s.notifier.Notify(ctx, models.Notification{
		To:       email,
		Template: models.TemplateMemberAdded,
		Params:   map[string]string{"subscriber": subscriber.Username},
	})
	return rec, nil
}

// RemoveMember удаляет участника из состава подписчика и освобождает место.
func (s *RosterService) RemoveMember(ctx context.Context, subscriberID, recordID string) (*models.MemberRecord, error) {
	rec, _, err := s.repo.RemoveMember(ctx, subscriberID, recordID, s.now().UTC())
	s.metrics.RosterChange("remove", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.RosterKeys(subscriberID, rec.ID, memberUserID(rec))...)
	s.log.Info("member removed", slog.String("subscriber_id", subscriberID), slog.String("record_id", rec.ID))
	return rec, nil
}

// Leave выводит пользователя из состава, в котором он состоит.
func (s *RosterService) Leave(ctx context.Context, memberUserID string) (*models.MemberRecord, error) {
	rec, _, err := s.repo.LeaveRoster(ctx, memberUserID, s.now().UTC())
	s.metrics.RosterChange("leave", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.RosterKeys(rec.SubscriberID, rec.ID, memberUserID)...)
	s.log.Info("member left", slog.String("subscriber_id", rec.SubscriberID), slog.String("user_id", memberUserID))
	return rec, nil
}

// GetMembers возвращает активный состав подписчика.
func (s *RosterService) GetMembers(ctx context.Context, subscriberID string) ([]models.MemberRecord, error) {
	key := cache.MembersKey(subscriberID)
	var members []models.MemberRecord
	if s.cacheGet(ctx, key, &members) {
		return members, nil
	}
	members, err := s.repo.ListMembers(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []models.MemberRecord{}
	}
	s.cacheSet(ctx, key, members)
	return members, nil
}

// IsInAnyRoster проверяет членство по базе, минуя кеш.
func (s *RosterService) IsInAnyRoster(ctx context.Context, userID string) (bool, error) {
	return s.repo.IsInAnyRoster(ctx, userID)
}

// MembershipOf возвращает активную запись пользователя или nil.
func (s *RosterService) MembershipOf(ctx context.Context, userID string) (*models.MemberRecord, error) {
	key := cache.MembershipKey(userID)
	var cached models.MemberRecord
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}
	rec, err := s.repo.MembershipOf(ctx, userID)
	if errors.Is(err, apperr.ErrNotInRoster) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, rec)
	return rec, nil
}

func memberUserID(rec *models.MemberRecord) string {
	if rec.IsRegistered() {
		return *rec.MemberID
	}
	return ""
}

func (s *RosterService) cacheGet(ctx context.Context, key string, result any) bool {
	found, err := s.cache.Get(ctx, key, result)
	if err != nil {
		s.log.Warn("cache read failed", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("get")
		return false
	}
	return found
}

func (s *RosterService) cacheSet(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.log.Warn("cache write failed", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("set")
	}
}

func (s *RosterService) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", slog.Any("keys", keys), sl.Err(err))
		s.metrics.CacheError("invalidate")
	}
}
