// Package services содержит учёт лицензий подписчиков и заявок на них.
//
// Срок действия лицензии определяется только по датам в момент чтения,
// фоновых задач, переводящих лицензии в expired, нет.
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

// LicenseRepository описывает контракт хранения лицензий и заявок.
type LicenseRepository interface {
	GetLicense(ctx context.Context, subscriberID string) (*models.License, error)
	UpsertLicense(ctx context.Context, lic *models.License) (*models.License, error)
	AdjustSeats(ctx context.Context, subscriberID string, delta int, now time.Time) (*models.License, error)
	ReconcileSeats(ctx context.Context, subscriberID string, now time.Time) (*models.License, error)

	CreateLicenseRequest(ctx context.Context, r *models.LicenseRequest) error
	GetPendingRequest(ctx context.Context, userID string) (*models.LicenseRequest, error)
	CancelPendingRequest(ctx context.Context, userID string, now time.Time) (*models.LicenseRequest, error)
	ListLicenseRequests(ctx context.Context, status string, page, limit int) ([]models.LicenseRequest, int, error)
	ProcessLicenseRequest(ctx context.Context, requestID, adminID string, approve bool,
		newLicenseID string, now time.Time) (*models.LicenseRequest, *models.License, error)

	IsInAnyRoster(ctx context.Context, userID string) (bool, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
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

// Options параметры LicenseService.
type Options struct {
	TTL             time.Duration
	TrialDays       int
	SuperAdminEmail string
}

// LicenseService ведёт лицензии и заявки.
type LicenseService struct {
	repo     LicenseRepository
	cache    Cache
	notifier Notifier
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewLicenseService создает новый экземпляр LicenseService.
func NewLicenseService(repo LicenseRepository, cache Cache, notifier Notifier, opts Options,
	log *slog.Logger, m *metrics.Metrics) *LicenseService {
	if opts.TrialDays <= 0 {
		opts.TrialDays = 15
	}
	return &LicenseService{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		opts:     opts,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *LicenseService) WithClock(now func() time.Time) *LicenseService {
	s.now = now
	return s
}

// CreateLicense выдаёт подписчику активную лицензию на seats мест и срок
// duration начиная с текущего момента.
func (s *LicenseService) CreateLicense(ctx context.Context, subscriberID string, seats int, duration string) (*models.License, error) {
	if seats <= 0 {
		return nil, apperr.Validation("seats must be positive")
	}
	d, err := models.ParseDuration(duration)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	end := d.From(now)
	lic, err := s.repo.UpsertLicense(ctx, &models.License{
		ID:           ids.New(),
		SubscriberID: subscriberID,
		MaxMembers:   seats,
		Status:       models.LicenseActive,
		StartDate:    &now,
		EndDate:      &end,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.LicenseKey(subscriberID))
	s.log.Info("license created", slog.String("subscriber_id", subscriberID), slog.Int("seats", seats))
	return lic, nil
}

// StartTrial выдаёт пробную лицензию. Пробный период выдаётся один раз:
// подписчик с любой лицензией получает ErrLicenseAlreadyActive.
func (s *LicenseService) StartTrial(ctx context.Context, subscriberID string, seats int) (*models.License, error) {
	if seats <= 0 {
		return nil, apperr.Validation("seats must be positive")
	}
	now := s.now().UTC()
	_, err := s.repo.GetLicense(ctx, subscriberID)
	switch {
	case err == nil:
		return nil, apperr.ErrLicenseAlreadyActive
	case !errors.Is(err, apperr.ErrLicenseNotFound):
		return nil, err
	}

	trialEnd := now.AddDate(0, 0, s.opts.TrialDays)
	lic, err := s.repo.UpsertLicense(ctx, &models.License{
		ID:           ids.New(),
		SubscriberID: subscriberID,
		MaxMembers:   seats,
		Status:       models.LicenseTrial,
		TrialEndDate: &trialEnd,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.LicenseKey(subscriberID))
	s.log.Info("trial started", slog.String("subscriber_id", subscriberID))
	return lic, nil
}

// CheckStatus возвращает лицензию со статусом на текущий момент или nil,
// если лицензии нет.
func (s *LicenseService) CheckStatus(ctx context.Context, subscriberID string) (*models.License, error) {
	key := cache.LicenseKey(subscriberID)
	var cached models.License
	lic := &cached
	if !s.cacheGet(ctx, key, &cached) {
		var err error
		lic, err = s.repo.GetLicense(ctx, subscriberID)
		if errors.Is(err, apperr.ErrLicenseNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, key, lic)
	}
	out := *lic
	out.Status = lic.EffectiveStatus(s.now())
	return &out, nil
}

// IsValid сообщает, действует ли лицензия подписчика.
func (s *LicenseService) IsValid(ctx context.Context, subscriberID string) (bool, error) {
	lic, err := s.CheckStatus(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	return lic != nil && lic.Status != models.LicenseExpired, nil
}

// IncrementSeats занимает одно место.
func (s *LicenseService) IncrementSeats(ctx context.Context, subscriberID string) (*models.License, error) {
	return s.adjust(ctx, subscriberID, 1)
}

// DecrementSeats освобождает одно место.
func (s *LicenseService) DecrementSeats(ctx context.Context, subscriberID string) (*models.License, error) {
	return s.adjust(ctx, subscriberID, -1)
}

func (s *LicenseService) adjust(ctx context.Context, subscriberID string, delta int) (*models.License, error) {
	lic, err := s.repo.AdjustSeats(ctx, subscriberID, delta, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.LicenseKey(subscriberID))
	return lic, nil
}

// Reconcile пересчитывает занятые места по активному составу.
func (s *LicenseService) Reconcile(ctx context.Context, subscriberID string) (*models.License, error) {
	lic, err := s.repo.ReconcileSeats(ctx, subscriberID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.LicenseKey(subscriberID))
	s.log.Info("seats reconciled", slog.String("subscriber_id", subscriberID), slog.Int("current", lic.CurrentMembers))
	return lic, nil
}

func (s *LicenseService) cacheGet(ctx context.Context, key string, result any) bool {
	found, err := s.cache.Get(ctx, key, result)
	if err != nil {
		s.log.Warn("cache read failed", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("get")
		return false
	}
	return found
}

func (s *LicenseService) cacheSet(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.opts.TTL); err != nil {
		s.log.Warn("cache write failed", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("set")
	}
}

func (s *LicenseService) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", slog.Any("keys", keys), sl.Err(err))
		s.metrics.CacheError("invalidate")
	}
}
