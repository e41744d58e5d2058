// Package services содержит реестр прав участников.
package services

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// PermissionRepository описывает контракт хранения прав.
type PermissionRepository interface {
	ReplacePermissions(ctx context.Context, subscriberID, recordID string, perms []string, now time.Time) error
	GrantPermission(ctx context.Context, subscriberID, recordID, perm string, now time.Time) error
	RevokePermission(ctx context.Context, subscriberID, recordID, perm string, now time.Time) error
	ListMemberPermissions(ctx context.Context, subscriberID, recordID string) ([]string, error)
	ListAllMemberPermissions(ctx context.Context, subscriberID string) ([]models.MemberPermissions, error)
}

// Cache описывает методы кеша, которые использует сервис.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Licenses сообщает, действует ли лицензия подписчика.
type Licenses interface {
	IsValid(ctx context.Context, subscriberID string) (bool, error)
}

// PermissionService выдаёт и отзывает права участников.
type PermissionService struct {
	repo     PermissionRepository
	licenses Licenses
	cache    Cache
	ttl      time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewPermissionService создает новый экземпляр PermissionService.
func NewPermissionService(repo PermissionRepository, licenses Licenses, cache Cache, ttl time.Duration,
	log *slog.Logger, m *metrics.Metrics) *PermissionService {
	return &PermissionService{
		repo:     repo,
		licenses: licenses,
		cache:    cache,
		ttl:      ttl,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *PermissionService) WithClock(now func() time.Time) *PermissionService {
	s.now = now
	return s
}

// Vocabulary возвращает словарь прав.
func (s *PermissionService) Vocabulary() []models.PermissionInfo {
	return models.Vocabulary()
}

// Grant выдаёт одно право.
func (s *PermissionService) Grant(ctx context.Context, subscriberID, recordID, perm string) error {
	if !models.IsKnownPermission(perm) {
		return apperr.UnknownPermission(perm)
	}
	err := s.repo.GrantPermission(ctx, subscriberID, recordID, perm, s.now().UTC())
	s.metrics.PermissionWrite("grant", err)
	if err != nil {
		return err
	}
	s.invalidate(ctx, subscriberID, recordID)
	return nil
}

// Revoke отзывает одно право. Отзыв невыданного права не является ошибкой.
func (s *PermissionService) Revoke(ctx context.Context, subscriberID, recordID, perm string) error {
	if !models.IsKnownPermission(perm) {
		return apperr.UnknownPermission(perm)
	}
	err := s.repo.RevokePermission(ctx, subscriberID, recordID, perm, s.now().UTC())
	s.metrics.PermissionWrite("revoke", err)
	if err != nil {
		return err
	}
	s.invalidate(ctx, subscriberID, recordID)
	return nil
}

// BatchSet заменяет весь набор прав участника. Если хотя бы один ключ
// неизвестен, ничего не меняется.
func (s *PermissionService) BatchSet(ctx context.Context, subscriberID, recordID string, perms []string) ([]string, error) {
	normalized, err := models.NormalizePermissions(perms)
	if err != nil {
		return nil, err
	}
	err = s.repo.ReplacePermissions(ctx, subscriberID, recordID, normalized, s.now().UTC())
	s.metrics.PermissionWrite("batch", err)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, subscriberID, recordID)
	s.log.Info("permissions replaced",
		slog.String("subscriber_id", subscriberID),
		slog.String("record_id", recordID),
		slog.Int("count", len(normalized)),
	)
	return normalized, nil
}

// GetForMember возвращает отсортированный набор прав участника.
func (s *PermissionService) GetForMember(ctx context.Context, subscriberID, recordID string) ([]string, error) {
	key := cache.MemberPermissionsKey(subscriberID, recordID)
	var perms []string
	if s.cacheGet(ctx, key, &perms) {
		return perms, nil
	}
	perms, err := s.repo.ListMemberPermissions(ctx, subscriberID, recordID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, perms)
	return perms, nil
}

// GetForAllMembers возвращает права всех активных участников подписчика.
func (s *PermissionService) GetForAllMembers(ctx context.Context, subscriberID string) ([]models.MemberPermissions, error) {
	key := cache.AllMembersPermissionsKey(subscriberID)
	var all []models.MemberPermissions
	if s.cacheGet(ctx, key, &all) {
		return all, nil
	}
	all, err := s.repo.ListAllMemberPermissions(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, all)
	return all, nil
}

// Has проверяет наличие права у участника. Отсутствующий участник и
// участник подписчика без действующей лицензии прав не имеют.
func (s *PermissionService) Has(ctx context.Context, subscriberID, recordID, perm string) (bool, error) {
	if !models.IsKnownPermission(perm) {
		return false, apperr.UnknownPermission(perm)
	}
	valid, err := s.licenses.IsValid(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	if !valid {
		return false, nil
	}
	perms, err := s.GetForMember(ctx, subscriberID, recordID)
	if errors.Is(err, apperr.ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(perms, perm)
	return found, nil
}

func (s *PermissionService) cacheGet(ctx context.Context, key string, result any) bool {
	found, err := s.cache.Get(ctx, key, result)
	if err != nil {
		s.log.Warn("cache read failed", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("get")
		return false
	}
	return found
}

func (s *PermissionService) cacheSet(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.log.Warn("cache write failed", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("set")
	}
}

func (s *PermissionService) invalidate(ctx context.Context, subscriberID, recordID string) {
	keys := []string{
		cache.MemberPermissionsKey(subscriberID, recordID),
		cache.AllMembersPermissionsKey(subscriberID),
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", slog.Any("keys", keys), sl.Err(err))
		s.metrics.CacheError("invalidate")
	}
}
