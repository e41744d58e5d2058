// Package services содержит планировщик напоминаний об окончании лицензий.
package services

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

const dateLayout = "02.01.2006"

// LicenseRepository источник лицензий с приближающимся окончанием.
type LicenseRepository interface {
	ListLicensesExpiring(ctx context.Context, from, to time.Time) ([]models.ExpiringLicense, error)
}

// Publisher публикует сообщение в очередь уведомлений.
type Publisher interface {
	Publish(message any) error
}

// SchedulerService периодически ищет лицензии, которые закончатся через
// lead, и публикует владельцам напоминания.
//
// Окна соседних проходов не пересекаются: проход в момент now покрывает
// [now+lead, now+lead+interval), поэтому одна лицензия попадает в выборку
// один раз.
type SchedulerService struct {
	repo      LicenseRepository
	publisher Publisher
	interval  time.Duration
	lead      time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(repo LicenseRepository, publisher Publisher, interval, lead time.Duration,
	log *slog.Logger, m *metrics.Metrics) *SchedulerService {
	return &SchedulerService{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		lead:      lead,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *SchedulerService) WithClock(now func() time.Time) *SchedulerService {
	s.now = now
	return s
}

// Run выполняет проход сразу и затем раз в interval до отмены ctx.
func (s *SchedulerService) Run(ctx context.Context) {
	s.RunOnce(ctx, s.now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, s.now())
		}
	}
}

// RunOnce публикует напоминания для окна, соответствующего моменту now,
// и возвращает число опубликованных сообщений.
func (s *SchedulerService) RunOnce(ctx context.Context, now time.Time) int {
	from := now.Add(s.lead)
	to := from.Add(s.interval)
	log := s.log.With(slog.Time("from", from), slog.Time("to", to))

	log.Info("starting search for expiring licenses")
	expiring, err := s.repo.ListLicensesExpiring(ctx, from, to)
	if err != nil {
		log.Error("failed to find expiring licenses", sl.Err(err))
		return 0
	}
	if len(expiring) == 0 {
		log.Info("no expiring licenses found")
		return 0
	}
	log.Info("found expiring licenses", slog.Int("count", len(expiring)))

	published := 0
	for _, item := range expiring {
		err := s.publisher.Publish(reminder(item))
		s.metrics.Notification(string(models.TemplateLicenseExpiring), err)
		if err != nil {
			log.Error("failed to publish reminder",
				slog.String("subscriber_id", item.License.SubscriberID), sl.Err(err))
			continue
		}
		published++
	}
	return published
}

func reminder(item models.ExpiringLicense) models.Notification {
	params := map[string]string{
		"username": item.Username,
		"members":  strconv.Itoa(item.License.MaxMembers),
		"status":   string(item.License.Status),
	}
	if exp := item.License.ExpiresAt(); exp != nil {
		params["expires_at"] = exp.UTC().Format(dateLayout)
	}
	return models.Notification{
		To:       item.Email,
		Template: models.TemplateLicenseExpiring,
		Params:   params,
	}
}
