package models

import (
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
)

// LicenseStatus статус лицензии в хранилище.
type LicenseStatus string

const (
	LicenseTrial   LicenseStatus = "trial"
	LicenseActive  LicenseStatus = "active"
	LicenseExpired LicenseStatus = "expired"
)

// Duration срок, на который выдаётся или продлевается лицензия.
type Duration string

const (
	DurationMonth   Duration = "month"
	DurationQuarter Duration = "quarter"
	DurationYear    Duration = "year"
)

// ParseDuration проверяет срок лицензии.
func ParseDuration(s string) (Duration, error) {
	switch d := Duration(s); d {
	case DurationMonth, DurationQuarter, DurationYear:
		return d, nil
	default:
		return "", apperr.Validation("duration must be one of month, quarter, year")
	}
}

// Months количество месяцев в сроке.
func (d Duration) Months() int {
	switch d {
	case DurationQuarter:
		return 3
	case DurationYear:
		return 12
	default:
		return 1
	}
}

// From возвращает момент окончания срока, начинающегося в t.
func (d Duration) From(t time.Time) time.Time {
	return t.AddDate(0, d.Months(), 0)
}

// License лицензия подписчика на места участников.
type License struct {
	ID             string        `json:"id"`
	SubscriberID   string        `json:"subscriber_id"`
	MaxMembers     int           `json:"max_members"`
	CurrentMembers int           `json:"current_members"`
	Status         LicenseStatus `json:"status"`
	StartDate      *time.Time    `json:"start_date,omitempty"`
	EndDate        *time.Time    `json:"end_date,omitempty"`
	TrialEndDate   *time.Time    `json:"trial_end_date,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsValid вычисляет действительность лицензии на момент now. Хранимый
// статус не обновляется: истечение определяется только по датам.
func (l *License) IsValid(now time.Time) bool {
	if l == nil {
		return false
	}
	switch l.Status {
	case LicenseTrial:
		return l.TrialEndDate != nil && !now.After(*l.TrialEndDate)
	case LicenseActive:
		return l.EndDate != nil && !now.After(*l.EndDate)
	default:
		return false
	}
}

// ExpiresAt дата окончания текущего окна: для пробной лицензии конец
// пробного периода, для оплаченной конец срока.
func (l *License) ExpiresAt() *time.Time {
	if l.Status == LicenseTrial {
		return l.TrialEndDate
	}
	return l.EndDate
}

// ExpiringLicense лицензия, срок которой скоро закончится, вместе с
// контактом владельца.
type ExpiringLicense struct {
	License  License
	Email    string
	Username string
}

// EffectiveStatus статус с учётом текущего времени.
func (l *License) EffectiveStatus(now time.Time) LicenseStatus {
	if l.IsValid(now) {
		return l.Status
	}
	return LicenseExpired
}

// AvailableSeats количество свободных мест.
func (l *License) AvailableSeats() int {
	return l.MaxMembers - l.CurrentMembers
}

// CanOccupySeat проверяет предусловия занятия места: лицензия действительна
// и есть свободное место.
func (l *License) CanOccupySeat(now time.Time) error {
	if !l.IsValid(now) {
		return apperr.ErrLicenseExpired
	}
	if l.CurrentMembers >= l.MaxMembers {
		return apperr.ErrSeatLimitReached
	}
	return nil
}

// AdjustSeats изменяет счётчик мест на delta без выхода за границы
// 0 ≤ current ≤ max. Увеличение требует действительной лицензии.
func (l *License) AdjustSeats(delta int, now time.Time) error {
	next := l.CurrentMembers + delta
	switch {
	case delta > 0 && !l.IsValid(now):
		return apperr.ErrLicenseExpired
	case next > l.MaxMembers:
		return apperr.ErrSeatLimitReached
	case next < 0:
		return apperr.ErrNoSeatsInUse
	}
	l.CurrentMembers = next
	l.UpdatedAt = now
	return nil
}
