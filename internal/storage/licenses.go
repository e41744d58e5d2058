package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

const licenseColumns = `id, user_id, max_members, current_members, status, start_date, end_date,
	trial_end_date, created_at, updated_at`

// scanLicense читает колонки licenseColumns, за которыми в строке могут
// идти дополнительные поля extra.
func scanLicense(row scanner, extra ...any) (*models.License, error) {
	var (
		l                           models.License
		startDate, endDate, trialAt sql.NullTime
	)
	dest := append([]any{&l.ID, &l.SubscriberID, &l.MaxMembers, &l.CurrentMembers, &l.Status,
		&startDate, &endDate, &trialAt, &l.CreatedAt, &l.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	l.StartDate = timePtr(startDate)
	l.EndDate = timePtr(endDate)
	l.TrialEndDate = timePtr(trialAt)
	return &l, nil
}

// lockLicense читает лицензию с блокировкой строки до конца транзакции.
func lockLicense(ctx context.Context, q querier, op, subscriberID, mode string) (*models.License, error) {
	lic, err := scanLicense(q.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM user_licenses WHERE user_id = $1 FOR `+mode, subscriberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrLicenseNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return lic, nil
}

func saveSeats(ctx context.Context, q querier, op string, lic *models.License) error {
	_, err := q.ExecContext(ctx, `UPDATE user_licenses SET current_members = $2, updated_at = $3 WHERE id = $1`,
		lic.ID, lic.CurrentMembers, lic.UpdatedAt)
	if isCheckViolation(err) {
		return apperr.ErrSeatLimitReached
	}
	if err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

func countActiveMembers(ctx context.Context, q querier, op, subscriberID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_members WHERE user_id = $1 AND status = 'active'`,
		subscriberID).Scan(&n); err != nil {
		return 0, apperr.Storage(op, err)
	}
	return n, nil
}

// releaseSeat уменьшает счётчик мест. Если счётчик уже разошёлся со
// списком участников, он пересчитывается по активным записям.
func releaseSeat(ctx context.Context, q querier, op string, lic *models.License, now time.Time) error {
	if err := lic.AdjustSeats(-1, now); err != nil {
		if !errors.Is(err, apperr.ErrNoSeatsInUse) {
			return err
		}
		n, err := countActiveMembers(ctx, q, op, lic.SubscriberID)
		if err != nil {
			return err
		}
		lic.CurrentMembers = n
		lic.UpdatedAt = now
	}
	return saveSeats(ctx, q, op, lic)
}

func upsertLicense(ctx context.Context, q querier, op string, lic *models.License) (*models.License, error) {
	saved, err := scanLicense(q.QueryRowContext(ctx, `INSERT INTO user_licenses
		(id, user_id, max_members, current_members, status, start_date, end_date, trial_end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			max_members = EXCLUDED.max_members,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			trial_end_date = EXCLUDED.trial_end_date,
			updated_at = EXCLUDED.updated_at
		RETURNING `+licenseColumns,
		lic.ID, lic.SubscriberID, lic.MaxMembers, lic.CurrentMembers, lic.Status,
		lic.StartDate, lic.EndDate, lic.TrialEndDate, lic.CreatedAt, lic.UpdatedAt))
	if isCheckViolation(err) {
		return nil, apperr.ErrSeatLimitReached
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return saved, nil
}

// GetLicense возвращает лицензию подписчика или ErrLicenseNotFound.
func (s *Storage) GetLicense(ctx context.Context, subscriberID string) (*models.License, error) {
	const op = "storage.GetLicense"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	lic, err := scanLicense(s.DB.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM user_licenses WHERE user_id = $1`, subscriberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrLicenseNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return lic, nil
}

// UpsertLicense создаёт лицензию или заменяет окно и максимум существующей.
// Счётчик занятых мест существующей лицензии не меняется.
func (s *Storage) UpsertLicense(ctx context.Context, lic *models.License) (*models.License, error) {
	const op = "storage.UpsertLicense"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	return upsertLicense(ctx, s.DB, op, lic)
}

// AdjustSeats атомарно изменяет счётчик мест на delta в пределах
// 0 ≤ current ≤ max.
func (s *Storage) AdjustSeats(ctx context.Context, subscriberID string, delta int, now time.Time) (*models.License, error) {
	const op = "storage.AdjustSeats"
	var lic *models.License
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		if lic, err = lockLicense(ctx, tx, op, subscriberID, "UPDATE"); err != nil {
			return err
		}
		if err = lic.AdjustSeats(delta, now); err != nil {
			return err
		}
		return saveSeats(ctx, tx, op, lic)
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

// ReconcileSeats пересчитывает счётчик мест по активным записям состава.
func (s *Storage) ReconcileSeats(ctx context.Context, subscriberID string, now time.Time) (*models.License, error) {
	const op = "storage.ReconcileSeats"
	var lic *models.License
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		if lic, err = lockLicense(ctx, tx, op, subscriberID, "UPDATE"); err != nil {
			return err
		}
		n, err := countActiveMembers(ctx, tx, op, subscriberID)
		if err != nil {
			return err
		}
		if n > lic.MaxMembers {
			return apperr.ErrSeatLimitReached
		}
		lic.CurrentMembers = n
		lic.UpdatedAt = now
		return saveSeats(ctx, tx, op, lic)
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

// ListLicensesExpiring возвращает лицензии, действующее окно которых
// заканчивается в интервале [from, to), вместе с почтой владельца.
// Владельцы без почты и неактивные учётные записи пропускаются.
func (s *Storage) ListLicensesExpiring(ctx context.Context, from, to time.Time) ([]models.ExpiringLicense, error) {
	const op = "storage.ListLicensesExpiring"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+licenseColumns+`, email, username FROM (
		SELECT l.*, u.email, u.username,
			CASE WHEN l.status = 'trial' THEN l.trial_end_date ELSE l.end_date END AS expires_at
		FROM user_licenses l
		JOIN users u ON u.id = l.user_id
		WHERE l.status IN ('trial', 'active') AND u.state = 'active' AND u.email IS NOT NULL
	) AS e
	WHERE expires_at >= $1 AND expires_at < $2
	ORDER BY expires_at`, from, to)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var out []models.ExpiringLicense
	for rows.Next() {
		var item models.ExpiringLicense
		lic, err := scanLicense(rows, &item.Email, &item.Username)
		if err != nil {
			return nil, apperr.Storage(op, err)
		}
		item.License = *lic
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}
