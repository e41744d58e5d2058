package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

const memberColumns = `id, user_id, member_id, email, status, joined_at, removed_at, created_at`

func scanMember(row scanner) (*models.MemberRecord, error) {
	var (
		m         models.MemberRecord
		memberID  sql.NullString
		removedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.SubscriberID, &memberID, &m.Email, &m.Status,
		&m.JoinedAt, &removedAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.MemberID = stringPtr(memberID)
	m.RemovedAt = timePtr(removedAt)
	return &m, nil
}

func scanMembers(rows *sql.Rows) ([]models.MemberRecord, error) {
	var result []models.MemberRecord
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

func deleteMemberPermissions(ctx context.Context, q querier, op, subscriberID, recordID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM permissions WHERE user_id = $1 AND member_id = $2`,
		subscriberID, recordID); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// AddMember добавляет запись в состав подписчика и занимает место лицензии
// в одной транзакции. Лицензия блокируется первой.
func (s *Storage) AddMember(ctx context.Context, rec *models.MemberRecord, now time.Time) (*models.License, error) {
	const op = "storage.AddMember"
	var lic *models.License
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		lic, err = lockLicense(ctx, tx, op, rec.SubscriberID, "UPDATE")
		if errors.Is(err, apperr.ErrLicenseNotFound) {
			return apperr.ErrLicenseExpired
		}
		if err != nil {
			return err
		}
		if err = lic.CanOccupySeat(now); err != nil {
			return err
		}

		var taken bool
		if err = tx.QueryRowContext(ctx, `SELECT EXISTS (
			SELECT 1 FROM user_members
			WHERE status = 'active' AND (lower(email) = lower($1) OR ($2::uuid IS NOT NULL AND member_id = $2::uuid))
		)`, rec.Email, rec.MemberID).Scan(&taken); err != nil {
			return apperr.Storage(op, err)
		}
		if taken {
			return apperr.ErrAlreadyInOtherRoster
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO user_members
			(id, user_id, member_id, email, status, joined_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, rec.SubscriberID, rec.MemberID, rec.Email, models.MemberActive, now, now)
		if isUniqueViolation(err) {
			return apperr.ErrAlreadyInOtherRoster
		}
		if err != nil {
			return apperr.Storage(op, err)
		}

		if err = lic.AdjustSeats(1, now); err != nil {
			return err
		}
		return saveSeats(ctx, tx, op, lic)
	})
	if err != nil {
		return nil, err
	}
	rec.Status = models.MemberActive
	rec.JoinedAt = now
	rec.CreatedAt = now
	return lic, nil
}

// RemoveMember исключает запись из состава подписчика, снимает её права
// и освобождает место.
func (s *Storage) RemoveMember(ctx context.Context, subscriberID, recordID string, now time.Time) (*models.MemberRecord, *models.License, error) {
	const op = "storage.RemoveMember"
	var (
		rec *models.MemberRecord
		lic *models.License
	)
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		lic, err = lockLicense(ctx, tx, op, subscriberID, "UPDATE")
		if errors.Is(err, apperr.ErrLicenseNotFound) {
			return apperr.ErrMemberNotFound
		}
		if err != nil {
			return err
		}
		if !lic.IsValid(now) {
			return apperr.ErrLicenseExpired
		}

		rec, err = scanMember(tx.QueryRowContext(ctx, `UPDATE user_members
			SET status = 'removed', removed_at = $3
			WHERE id = $1 AND user_id = $2 AND status = 'active'
			RETURNING `+memberColumns, recordID, subscriberID, now))
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrMemberNotFound
		}
		if err != nil {
			return apperr.Storage(op, err)
		}
		if err = deleteMemberPermissions(ctx, tx, op, subscriberID, rec.ID); err != nil {
			return err
		}
		return releaseSeat(ctx, tx, op, lic, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, lic, nil
}

// LeaveRoster выводит пользователя из состава, в котором он состоит.
// Из двух одновременных вызовов успешен ровно один.
func (s *Storage) LeaveRoster(ctx context.Context, memberUserID string, now time.Time) (*models.MemberRecord, *models.License, error) {
	const op = "storage.LeaveRoster"
	var (
		rec *models.MemberRecord
		lic *models.License
	)
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var subscriberID, recordID string
		err := tx.QueryRowContext(ctx, `SELECT id, user_id FROM user_members
			WHERE member_id = $1 AND status = 'active'`, memberUserID).Scan(&recordID, &subscriberID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotInRoster
		}
		if err != nil {
			return apperr.Storage(op, err)
		}

		lic, err = lockLicense(ctx, tx, op, subscriberID, "UPDATE")
		if errors.Is(err, apperr.ErrLicenseNotFound) {
			lic = nil
		} else if err != nil {
			return err
		}

		rec, err = scanMember(tx.QueryRowContext(ctx, `UPDATE user_members
			SET status = 'removed', removed_at = $2
			WHERE id = $1 AND status = 'active'
			RETURNING `+memberColumns, recordID, now))
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotInRoster
		}
		if err != nil {
			return apperr.Storage(op, err)
		}
		if err = deleteMemberPermissions(ctx, tx, op, subscriberID, rec.ID); err != nil {
			return err
		}
		if lic == nil {
			return nil
		}
		return releaseSeat(ctx, tx, op, lic, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, lic, nil
}

// ListMembers возвращает активный состав подписчика в порядке добавления.
func (s *Storage) ListMembers(ctx context.Context, subscriberID string) ([]models.MemberRecord, error) {
	const op = "storage.ListMembers"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+memberColumns+` FROM user_members
		WHERE user_id = $1 AND status = 'active'
		ORDER BY joined_at, id`, subscriberID)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	members, err := scanMembers(rows)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return members, nil
}

// GetActiveMember возвращает активную запись состава по её идентификатору.
func (s *Storage) GetActiveMember(ctx context.Context, subscriberID, recordID string) (*models.MemberRecord, error) {
	const op = "storage.GetActiveMember"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	m, err := scanMember(s.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM user_members
		WHERE id = $1 AND user_id = $2 AND status = 'active'`, recordID, subscriberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrMemberNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return m, nil
}

// MembershipOf возвращает активную запись, в которой состоит пользователь.
func (s *Storage) MembershipOf(ctx context.Context, userID string) (*models.MemberRecord, error) {
	const op = "storage.MembershipOf"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	m, err := scanMember(s.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM user_members
		WHERE member_id = $1 AND status = 'active'`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotInRoster
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return m, nil
}

// IsInAnyRoster сообщает, состоит ли пользователь в активном составе
// какого-либо подписчика.
func (s *Storage) IsInAnyRoster(ctx context.Context, userID string) (bool, error) {
	const op = "storage.IsInAnyRoster"
	if err := checkContext(ctx, op); err != nil {
		return false, err
	}
	var ok bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM user_members WHERE member_id = $1 AND status = 'active'
	)`, userID).Scan(&ok); err != nil {
		return false, apperr.Storage(op, err)
	}
	return ok, nil
}

// LinkPendingMemberships привязывает записи, добавленные по почте до
// регистрации, к созданному пользователю.
func (s *Storage) LinkPendingMemberships(ctx context.Context, email, userID string) (int64, error) {
	const op = "storage.LinkPendingMemberships"
	if err := checkContext(ctx, op); err != nil {
		return 0, err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE user_members SET member_id = $2
		WHERE lower(email) = lower($1) AND status = 'active' AND member_id IS NULL`, email, userID)
	if err != nil {
		return 0, apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Storage(op, err)
	}
	return n, nil
}
