package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/ids"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// lockWritableMember проверяет, что права участника можно менять: лицензия
// действует, а запись активна и принадлежит подписчику. Обе строки
// остаются заблокированными до конца транзакции.
func lockWritableMember(ctx context.Context, tx *sql.Tx, op, subscriberID, recordID string, now time.Time) error {
	lic, err := lockLicense(ctx, tx, op, subscriberID, "SHARE")
	if errors.Is(err, apperr.ErrLicenseNotFound) {
		return apperr.ErrLicenseExpired
	}
	if err != nil {
		return err
	}
	if !lic.IsValid(now) {
		return apperr.ErrLicenseExpired
	}

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM user_members
		WHERE id = $1 AND user_id = $2 AND status = 'active' FOR SHARE`, recordID, subscriberID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrMemberNotFound
	}
	if err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

func insertPermission(ctx context.Context, tx *sql.Tx, op, subscriberID, recordID, perm string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO permissions (id, user_id, member_id, permission, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, member_id, permission) DO NOTHING`,
		ids.New(), subscriberID, recordID, perm, now); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// ReplacePermissions заменяет набор прав участника целиком. Ключи должны
// быть уже проверены по словарю.
func (s *Storage) ReplacePermissions(ctx context.Context, subscriberID, recordID string, perms []string, now time.Time) error {
	const op = "storage.ReplacePermissions"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		if err := lockWritableMember(ctx, tx, op, subscriberID, recordID, now); err != nil {
			return err
		}
		if err := deleteMemberPermissions(ctx, tx, op, subscriberID, recordID); err != nil {
			return err
		}
		for _, p := range perms {
			if err := insertPermission(ctx, tx, op, subscriberID, recordID, p, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// GrantPermission выдаёт одно право. Повторная выдача ничего не меняет.
func (s *Storage) GrantPermission(ctx context.Context, subscriberID, recordID, perm string, now time.Time) error {
	const op = "storage.GrantPermission"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		if err := lockWritableMember(ctx, tx, op, subscriberID, recordID, now); err != nil {
			return err
		}
		return insertPermission(ctx, tx, op, subscriberID, recordID, perm, now)
	})
}

// RevokePermission отзывает одно право. Отзыв отсутствующего права не ошибка.
func (s *Storage) RevokePermission(ctx context.Context, subscriberID, recordID, perm string, now time.Time) error {
	const op = "storage.RevokePermission"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		if err := lockWritableMember(ctx, tx, op, subscriberID, recordID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM permissions
			WHERE user_id = $1 AND member_id = $2 AND permission = $3`,
			subscriberID, recordID, perm); err != nil {
			return apperr.Storage(op, err)
		}
		return nil
	})
}

// ListMemberPermissions возвращает отсортированные права активного участника.
func (s *Storage) ListMemberPermissions(ctx context.Context, subscriberID, recordID string) ([]string, error) {
	const op = "storage.ListMemberPermissions"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	var active bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM user_members WHERE id = $1 AND user_id = $2 AND status = 'active'
	)`, recordID, subscriberID).Scan(&active); err != nil {
		return nil, apperr.Storage(op, err)
	}
	if !active {
		return nil, apperr.ErrMemberNotFound
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT permission FROM permissions
		WHERE user_id = $1 AND member_id = $2
		ORDER BY permission`, subscriberID, recordID)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperr.Storage(op, err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return perms, nil
}

// ListAllMemberPermissions возвращает права всех активных участников
// подписчика, включая участников без прав.
func (s *Storage) ListAllMemberPermissions(ctx context.Context, subscriberID string) ([]models.MemberPermissions, error) {
	const op = "storage.ListAllMemberPermissions"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT m.id, m.email, p.permission
		FROM user_members m
		LEFT JOIN permissions p ON p.member_id = m.id AND p.user_id = m.user_id
		WHERE m.user_id = $1 AND m.status = 'active'
		ORDER BY m.joined_at, m.id, p.permission`, subscriberID)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := []models.MemberPermissions{}
	for rows.Next() {
		var (
			id, email string
			perm      sql.NullString
		)
		if err := rows.Scan(&id, &email, &perm); err != nil {
			return nil, apperr.Storage(op, err)
		}
		if n := len(result); n == 0 || result[n-1].MemberID != id {
			result = append(result, models.MemberPermissions{MemberID: id, Email: email, Permissions: []string{}})
		}
		if perm.Valid {
			last := &result[len(result)-1]
			last.Permissions = append(last.Permissions, perm.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return result, nil
}
