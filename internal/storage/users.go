package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

const userColumns = `id, username, email, password_hash, full_name, role, state, timezone, google_id,
	deleted_reason, deleted_at, deleted_email, last_login, created_at`

func scanUser(row scanner) (*models.User, error) {
	var (
		u                             models.User
		email, passwordHash, googleID sql.NullString
		deletedReason, deletedEmail   sql.NullString
		deletedAt, lastLogin          sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &email, &passwordHash, &u.FullName, &u.Role, &u.State,
		&u.Timezone, &googleID, &deletedReason, &deletedAt, &deletedEmail, &lastLogin, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Email = stringOrEmpty(email)
	u.PasswordHash = stringOrEmpty(passwordHash)
	u.GoogleID = stringOrEmpty(googleID)
	u.LastLogin = timePtr(lastLogin)
	if u.State == models.UserDeactivated {
		u.Deactivation = &models.Deactivation{
			Reason:      stringOrEmpty(deletedReason),
			FormerEmail: stringOrEmpty(deletedEmail),
		}
		if deletedAt.Valid {
			u.Deactivation.At = deletedAt.Time
		}
	}
	return &u, nil
}

func (s *Storage) getUser(ctx context.Context, op, where string, arg any) (*models.User, error) {
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	u, err := scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return u, nil
}

// CreateUser сохраняет нового пользователя. Занятый email даёт ErrEmailTaken.
func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	const op = "storage.CreateUser"
	if err := checkContext(ctx, op); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users
		(id, username, email, password_hash, full_name, role, state, timezone, google_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		u.ID, u.Username, models.NormalizeEmail(u.Email), nullString(u.PasswordHash), u.FullName,
		u.Role, u.State, u.Timezone, nullString(u.GoogleID), u.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.ErrEmailTaken
	}
	if err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// GetUserByID возвращает пользователя в любом состоянии.
func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "storage.GetUserByID", `id = $1`, id)
}

// GetUserByEmail возвращает не удалённого пользователя по email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "storage.GetUserByEmail", `lower(email) = $1`, models.NormalizeEmail(email))
}

// GetDeactivatedUserByGoogleID ищет удалённую учётную запись по внешнему идентификатору.
func (s *Storage) GetDeactivatedUserByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	return s.getUser(ctx, "storage.GetDeactivatedUserByGoogleID",
		`google_id = $1 AND state = 'deactivated' ORDER BY deleted_at DESC NULLS LAST LIMIT 1`, googleID)
}

func (s *Storage) execUser(ctx context.Context, op, query string, args ...any) error {
	if err := checkContext(ctx, op); err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return apperr.ErrEmailTaken
	}
	if err != nil {
		return apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin фиксирует время последнего входа.
func (s *Storage) UpdateLastLogin(ctx context.Context, id string, now time.Time) error {
	return s.execUser(ctx, "storage.UpdateLastLogin",
		`UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`, id, now)
}

// SetGoogleID связывает пользователя с учётной записью Google.
func (s *Storage) SetGoogleID(ctx context.Context, id, googleID string, now time.Time) error {
	return s.execUser(ctx, "storage.SetGoogleID",
		`UPDATE users SET google_id = $2, updated_at = $3 WHERE id = $1`, id, googleID, now)
}

// ReactivateUser возвращает удалённую учётную запись в активное состояние
// с новым email.
func (s *Storage) ReactivateUser(ctx context.Context, id, email string, now time.Time) error {
	return s.execUser(ctx, "storage.ReactivateUser", `UPDATE users
		SET state = 'active', email = $2, deleted_reason = NULL, deleted_at = NULL,
		    deleted_email = NULL, updated_at = $3
		WHERE id = $1 AND state = 'deactivated'`, id, models.NormalizeEmail(email), now)
}

// DeactivateUser переводит пользователя в состояние deactivated: email
// переносится в deleted_email и обнуляется.
func (s *Storage) DeactivateUser(ctx context.Context, id, reason string, now time.Time) (*models.User, error) {
	const op = "storage.DeactivateUser"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	u, err := scanUser(s.DB.QueryRowContext(ctx, `UPDATE users
		SET state = 'deactivated', deleted_email = email, email = NULL,
		    deleted_reason = $2, deleted_at = $3, updated_at = $3
		WHERE id = $1 AND state <> 'deactivated'
		RETURNING `+userColumns, id, reason, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return u, nil
}

// SetUserState включает или блокирует не удалённого пользователя.
func (s *Storage) SetUserState(ctx context.Context, id string, state models.UserState, now time.Time) error {
	return s.execUser(ctx, "storage.SetUserState", `UPDATE users SET state = $2, updated_at = $3
		WHERE id = $1 AND state <> 'deactivated'`, id, state, now)
}

// UpdateUserRole меняет роль пользователя.
func (s *Storage) UpdateUserRole(ctx context.Context, id string, role models.Role, now time.Time) error {
	return s.execUser(ctx, "storage.UpdateUserRole",
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, id, role, now)
}

// ListUsers постраничный поиск по email и имени.
func (s *Storage) ListUsers(ctx context.Context, search string, page, limit int) ([]models.User, int, error) {
	const op = "storage.ListUsers"
	if err := checkContext(ctx, op); err != nil {
		return nil, 0, err
	}
	pattern := "%" + search + "%"
	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users
		WHERE $1 = '%%' OR email ILIKE $1 OR username ILIKE $1`, pattern).Scan(&total); err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE $1 = '%%' OR email ILIKE $1 OR username ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, pattern, limit, offset(page, limit))
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, apperr.Storage(op, err)
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	return result, total, nil
}

// CreateResetCode сохраняет хеш кода сброса пароля.
func (s *Storage) CreateResetCode(ctx context.Context, id, userID, codeHash string, expiresAt, now time.Time) error {
	const op = "storage.CreateResetCode"
	if err := checkContext(ctx, op); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO password_reset_codes
		(id, user_id, code_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, userID, codeHash, expiresAt, now); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// ResetPassword в одной транзакции погашает код и меняет хеш пароля.
func (s *Storage) ResetPassword(ctx context.Context, userID, codeHash, passwordHash string, now time.Time) error {
	const op = "storage.ResetPassword"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		var codeID string
		err := tx.QueryRowContext(ctx, `UPDATE password_reset_codes SET used_at = $3
			WHERE id = (
				SELECT id FROM password_reset_codes
				WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL AND expires_at > $3
				ORDER BY created_at DESC
				LIMIT 1
				FOR UPDATE
			)
			RETURNING id`, userID, codeHash, now).Scan(&codeID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrResetCodeInvalid
		}
		if err != nil {
			return apperr.Storage(op, err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = $3
			WHERE id = $1 AND state = 'active'`, userID, passwordHash, now)
		if err != nil {
			return apperr.Storage(op, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return apperr.Storage(op, err)
		} else if n == 0 {
			return apperr.ErrAccountDisabled
		}
		return nil
	})
}

// UpdateProfile меняет отображаемое имя и часовой пояс не удалённого пользователя.
func (s *Storage) UpdateProfile(ctx context.Context, id, fullName, timezone string, now time.Time) (*models.User, error) {
	const op = "storage.UpdateProfile"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	u, err := scanUser(s.DB.QueryRowContext(ctx, `UPDATE users
		SET full_name = $2, timezone = $3, updated_at = $4
		WHERE id = $1 AND state <> 'deactivated'
		RETURNING `+userColumns, id, fullName, timezone, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return u, nil
}

// UserStats считает пользователей по состоянию и роли. Новые и недавно
// входившие считаются начиная с since.
func (s *Storage) UserStats(ctx context.Context, since time.Time) (*models.UserStats, error) {
	const op = "storage.UserStats"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT state, role, COUNT(*),
		COUNT(*) FILTER (WHERE created_at >= $1),
		COUNT(*) FILTER (WHERE last_login >= $1)
		FROM users
		GROUP BY state, role`, since)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	stats := &models.UserStats{
		ByState: make(map[models.UserState]int),
		ByRole:  make(map[models.Role]int),
	}
	for rows.Next() {
		var (
			state                 models.UserState
			role                  models.Role
			count, fresh, visited int
		)
		if err := rows.Scan(&state, &role, &count, &fresh, &visited); err != nil {
			return nil, apperr.Storage(op, err)
		}
		stats.Total += count
		stats.ByState[state] += count
		stats.ByRole[role] += count
		stats.NewSince += fresh
		stats.ActiveSince += visited
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return stats, nil
}
