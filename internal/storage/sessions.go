package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

const sessionColumns = `id, user_id, platform, device_info, ip_address, token, refresh_token,
	expires_at, refresh_token_expires_at, is_active, timezone, last_active, created_at`

func scanSession(row scanner) (*models.Session, error) {
	var sess models.Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Platform, &sess.DeviceInfo, &sess.IPAddress,
		&sess.AccessToken, &sess.RefreshToken, &sess.ExpiresAt, &sess.RefreshExpiresAt,
		&sess.IsActive, &sess.Timezone, &sess.LastActive, &sess.CreatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]models.Session, error) {
	var result []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sess)
	}
	return result, rows.Err()
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateSession в одной транзакции деактивирует активные сессии пользователя
// на той же платформе и сохраняет новую. Строка пользователя блокируется,
// поэтому параллельные входы на одной платформе выполняются по очереди.
// Возвращает идентификаторы деактивированных сессий.
func (s *Storage) CreateSession(ctx context.Context, sess *models.Session) ([]string, error) {
	const op = "storage.CreateSession"
	var invalidated []string

	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var state models.UserState
		err := tx.QueryRowContext(ctx, `SELECT state FROM users WHERE id = $1 FOR UPDATE`, sess.UserID).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrUserNotFound
		}
		if err != nil {
			return apperr.Storage(op, err)
		}
		if state != models.UserActive {
			return apperr.ErrAccountDisabled
		}

		rows, err := tx.QueryContext(ctx, `UPDATE user_sessions
			SET is_active = FALSE, last_active = $3
			WHERE user_id = $1 AND platform = $2 AND is_active
			RETURNING id`, sess.UserID, sess.Platform, sess.CreatedAt)
		if err != nil {
			return apperr.Storage(op, err)
		}
		invalidated, err = collectIDs(rows)
		_ = rows.Close()
		if err != nil {
			return apperr.Storage(op, err)
		}

		if _, err = tx.ExecContext(ctx, `INSERT INTO user_sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			sess.ID, sess.UserID, sess.Platform, sess.DeviceInfo, sess.IPAddress,
			sess.AccessToken, sess.RefreshToken, sess.ExpiresAt, sess.RefreshExpiresAt,
			sess.IsActive, sess.Timezone, sess.LastActive, sess.CreatedAt); err != nil {
			return apperr.Storage(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invalidated, nil
}

// GetSession возвращает сессию по идентификатору независимо от активности.
func (s *Storage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "storage.GetSession"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	sess, err := scanSession(s.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return sess, nil
}

// FindSessionByRefreshToken ищет активную сессию по refresh-токену. Срок
// действия не проверяется: вызывающая сторона отличает истёкшую сессию от
// отсутствующей.
func (s *Storage) FindSessionByRefreshToken(ctx context.Context, token string) (*models.Session, error) {
	const op = "storage.FindSessionByRefreshToken"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	sess, err := scanSession(s.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token = $1 AND is_active`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return sess, nil
}

// ListActiveSessions активные сессии пользователя с неистёкшим refresh-токеном.
func (s *Storage) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	const op = "storage.ListActiveSessions"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions
		WHERE user_id = $1 AND is_active AND refresh_token_expires_at > $2
		ORDER BY platform, created_at DESC`, userID, now)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	result, err := scanSessions(rows)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return result, nil
}

// RotateSessionTokens заменяет токены активной сессии и продлевает сроки.
func (s *Storage) RotateSessionTokens(ctx context.Context, sess *models.Session) error {
	const op = "storage.RotateSessionTokens"
	if err := checkContext(ctx, op); err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE user_sessions
		SET token = $2, refresh_token = $3, expires_at = $4, refresh_token_expires_at = $5, last_active = $6
		WHERE id = $1 AND is_active`,
		sess.ID, sess.AccessToken, sess.RefreshToken, sess.ExpiresAt, sess.RefreshExpiresAt, sess.LastActive)
	if err != nil {
		return apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n == 0 {
		return apperr.ErrSessionNotFound
	}
	return nil
}

// DeactivateSession завершает одну активную сессию и возвращает её владельца.
func (s *Storage) DeactivateSession(ctx context.Context, id string, now time.Time) (string, error) {
	const op = "storage.DeactivateSession"
	if err := checkContext(ctx, op); err != nil {
		return "", err
	}
	var userID string
	err := s.DB.QueryRowContext(ctx, `UPDATE user_sessions
		SET is_active = FALSE, last_active = $2
		WHERE id = $1 AND is_active
		RETURNING user_id`, id, now).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrSessionNotFound
	}
	if err != nil {
		return "", apperr.Storage(op, err)
	}
	return userID, nil
}

// DeactivateSessionsByPlatform завершает активные сессии пользователя на платформе.
func (s *Storage) DeactivateSessionsByPlatform(ctx context.Context, userID string, platform models.Platform, now time.Time) ([]string, error) {
	const op = "storage.DeactivateSessionsByPlatform"
	return s.deactivateSessions(ctx, op, `UPDATE user_sessions
		SET is_active = FALSE, last_active = $3
		WHERE user_id = $1 AND platform = $2 AND is_active
		RETURNING id`, userID, platform, now)
}

// DeactivateAllSessions завершает все активные сессии пользователя.
func (s *Storage) DeactivateAllSessions(ctx context.Context, userID string, now time.Time) ([]string, error) {
	const op = "storage.DeactivateAllSessions"
	return s.deactivateSessions(ctx, op, `UPDATE user_sessions
		SET is_active = FALSE, last_active = $2
		WHERE user_id = $1 AND is_active
		RETURNING id`, userID, now)
}

func (s *Storage) deactivateSessions(ctx context.Context, op, query string, args ...any) ([]string, error) {
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return ids, nil
}

// ListSessions постраничный список активных сессий для администратора.
// Пустой userID означает все сессии.
func (s *Storage) ListSessions(ctx context.Context, userID string, page, limit int) ([]models.Session, int, error) {
	const op = "storage.ListSessions"
	if err := checkContext(ctx, op); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_sessions
		WHERE is_active AND ($1 = '' OR user_id::text = $1)`, userID).Scan(&total); err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions
		WHERE is_active AND ($1 = '' OR user_id::text = $1)
		ORDER BY last_active DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset(page, limit))
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	result, err := scanSessions(rows)
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	return result, total, nil
}

// SessionStats считает активные сессии с непросроченным refresh-токеном.
func (s *Storage) SessionStats(ctx context.Context, now time.Time) (*models.SessionStats, error) {
	const op = "storage.SessionStats"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	stats := &models.SessionStats{ByPlatform: make(map[models.Platform]int, len(models.Platforms))}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT user_id) FROM user_sessions
		WHERE is_active AND refresh_token_expires_at > $1`, now).Scan(&stats.Active, &stats.ActiveUsers); err != nil {
		return nil, apperr.Storage(op, err)
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT platform, COUNT(*) FROM user_sessions
		WHERE is_active AND refresh_token_expires_at > $1
		GROUP BY platform`, now)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var (
			platform models.Platform
			count    int
		)
		if err := rows.Scan(&platform, &count); err != nil {
			return nil, apperr.Storage(op, err)
		}
		stats.ByPlatform[platform] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return stats, nil
}
