package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// InsertLoginLog добавляет запись в журнал входов. Записи не изменяются.
func (s *Storage) InsertLoginLog(ctx context.Context, l *models.LoginLog) error {
	const op = "storage.InsertLoginLog"
	if err := checkContext(ctx, op); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO user_login_logs
		(id, user_id, session_id, ip_address, device_info, platform, success, failure_reason, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.UserID, l.SessionID, l.IPAddress, l.DeviceInfo, l.Platform,
		l.Success, l.FailureReason, l.Action, l.CreatedAt); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// ListLoginLogs последние записи журнала пользователя.
func (s *Storage) ListLoginLogs(ctx context.Context, userID string, since time.Time, limit int) ([]models.LoginLog, error) {
	const op = "storage.ListLoginLogs"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, session_id, ip_address, device_info, platform,
			success, failure_reason, action, created_at
		FROM user_login_logs
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY id DESC
		LIMIT $3`, userID, since, limit)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.LoginLog
	for rows.Next() {
		var l models.LoginLog
		var sessionID, reason sql.NullString
		if err := rows.Scan(&l.ID, &l.UserID, &sessionID, &l.IPAddress, &l.DeviceInfo, &l.Platform,
			&l.Success, &reason, &l.Action, &l.CreatedAt); err != nil {
			return nil, apperr.Storage(op, err)
		}
		l.SessionID = stringPtr(sessionID)
		l.FailureReason = stringPtr(reason)
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return result, nil
}
