package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

const requestColumns = `id, user_id, requested_members, duration, type, status, approved_by, processed_at, created_at`

func scanRequest(row scanner) (*models.LicenseRequest, error) {
	var (
		r           models.LicenseRequest
		approvedBy  sql.NullString
		processedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.RequestedMembers, &r.Duration, &r.Type, &r.Status,
		&approvedBy, &processedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ApprovedBy = stringPtr(approvedBy)
	r.ProcessedAt = timePtr(processedAt)
	return &r, nil
}

// CreateLicenseRequest сохраняет заявку. Вторая ожидающая заявка того же
// пользователя отклоняется уникальным индексом.
func (s *Storage) CreateLicenseRequest(ctx context.Context, r *models.LicenseRequest) error {
	const op = "storage.CreateLicenseRequest"
	if err := checkContext(ctx, op); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO license_requests
		(id, user_id, requested_members, duration, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.UserID, r.RequestedMembers, r.Duration, r.Type, r.Status, r.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.ErrPendingRequestExists
	}
	if err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// GetPendingRequest возвращает ожидающую заявку или ErrNoPendingRequest.
func (s *Storage) GetPendingRequest(ctx context.Context, userID string) (*models.LicenseRequest, error) {
	const op = "storage.GetPendingRequest"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	r, err := scanRequest(s.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM license_requests
		WHERE user_id = $1 AND status = 'pending'`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNoPendingRequest
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return r, nil
}

// CancelPendingRequest отменяет ожидающую заявку пользователя.
func (s *Storage) CancelPendingRequest(ctx context.Context, userID string, now time.Time) (*models.LicenseRequest, error) {
	const op = "storage.CancelPendingRequest"
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	r, err := scanRequest(s.DB.QueryRowContext(ctx, `UPDATE license_requests
		SET status = 'cancelled', processed_at = $2
		WHERE user_id = $1 AND status = 'pending'
		RETURNING `+requestColumns, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNoPendingRequest
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return r, nil
}

// ListLicenseRequests постраничный список заявок. Пустой status означает все.
func (s *Storage) ListLicenseRequests(ctx context.Context, status string, page, limit int) ([]models.LicenseRequest, int, error) {
	const op = "storage.ListLicenseRequests"
	if err := checkContext(ctx, op); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM license_requests
		WHERE $1 = '' OR status = $1`, status).Scan(&total); err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+requestColumns+` FROM license_requests
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, status, limit, offset(page, limit))
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []models.LicenseRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, apperr.Storage(op, err)
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Storage(op, err)
	}
	return result, total, nil
}

// ProcessLicenseRequest одобряет или отклоняет ожидающую заявку. Одобрение
// создаёт или изменяет лицензию в той же транзакции. При отклонении
// возвращаемая лицензия равна nil.
func (s *Storage) ProcessLicenseRequest(ctx context.Context, requestID, adminID string, approve bool,
	newLicenseID string, now time.Time) (*models.LicenseRequest, *models.License, error) {
	const op = "storage.ProcessLicenseRequest"
	var (
		req *models.LicenseRequest
		lic *models.License
	)
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		req, err = scanRequest(tx.QueryRowContext(ctx,
			`SELECT `+requestColumns+` FROM license_requests WHERE id = $1 FOR UPDATE`, requestID))
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrRequestNotFound
		}
		if err != nil {
			return apperr.Storage(op, err)
		}
		if req.Status != models.RequestPending {
			return apperr.ErrRequestProcessed
		}

		status := models.RequestRejected
		if approve {
			status = models.RequestApproved
			current, err := lockLicense(ctx, tx, op, req.UserID, "UPDATE")
			if err != nil && !errors.Is(err, apperr.ErrLicenseNotFound) {
				return err
			}
			next, err := models.ApplyApproval(current, req, newLicenseID, now)
			if err != nil {
				return err
			}
			if lic, err = upsertLicense(ctx, tx, op, next); err != nil {
				return err
			}
		}

		if _, err = tx.ExecContext(ctx, `UPDATE license_requests
			SET status = $2, approved_by = $3, processed_at = $4
			WHERE id = $1`, req.ID, status, adminID, now); err != nil {
			return apperr.Storage(op, err)
		}
		req.Status = status
		req.ApprovedBy = &adminID
		req.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return req, lic, nil
}
