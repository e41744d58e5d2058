package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/ids"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// SubmitInput параметры заявки.
type SubmitInput struct {
	Members  int
	Duration string
	Type     string
}

// Submit создаёт заявку на лицензию. У пользователя может быть только одна
// ожидающая заявка.
func (s *LicenseService) Submit(ctx context.Context, userID string, in SubmitInput) (*models.LicenseRequest, error) {
	if in.Members <= 0 {
		return nil, apperr.Validation("members must be positive")
	}
	duration, err := models.ParseDuration(in.Duration)
	if err != nil {
		return nil, err
	}
	typ, err := models.ParseRequestType(in.Type)
	if err != nil {
		return nil, err
	}

	inRoster, err := s.repo.IsInAnyRoster(ctx, userID)
	if err != nil {
		return nil, err
	}
	if inRoster {
		return nil, apperr.ErrAlreadyInOtherRoster
	}

	now := s.now().UTC()
	lic, err := s.repo.GetLicense(ctx, userID)
	if err != nil && !errors.Is(err, apperr.ErrLicenseNotFound) {
		return nil, err
	}
	switch typ {
	case models.RequestNew:
		if lic.IsValid(now) {
			return nil, apperr.ErrLicenseAlreadyActive
		}
	case models.RequestRenew, models.RequestAdd:
		if lic == nil {
			return nil, apperr.ErrLicenseNotFound
		}
	}

	req := &models.LicenseRequest{
		ID:               ids.New(),
		UserID:           userID,
		RequestedMembers: in.Members,
		Duration:         duration,
		Type:             typ,
		Status:           models.RequestPending,
		CreatedAt:        now,
	}
	if err := s.repo.CreateLicenseRequest(ctx, req); err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.PendingRequestKey(userID))
	s.metrics.LicenseRequest(string(models.RequestPending))
	s.log.Info("license request submitted", slog.String("user_id", userID), slog.String("request_id", req.ID))

	s.notifyAdmins(ctx, req)
	return req, nil
}

func (s *LicenseService) notifyAdmins(ctx context.Context, req *models.LicenseRequest) {
	if s.opts.SuperAdminEmail == "" {
		return
	}
	params := map[string]string{
		"request_id": req.ID,
		"type":       string(req.Type),
		"members":    strconv.Itoa(req.RequestedMembers),
		"duration":   string(req.Duration),
	}
	if u, err := s.repo.GetUserByID(ctx, req.UserID); err == nil {
		params["username"] = u.Username
		params["email"] = u.Email
	} else {
		s.log.Warn("requester lookup failed", slog.String("user_id", req.UserID), sl.Err(err))
	}
	s.notifier.Notify(ctx, models.Notification{
		To:       s.opts.SuperAdminEmail,
		Template: models.TemplateLicenseRequestSubmitted,
		Params:   params,
	})
}

// Pending возвращает ожидающую заявку пользователя или nil.
func (s *LicenseService) Pending(ctx context.Context, userID string) (*models.LicenseRequest, error) {
	key := cache.PendingRequestKey(userID)
	var cached models.LicenseRequest
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}
	req, err := s.repo.GetPendingRequest(ctx, userID)
	if errors.Is(err, apperr.ErrNoPendingRequest) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, req)
	return req, nil
}

// Cancel отменяет ожидающую заявку пользователя.
func (s *LicenseService) Cancel(ctx context.Context, userID string) (*models.LicenseRequest, error) {
	req, err := s.repo.CancelPendingRequest(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.PendingRequestKey(userID))
	s.metrics.LicenseRequest(string(models.RequestCancelled))
	return req, nil
}

// List постраничный список заявок для суперадминистратора.
func (s *LicenseService) List(ctx context.Context, status string, page, limit int) ([]models.LicenseRequest, int, error) {
	if status != "" {
		switch models.RequestStatus(status) {
		case models.RequestPending, models.RequestApproved, models.RequestRejected, models.RequestCancelled:
		default:
			return nil, 0, apperr.Validation("unknown request status " + status)
		}
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.ListLicenseRequests(ctx, status, page, limit)
}

// Process одобряет или отклоняет заявку. Изменение лицензии и статуса
// заявки выполняются в одной транзакции.
func (s *LicenseService) Process(ctx context.Context, requestID, adminID string, approve bool) (*models.LicenseRequest, *models.License, error) {
	req, lic, err := s.repo.ProcessLicenseRequest(ctx, requestID, adminID, approve, ids.New(), s.now().UTC())
	if err != nil {
		return nil, nil, err
	}
	s.invalidate(ctx, cache.LicenseKey(req.UserID), cache.PendingRequestKey(req.UserID))
	s.metrics.LicenseRequest(string(req.Status))
	s.log.Info("license request processed",
		slog.String("request_id", req.ID),
		slog.String("admin_id", adminID),
		slog.String("status", string(req.Status)),
	)

	if u, err := s.repo.GetUserByID(ctx, req.UserID); err == nil && u.Email != "" {
		s.notifier.Notify(ctx, models.Notification{
			To:       u.Email,
			Template: models.TemplateLicenseRequestProcessed,
			Params: map[string]string{
				"username": u.Username,
				"status":   string(req.Status),
				"type":     string(req.Type),
				"members":  strconv.Itoa(req.RequestedMembers),
			},
		})
	} else if err != nil {
		s.log.Warn("requester lookup failed", slog.String("user_id", req.UserID), sl.Err(err))
	}
	return req, lic, nil
}
