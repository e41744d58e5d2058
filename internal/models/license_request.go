package models

import (
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
)

// RequestType тип заявки на лицензию.
type RequestType string

const (
	RequestNew   RequestType = "new"
	RequestRenew RequestType = "renew"
	RequestAdd   RequestType = "add"
)

// ParseRequestType проверяет тип заявки.
func ParseRequestType(s string) (RequestType, error) {
	switch t := RequestType(s); t {
	case RequestNew, RequestRenew, RequestAdd:
		return t, nil
	default:
		return "", apperr.Validation("type must be one of new, renew, add")
	}
}

// RequestStatus статус заявки.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

// LicenseRequest заявка подписчика, ожидающая решения суперадминистратора.
type LicenseRequest struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	RequestedMembers int           `json:"requested_members"`
	Duration         Duration      `json:"duration"`
	Type             RequestType   `json:"type"`
	Status           RequestStatus `json:"status"`
	ApprovedBy       *string       `json:"approved_by,omitempty"`
	ProcessedAt      *time.Time    `json:"processed_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// ApplyApproval применяет одобренную заявку к лицензии. lic может быть nil,
// если у подписчика ещё нет лицензии. Возвращает новое состояние лицензии.
func ApplyApproval(lic *License, req *LicenseRequest, newID string, now time.Time) (*License, error) {
	switch req.Type {
	case RequestNew:
		next := &License{ID: newID, SubscriberID: req.UserID, CreatedAt: now}
		if lic != nil {
			cp := *lic
			next = &cp
		}
		end := req.Duration.From(now)
		start := now
		next.MaxMembers = req.RequestedMembers
		next.Status = LicenseActive
		next.StartDate = &start
		next.EndDate = &end
		next.TrialEndDate = nil
		next.UpdatedAt = now
		if next.CurrentMembers > next.MaxMembers {
			return nil, apperr.ErrSeatLimitReached
		}
		return next, nil
	case RequestRenew:
		if lic == nil {
			return nil, apperr.ErrLicenseNotFound
		}
		next := *lic
		from := now
		if next.Status == LicenseActive && next.EndDate != nil && next.EndDate.After(now) {
			from = *next.EndDate
		}
		end := req.Duration.From(from)
		if next.StartDate == nil || next.Status != LicenseActive {
			start := now
			next.StartDate = &start
		}
		next.EndDate = &end
		next.Status = LicenseActive
		next.TrialEndDate = nil
		next.MaxMembers = req.RequestedMembers
		next.UpdatedAt = now
		if next.CurrentMembers > next.MaxMembers {
			return nil, apperr.ErrSeatLimitReached
		}
		return &next, nil
	case RequestAdd:
		if lic == nil {
			return nil, apperr.ErrLicenseNotFound
		}
		next := *lic
		next.MaxMembers += req.RequestedMembers
		next.UpdatedAt = now
		return &next, nil
	default:
		return nil, apperr.Validation("unknown request type")
	}
}
