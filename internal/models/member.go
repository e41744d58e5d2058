package models

import "time"

// MemberStatus статус записи состава.
type MemberStatus string

const (
	MemberActive  MemberStatus = "active"
	MemberRemoved MemberStatus = "removed"
)

// MemberRecord связь подписчика с участником. MemberID пуст, пока
// приглашённый по email пользователь не зарегистрировался.
type MemberRecord struct {
	ID           string       `json:"id"`
	SubscriberID string       `json:"subscriber_id"`
	MemberID     *string      `json:"member_id,omitempty"`
	Email        string       `json:"email"`
	Status       MemberStatus `json:"status"`
	JoinedAt     time.Time    `json:"joined_at"`
	RemovedAt    *time.Time   `json:"removed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsRegistered сообщает, связана ли запись с учётной записью.
func (m *MemberRecord) IsRegistered() bool {
	return m.MemberID != nil && *m.MemberID != ""
}
