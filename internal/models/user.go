// Package models содержит доменные сущности: пользователей, сессии,
// лицензии, состав участников, права и заявки на лицензию.
package models

import (
	"strings"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
)

// Role роль пользователя в системе.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadministrator"
)

// ParseRole проверяет, что s является известной ролью.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return r, nil
	default:
		return "", apperr.Validation("unknown role " + s)
	}
}

// UserState состояние учётной записи.
type UserState string

const (
	UserActive      UserState = "active"
	UserDisabled    UserState = "disabled"
	UserDeactivated UserState = "deactivated"
)

// Deactivation хранит сведения об удалении учётной записи. Исходный email
// переносится сюда, а основное поле очищается, чтобы адрес можно было
// зарегистрировать заново.
type Deactivation struct {
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
	FormerEmail string    `json:"former_email"`
}

// User учётная запись пользователя.
type User struct {
	ID           string        `json:"id"`
	Username     string        `json:"username"`
	Email        string        `json:"email,omitempty"` // пусто после деактивации
	PasswordHash string        `json:"-"`               // пусто для входа только через Google
	FullName     string        `json:"full_name,omitempty"`
	Role         Role          `json:"role"`
	State        UserState     `json:"state"`
	Timezone     string        `json:"timezone"`
	GoogleID     string        `json:"google_id,omitempty"`
	Deactivation *Deactivation `json:"deactivation,omitempty"`
	LastLogin    *time.Time    `json:"last_login,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// IsActive сообщает, может ли пользователь входить в систему.
func (u *User) IsActive() bool { return u.State == UserActive }

// HasPassword сообщает, задан ли локальный пароль.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// IsProtected запрещает административные действия над суперадминистратором.
func (u *User) IsProtected() bool { return u.Role == RoleSuperAdmin }

// NormalizeEmail приводит адрес к каноническому виду.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExternalIdentity подтверждённая внешним провайдером личность.
type ExternalIdentity struct {
	ExternalID  string
	Email       string
	DisplayName string
}

// Principal аутентифицированный субъект запроса.
type Principal struct {
	UserID    string
	Role      Role
	SessionID string
	Platform  Platform
	Timezone  string
}
