package models

import (
	"strings"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
)

// Platform тип клиента, в пределах которого действует правило одной сессии.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformMobile  Platform = "mobile"
	PlatformDesktop Platform = "desktop"
)

// Platforms закрытый набор поддерживаемых платформ.
var Platforms = []Platform{PlatformWeb, PlatformMobile, PlatformDesktop}

// ParsePlatform возвращает ErrInvalidPlatform для неизвестных значений.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", apperr.ErrInvalidPlatform
}

// Session привязка пользователя к устройству на конкретной платформе.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Platform         Platform  `json:"platform"`
	DeviceInfo       string    `json:"device_info"`
	IPAddress        string    `json:"ip_address"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	IsActive         bool      `json:"is_active"`
	Timezone         string    `json:"timezone"`
	LastActive       time.Time `json:"last_active"`
	CreatedAt        time.Time `json:"created_at"`
}

// RefreshExpired сообщает, истёк ли срок refresh-токена на момент now.
func (s *Session) RefreshExpired(now time.Time) bool {
	return now.After(s.RefreshExpiresAt)
}

// NewSession параметры создания сессии.
type NewSession struct {
	UserID     string
	Role       Role
	Platform   string
	DeviceInfo string
	IPAddress  string
	Timezone   string
}

// LoginAction тип события в журнале входов.
type LoginAction string

const (
	ActionLogin   LoginAction = "login"
	ActionLogout  LoginAction = "logout"
	ActionRefresh LoginAction = "refresh"
)

// LoginLog запись журнала аутентификации. Только добавляется.
type LoginLog struct {
	ID            string
	UserID        string
	SessionID     *string
	IPAddress     string
	DeviceInfo    string
	Platform      Platform
	Success       bool
	FailureReason *string
	Action        LoginAction
	CreatedAt     time.Time
}
