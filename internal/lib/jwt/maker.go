// Package jwt выпускает и проверяет пары access/refresh токенов.
//
// Оба токена содержат идентификатор сессии, поэтому одного владения
// токеном недостаточно: сессия должна оставаться активной в хранилище.
package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// TokenType отличает access-токен от refresh-токена.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Subject данные пользователя, которые попадают в claims.
type Subject struct {
	UserID   string
	Role     models.Role
	Timezone string
}

// CustomClaims описывает пользовательские данные, хранящиеся в JWT.
type CustomClaims struct {
	UserID    string      `json:"userId"`
	Role      models.Role `json:"role"`
	SessionID string      `json:"sessionId"`
	Timezone  string      `json:"timezone"`
	Type      TokenType   `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair результат выпуска токенов.
type TokenPair struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	AccessExpiry  time.Time `json:"access_expiry"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
}

// Maker выпускает и проверяет токены.
type Maker interface {
	Issue(subject Subject, sessionID string) (*TokenPair, error)
	Verify(token string) (*CustomClaims, bool)
	VerifyRefresh(token string) (*CustomClaims, bool)
}

// MakerImpl реализует Maker с раздельными секретами для access и refresh.
type MakerImpl struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// Config параметры MakerImpl.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// NewJWTMaker создаёт MakerImpl. Нулевые сроки заменяются на 1 час и 7 дней.
func NewJWTMaker(cfg Config) *MakerImpl {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &MakerImpl{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           time.Now,
	}
}
