package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issue выпускает пару токенов для сессии sessionID.
func (j *MakerImpl) Issue(subject Subject, sessionID string) (*TokenPair, error) {
	const op = "jwt.Issue"
	now := j.now()
	accessExp := now.Add(j.accessTTL)
	refreshExp := now.Add(j.refreshTTL)

	access, err := j.sign(subject, sessionID, AccessToken, now, accessExp, j.accessSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	refresh, err := j.sign(subject, sessionID, RefreshToken, now, refreshExp, j.refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &TokenPair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessExpiry:  accessExp,
		RefreshExpiry: refreshExp,
	}, nil
}

func (j *MakerImpl) sign(subject Subject, sessionID string, typ TokenType, now, exp time.Time, secret []byte) (string, error) {
	claims := CustomClaims{
		UserID:    subject.UserID,
		Role:      subject.Role,
		SessionID: sessionID,
		Timezone:  subject.Timezone,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject.UserID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify проверяет access-токен. Любая ошибка подписи, срока или формата
// даёт false.
func (j *MakerImpl) Verify(tokenStr string) (*CustomClaims, bool) {
	return j.parse(tokenStr, AccessToken, j.accessSecret)
}

// VerifyRefresh проверяет refresh-токен.
func (j *MakerImpl) VerifyRefresh(tokenStr string) (*CustomClaims, bool) {
	return j.parse(tokenStr, RefreshToken, j.refreshSecret)
}

func (j *MakerImpl) parse(tokenStr string, want TokenType, secret []byte) (*CustomClaims, bool) {
	if tokenStr == "" {
		return nil, false
	}
	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, false
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, false
	}
	if claims.Type != want || claims.UserID == "" || claims.SessionID == "" {
		return nil, false
	}
	return claims, true
}
