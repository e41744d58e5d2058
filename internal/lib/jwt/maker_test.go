package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

func newTestMaker(accessTTL, refreshTTL time.Duration) *MakerImpl {
	return NewJWTMaker(Config{
		AccessSecret:  "access_secret_1234567890",
		RefreshSecret: "refresh_secret_1234567890",
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Issuer:        "test",
	})
}

func TestJWTMaker_IssueAndVerify_ValidCases(t *testing.T) {
	maker := newTestMaker(15*time.Minute, 24*time.Hour)

	tests := []struct {
		name    string
		subject Subject
	}{
		{name: "admin user", subject: Subject{UserID: "u-1", Role: models.RoleAdmin, Timezone: "UTC"}},
		{name: "regular user", subject: Subject{UserID: "u-2", Role: models.RoleUser, Timezone: "Europe/Moscow"}},
		{name: "superadministrator", subject: Subject{UserID: "u-3", Role: models.RoleSuperAdmin, Timezone: "Asia/Shanghai"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := maker.Issue(tt.subject, "session-1")
			require.NoError(t, err)
			assert.NotEmpty(t, pair.AccessToken)
			assert.NotEmpty(t, pair.RefreshToken)
			assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.AccessExpiry, time.Second)
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.RefreshExpiry, time.Second)

			claims, ok := maker.Verify(pair.AccessToken)
			require.True(t, ok)
			assert.Equal(t, tt.subject.UserID, claims.UserID)
			assert.Equal(t, tt.subject.Role, claims.Role)
			assert.Equal(t, tt.subject.Timezone, claims.Timezone)
			assert.Equal(t, "session-1", claims.SessionID)

			refresh, ok := maker.VerifyRefresh(pair.RefreshToken)
			require.True(t, ok)
			assert.Equal(t, "session-1", refresh.SessionID)
		})
	}
}

func TestJWTMaker_DefaultTTLs(t *testing.T) {
	maker := newTestMaker(0, 0)
	pair, err := maker.Issue(Subject{UserID: "u"}, "s")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), pair.AccessExpiry, time.Second)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), pair.RefreshExpiry, time.Second)
}

func TestJWTMaker_TokensAreUnique(t *testing.T) {
	maker := newTestMaker(time.Hour, time.Hour)
	a, err := maker.Issue(Subject{UserID: "u"}, "s")
	require.NoError(t, err)
	b, err := maker.Issue(Subject{UserID: "u"}, "s")
	require.NoError(t, err)
	assert.NotEqual(t, a.AccessToken, b.AccessToken)
	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)
}

func TestJWTMaker_Verify_FailsClosed(t *testing.T) {
	maker := newTestMaker(15*time.Minute, time.Hour)

	valid, err := maker.Issue(Subject{UserID: "u", Role: models.RoleUser}, "s")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "malformed token", token: "invalid.token.here"},
		{name: "expired token", token: createExpiredToken(t)},
		{name: "wrong secret key", token: createTokenWithWrongSecret(t)},
		{name: "tampered token", token: valid.AccessToken + "tampered"},
		{name: "refresh used as access", token: valid.RefreshToken},
		{name: "none algorithm", token: createUnsignedToken(t)},
		{name: "missing session", token: createTokenWithoutSession(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, ok := maker.Verify(tt.token)
			assert.False(t, ok)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTMaker_VerifyRefresh_RejectsAccessToken(t *testing.T) {
	maker := newTestMaker(time.Hour, time.Hour)
	pair, err := maker.Issue(Subject{UserID: "u"}, "s")
	require.NoError(t, err)

	_, ok := maker.VerifyRefresh(pair.AccessToken)
	assert.False(t, ok)
}

func TestJWTMaker_TokenExpiration(t *testing.T) {
	maker := newTestMaker(time.Minute, time.Hour)
	now := time.Now()
	maker.now = func() time.Time { return now }

	pair, err := maker.Issue(Subject{UserID: "u"}, "s")
	require.NoError(t, err)

	_, ok := maker.Verify(pair.AccessToken)
	assert.True(t, ok)

	maker.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = maker.Verify(pair.AccessToken)
	assert.False(t, ok)

	_, ok = maker.VerifyRefresh(pair.RefreshToken)
	assert.True(t, ok)
}

func createExpiredToken(t *testing.T) string {
	maker := newTestMaker(-time.Hour, time.Hour)
	pair, err := maker.Issue(Subject{UserID: "u"}, "s")
	require.NoError(t, err)
	return pair.AccessToken
}

func createTokenWithWrongSecret(t *testing.T) string {
	wrongMaker := NewJWTMaker(Config{AccessSecret: "wrong", RefreshSecret: "wrong"})
	pair, err := wrongMaker.Issue(Subject{UserID: "u"}, "s")
	require.NoError(t, err)
	return pair.AccessToken
}

func createUnsignedToken(t *testing.T) string {
	claims := CustomClaims{
		UserID:    "u",
		SessionID: "s",
		Type:      AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(token, "."))
	return token
}

func createTokenWithoutSession(t *testing.T) string {
	maker := newTestMaker(time.Hour, time.Hour)
	pair, err := maker.Issue(Subject{UserID: "u"}, "")
	require.NoError(t, err)
	return pair.AccessToken
}
