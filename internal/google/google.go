// Package google подтверждает личность пользователя по ID-токену Google.
package google

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// TokenValidator проверяет подпись, срок и аудиторию ID-токена.
type TokenValidator interface {
	Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

// Provider обменивает ID-токен Google на подтверждённую личность.
type Provider struct {
	validator TokenValidator
	clientID  string
}

// New создаёт Provider с валидатором из google.golang.org/api/idtoken.
func New(ctx context.Context, clientID string) (*Provider, error) {
	const op = "google.New"
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewWithValidator(v, clientID), nil
}

// NewWithValidator создаёт Provider с заданным валидатором.
func NewWithValidator(v TokenValidator, clientID string) *Provider {
	return &Provider{validator: v, clientID: clientID}
}

// Exchange проверяет токен. Почта должна быть подтверждена Google.
func (p *Provider) Exchange(ctx context.Context, grant string) (*models.ExternalIdentity, error) {
	const op = "google.Exchange"
	if grant == "" {
		return nil, apperr.Validation("id token is required")
	}
	payload, err := p.validator.Validate(ctx, grant, p.clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("%s: token has no email", op)
	}
	if !emailVerified(payload.Claims["email_verified"]) {
		return nil, fmt.Errorf("%s: email is not verified", op)
	}
	name, _ := payload.Claims["name"].(string)

	return &models.ExternalIdentity{
		ExternalID:  payload.Subject,
		Email:       models.NormalizeEmail(email),
		DisplayName: name,
	}, nil
}

// emailVerified учитывает, что Google иногда передаёт флаг строкой.
func emailVerified(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}
