package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	_ "time/tzdata" // база IANA для проверки часового пояса

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/ids"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

const resetCodeDigits = 6

// RequestPasswordReset выпускает одноразовый код и отправляет его на почту.
// Для неизвестного адреса ничего не делает и ошибки не возвращает.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		return apperr.Validation("email is required")
	}

	n, err := s.cache.Incr(ctx, cache.ResetCooldownKey(email), s.opts.ResetCooldown)
	if err != nil {
		s.log.Warn("reset cooldown unavailable", sl.Err(err))
		s.metrics.CacheError("incr")
	} else if n > 1 {
		return apperr.ErrTooManyRequests
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !user.IsActive() {
		return nil
	}

	code, err := newResetCode()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.users.CreateResetCode(ctx, ids.New(), user.ID, hashCode(code), now.Add(s.opts.ResetCodeTTL), now); err != nil {
		return err
	}
	s.notifier.Notify(ctx, models.Notification{
		To:       user.Email,
		Template: models.TemplateResetPassword,
		Params: map[string]string{
			"username": user.Username,
			"code":     code,
			"minutes":  fmt.Sprintf("%d", int(s.opts.ResetCodeTTL.Minutes())),
		},
	})
	return nil
}

// ResetPassword меняет пароль по коду и завершает все сессии пользователя.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < s.opts.PasswordMinLength {
		return apperr.Validation("password is too short")
	}
	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if errors.Is(err, apperr.ErrUserNotFound) {
		return apperr.ErrResetCodeInvalid
	}
	if err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.ResetPassword(ctx, user.ID, hashCode(code), hashed, s.now().UTC()); err != nil {
		return err
	}
	if _, err := s.sessions.InvalidateAll(ctx, user.ID); err != nil {
		s.log.Error("failed to invalidate sessions after reset", slog.String("user_id", user.ID), sl.Err(err))
	}
	s.invalidate(ctx, cache.UserKey(user.ID))
	s.log.Info("password reset", slog.String("user_id", user.ID))
	return nil
}

// Deactivate удаляет учётную запись: email освобождается, все сессии
// завершаются. Суперадминистратора удалить нельзя.
func (s *AuthService) Deactivate(ctx context.Context, userID, reason string) (*models.User, error) {
	current, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.IsProtected() {
		return nil, apperr.ErrForbidden
	}

	user, err := s.users.DeactivateUser(ctx, userID, reason, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.InvalidateAll(ctx, userID); err != nil {
		s.log.Error("failed to invalidate sessions of deactivated user", slog.String("user_id", userID), sl.Err(err))
	}
	s.invalidate(ctx, cache.UserKey(userID))
	s.log.Info("user deactivated", slog.String("user_id", userID))

	if user.Deactivation != nil && user.Deactivation.FormerEmail != "" {
		s.notifier.Notify(ctx, models.Notification{
			To:       user.Deactivation.FormerEmail,
			Template: models.TemplateAccountDeactivation,
			Params:   map[string]string{"username": user.Username, "reason": reason},
		})
	}
	return user, nil
}

// Me возвращает профиль пользователя.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	key := cache.UserKey(userID)
	var user models.User
	if s.cacheGet(ctx, key, &user) {
		return &user, nil
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, u)
	return u, nil
}

// ProfileInput изменяемые поля профиля. nil оставляет поле без изменений.
type ProfileInput struct {
	FullName *string
	Timezone *string
}

// UpdateProfile меняет имя и часовой пояс пользователя. Часовой пояс
// должен быть известен базе IANA. Уже выданные токены сохраняют прежний
// часовой пояс до следующего входа или обновления.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*models.User, error) {
	current, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	fullName, timezone := current.FullName, current.Timezone
	if in.FullName != nil {
		fullName = strings.TrimSpace(*in.FullName)
	}
	if in.Timezone != nil {
		timezone = strings.TrimSpace(*in.Timezone)
		if _, err := time.LoadLocation(timezone); timezone == "" || timezone == "Local" || err != nil {
			return nil, apperr.Validation("unknown timezone " + *in.Timezone)
		}
	}

	user, err := s.users.UpdateProfile(ctx, userID, fullName, timezone, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.UserKey(userID))
	s.log.Info("profile updated", slog.String("user_id", userID))
	return user, nil
}

func newResetCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("services.newResetCode: %w", err)
	}
	return fmt.Sprintf("%0*d", resetCodeDigits, n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (s *AuthService) cacheGet(ctx context.Context, key string, result any) bool {
	found, err := s.cache.Get(ctx, key, result)
	if err != nil {
		s.log.Warn("cache read failed", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("get")
		return false
	}
	return found
}

func (s *AuthService) cacheSet(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.opts.UserTTL); err != nil {
		s.log.Warn("cache write failed", slog.String("key", key), sl.Err(err))
		s.metrics.CacheError("set")
	}
}

func (s *AuthService) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", slog.Any("keys", keys), sl.Err(err))
		s.metrics.CacheError("invalidate")
	}
}
