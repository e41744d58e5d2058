// Package services содержит логику бизнес-уровня для работы с учётными
// записями: регистрацию, вход по паролю и через внешнего провайдера,
// обновление и проверку токенов, сброс пароля и деактивацию.
package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/ids"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/jwt"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetDeactivatedUserByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, now time.Time) error
	SetGoogleID(ctx context.Context, id, googleID string, now time.Time) error
	ReactivateUser(ctx context.Context, id, email string, now time.Time) error
	UpdateProfile(ctx context.Context, id, fullName, timezone string, now time.Time) (*models.User, error)
	DeactivateUser(ctx context.Context, id, reason string, now time.Time) (*models.User, error)
	CreateResetCode(ctx context.Context, id, userID, codeHash string, expiresAt, now time.Time) error
	ResetPassword(ctx context.Context, userID, codeHash, passwordHash string, now time.Time) error
	// LinkPendingMemberships привязывает приглашения по email к новому пользователю.
	LinkPendingMemberships(ctx context.Context, email, userID string) (int64, error)
	InsertLoginLog(ctx context.Context, l *models.LoginLog) error
}

// Sessions хранилище сессий.
type Sessions interface {
	Create(ctx context.Context, in models.NewSession) (*models.Session, *jwt.TokenPair, error)
	Validate(ctx context.Context, claims *jwt.CustomClaims) (*models.Principal, error)
	FindActiveByUser(ctx context.Context, userID string) ([]models.Session, error)
	FindByRefreshToken(ctx context.Context, token string) (*models.Session, error)
	Rotate(ctx context.Context, sess *models.Session, subject jwt.Subject) (*jwt.TokenPair, error)
	Terminate(ctx context.Context, id string) error
	InvalidateByPlatform(ctx context.Context, userID, platform string) (int, error)
	InvalidateAll(ctx context.Context, userID string) (int, error)
}

// PasswordHasher хеширует и проверяет пароли.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) error
}

// IdentityProvider обменивает внешний грант на подтверждённую личность.
type IdentityProvider interface {
	Exchange(ctx context.Context, grant string) (*models.ExternalIdentity, error)
}

// Notifier отправляет уведомления асинхронно. Ошибки отправки не
// возвращаются вызывающему.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// Cache описывает методы кеша, которые использует сервис.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Options параметры AuthService.
type Options struct {
	UserTTL           time.Duration
	ResetCodeTTL      time.Duration
	ResetCooldown     time.Duration
	PasswordMinLength int
}

// AuthService отвечает за регистрацию, вход и проверку токенов.
type AuthService struct {
	users    UserRepository
	sessions Sessions
	tokens   jwt.Maker
	hasher   PasswordHasher
	identity IdentityProvider
	notifier Notifier
	cache    Cache
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewAuthService создает новый экземпляр AuthService. identity может быть
// nil, тогда вход через внешнего провайдера недоступен.
func NewAuthService(users UserRepository, sessions Sessions, tokens jwt.Maker, hasher PasswordHasher,
	identity IdentityProvider, notifier Notifier, cache Cache, opts Options,
	log *slog.Logger, m *metrics.Metrics) *AuthService {
	if opts.PasswordMinLength <= 0 {
		opts.PasswordMinLength = 6
	}
	if opts.ResetCodeTTL <= 0 {
		opts.ResetCodeTTL = 10 * time.Minute
	}
	if opts.ResetCooldown <= 0 {
		opts.ResetCooldown = time.Minute
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		identity: identity,
		notifier: notifier,
		cache:    cache,
		opts:     opts,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// RegisterInput данные регистрации.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Timezone string
}

// LoginInput данные входа. Для входа через провайдера Email и Password не используются.
type LoginInput struct {
	Email      string
	Password   string
	Platform   string
	DeviceInfo string
	IPAddress  string
	Timezone   string
}

// LoginResult результат успешного входа или обновления токенов.
type LoginResult struct {
	User    *models.User
	Session *models.Session
	Tokens  *jwt.TokenPair
}

// Register создаёт пользователя с ролью user и привязывает к нему
// приглашения, выписанные на его email до регистрации.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := models.NormalizeEmail(in.Email)
	if email == "" || strings.TrimSpace(in.Username) == "" {
		return nil, apperr.Validation("username and email are required")
	}
	if len(in.Password) < s.opts.PasswordMinLength {
		return nil, apperr.Validation("password is too short")
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		ID:           ids.New(),
		Username:     strings.TrimSpace(in.Username),
		Email:        email,
		PasswordHash: hashed,
		FullName:     in.FullName,
		Role:         models.RoleUser,
		State:        models.UserActive,
		Timezone:     timezoneOr(in.Timezone, "UTC"),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user registered", slog.String("user_id", user.ID))

	s.linkInvites(ctx, user)
	s.notifier.Notify(ctx, models.Notification{
		To:       user.Email,
		Template: models.TemplateWelcome,
		Params:   map[string]string{"username": user.Username},
	})
	return user, nil
}

// Login проверяет пароль и создаёт сессию на указанной платформе. Активная
// сессия на той же платформе завершается.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	platform, err := models.ParsePlatform(in.Platform)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(in.Email))
	if errors.Is(err, apperr.ErrUserNotFound) {
		s.metrics.Login(string(platform), apperr.ErrInvalidCredentials)
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !user.HasPassword() || s.hasher.Verify(user.PasswordHash, in.Password) != nil {
		s.writeLog(ctx, failedLog(user.ID, platform, in, "invalid password", models.ActionLogin, s.now()))
		s.metrics.Login(string(platform), apperr.ErrInvalidCredentials)
		return nil, apperr.ErrInvalidCredentials
	}
	if !user.IsActive() {
		s.writeLog(ctx, failedLog(user.ID, platform, in, "account disabled", models.ActionLogin, s.now()))
		s.metrics.Login(string(platform), apperr.ErrAccountDisabled)
		return nil, apperr.ErrAccountDisabled
	}

	return s.startSession(ctx, user, platform, in)
}

// LoginWithIdentity выполняет вход через внешнего провайдера. Пользователь
// ищется по email, затем среди деактивированных по внешнему идентификатору,
// иначе создаётся новый без локального пароля.
func (s *AuthService) LoginWithIdentity(ctx context.Context, grant string, in LoginInput) (*LoginResult, error) {
	platform, err := models.ParsePlatform(in.Platform)
	if err != nil {
		return nil, err
	}
	if s.identity == nil {
		return nil, apperr.Validation("federated login is not configured")
	}

	ident, err := s.identity.Exchange(ctx, grant)
	if err != nil {
		s.log.Warn("identity exchange failed", sl.Err(err))
		s.metrics.Login(string(platform), err)
		return nil, apperr.ErrInvalidCredentials
	}

	user, err := s.resolveIdentity(ctx, ident, in.Timezone)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		s.writeLog(ctx, failedLog(user.ID, platform, in, "account disabled", models.ActionLogin, s.now()))
		s.metrics.Login(string(platform), apperr.ErrAccountDisabled)
		return nil, apperr.ErrAccountDisabled
	}
	return s.startSession(ctx, user, platform, in)
}

func (s *AuthService) resolveIdentity(ctx context.Context, ident *models.ExternalIdentity, timezone string) (*models.User, error) {
	email := models.NormalizeEmail(ident.Email)
	now := s.now().UTC()

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if user.GoogleID == "" && ident.ExternalID != "" {
			if err := s.users.SetGoogleID(ctx, user.ID, ident.ExternalID, now); err != nil {
				return nil, err
			}
			user.GoogleID = ident.ExternalID
		}
		return user, nil
	case !errors.Is(err, apperr.ErrUserNotFound):
		return nil, err
	}

	former, err := s.users.GetDeactivatedUserByGoogleID(ctx, ident.ExternalID)
	switch {
	case err == nil:
		if err := s.users.ReactivateUser(ctx, former.ID, email, now); err != nil {
			return nil, err
		}
		s.log.Info("deactivated user restored by identity", slog.String("user_id", former.ID))
		return s.users.GetUserByID(ctx, former.ID)
	case !errors.Is(err, apperr.ErrUserNotFound):
		return nil, err
	}

	user = &models.User{
		ID:        ids.New(),
		Username:  displayName(ident),
		Email:     email,
		FullName:  ident.DisplayName,
		Role:      models.RoleUser,
		State:     models.UserActive,
		Timezone:  timezoneOr(timezone, "UTC"),
		GoogleID:  ident.ExternalID,
		CreatedAt: now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user registered by identity", slog.String("user_id", user.ID))
	s.linkInvites(ctx, user)
	s.notifier.Notify(ctx, models.Notification{
		To:       user.Email,
		Template: models.TemplateWelcome,
		Params:   map[string]string{"username": user.Username},
	})
	return user, nil
}

func (s *AuthService) startSession(ctx context.Context, user *models.User, platform models.Platform, in LoginInput) (*LoginResult, error) {
	sess, pair, err := s.sessions.Create(ctx, models.NewSession{
		UserID:     user.ID,
		Role:       user.Role,
		Platform:   string(platform),
		DeviceInfo: in.DeviceInfo,
		IPAddress:  in.IPAddress,
		Timezone:   timezoneOr(in.Timezone, user.Timezone),
	})
	if err != nil {
		s.metrics.Login(string(platform), err)
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.Error("failed to update last login", slog.String("user_id", user.ID), sl.Err(err))
	} else {
		user.LastLogin = &now
	}
	s.invalidate(ctx, cache.UserKey(user.ID))

	s.writeLog(ctx, &models.LoginLog{
		UserID:     user.ID,
		SessionID:  &sess.ID,
		IPAddress:  in.IPAddress,
		DeviceInfo: in.DeviceInfo,
		Platform:   platform,
		Success:    true,
		Action:     models.ActionLogin,
		CreatedAt:  now,
	})
	s.metrics.Login(string(platform), nil)
	return &LoginResult{User: user, Session: sess, Tokens: pair}, nil
}

// Refresh обменивает refresh-токен на новую пару токенов той же сессии.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, ok := s.tokens.VerifyRefresh(refreshToken)
	if !ok {
		return nil, apperr.ErrTokenInvalid
	}
	sess, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if sess.ID != claims.SessionID || sess.UserID != claims.UserID {
		return nil, apperr.ErrTokenInvalid
	}

	user, err := s.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		if _, err := s.sessions.InvalidateAll(ctx, user.ID); err != nil {
			s.log.Error("failed to invalidate sessions of inactive user", slog.String("user_id", user.ID), sl.Err(err))
		}
		return nil, apperr.ErrAccountDisabled
	}

	pair, err := s.sessions.Rotate(ctx, sess, jwt.Subject{UserID: user.ID, Role: user.Role, Timezone: sess.Timezone})
	if err != nil {
		return nil, err
	}
	s.writeLog(ctx, &models.LoginLog{
		UserID:     user.ID,
		SessionID:  &sess.ID,
		IPAddress:  sess.IPAddress,
		DeviceInfo: sess.DeviceInfo,
		Platform:   sess.Platform,
		Success:    true,
		Action:     models.ActionRefresh,
		CreatedAt:  s.now().UTC(),
	})
	return &LoginResult{User: user, Session: sess, Tokens: pair}, nil
}

// Logout завершает сессии пользователя только на платформе текущей сессии.
func (s *AuthService) Logout(ctx context.Context, p models.Principal) error {
	if _, err := s.sessions.InvalidateByPlatform(ctx, p.UserID, string(p.Platform)); err != nil {
		return err
	}
	s.writeLog(ctx, &models.LoginLog{
		UserID:    p.UserID,
		SessionID: &p.SessionID,
		Platform:  p.Platform,
		Success:   true,
		Action:    models.ActionLogout,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// Authenticate проверяет access-токен и активность его сессии.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.Principal, error) {
	claims, ok := s.tokens.Verify(accessToken)
	if !ok {
		return nil, apperr.ErrTokenInvalid
	}
	return s.sessions.Validate(ctx, claims)
}

// Sessions возвращает активные сессии пользователя, сгруппированные по платформе.
func (s *AuthService) Sessions(ctx context.Context, userID string) (map[models.Platform][]models.Session, error) {
	list, err := s.sessions.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	grouped := make(map[models.Platform][]models.Session, len(models.Platforms))
	for _, sess := range list {
		grouped[sess.Platform] = append(grouped[sess.Platform], sess)
	}
	return grouped, nil
}

func (s *AuthService) linkInvites(ctx context.Context, user *models.User) {
	n, err := s.users.LinkPendingMemberships(ctx, user.Email, user.ID)
	if err != nil {
		s.log.Error("failed to link pending memberships", slog.String("user_id", user.ID), sl.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("pending memberships linked", slog.String("user_id", user.ID), slog.Int64("count", n))
	}
}

// writeLog пишет запись журнала. Сбой записи не прерывает вход.
func (s *AuthService) writeLog(ctx context.Context, l *models.LoginLog) {
	l.ID = ids.NewSortable(l.CreatedAt)
	if err := s.users.InsertLoginLog(ctx, l); err != nil {
		s.log.Error("failed to write login log", slog.String("user_id", l.UserID), sl.Err(err))
	}
}

func failedLog(userID string, platform models.Platform, in LoginInput, reason string, action models.LoginAction, now time.Time) *models.LoginLog {
	return &models.LoginLog{
		UserID:        userID,
		IPAddress:     in.IPAddress,
		DeviceInfo:    in.DeviceInfo,
		Platform:      platform,
		Success:       false,
		FailureReason: &reason,
		Action:        action,
		CreatedAt:     now.UTC(),
	}
}

func timezoneOr(tz, fallback string) string {
	if tz = strings.TrimSpace(tz); tz != "" {
		return tz
	}
	if fallback == "" {
		return "UTC"
	}
	return fallback
}

func displayName(ident *models.ExternalIdentity) string {
	if name := strings.TrimSpace(ident.DisplayName); name != "" {
		return name
	}
	if at := strings.IndexByte(ident.Email, '@'); at > 0 {
		return ident.Email[:at]
	}
	return ident.Email
}
