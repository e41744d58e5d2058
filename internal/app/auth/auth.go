// Package auth собирает сервис аутентификации: HTTP API, gRPC-сервис
// проверки доступа с health-check и фоновую публикацию уведомлений.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/tenant-auth/internal/cache"
	"github.com/magabrotheeeer/tenant-auth/internal/config"
	"github.com/magabrotheeeer/tenant-auth/internal/google"
	"github.com/magabrotheeeer/tenant-auth/internal/grpc/server"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/jwt"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/password"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/migrations"
	"github.com/magabrotheeeer/tenant-auth/internal/notifier"
	"github.com/magabrotheeeer/tenant-auth/internal/rabbitmq"
	adminservices "github.com/magabrotheeeer/tenant-auth/internal/services/admin"
	authservices "github.com/magabrotheeeer/tenant-auth/internal/services/auth"
	licenseservices "github.com/magabrotheeeer/tenant-auth/internal/services/license"
	permissionservices "github.com/magabrotheeeer/tenant-auth/internal/services/permission"
	rosterservices "github.com/magabrotheeeer/tenant-auth/internal/services/roster"
	sessionservices "github.com/magabrotheeeer/tenant-auth/internal/services/session"
	"github.com/magabrotheeeer/tenant-auth/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// Services набор сервисов, из которых строятся маршруты.
type Services struct {
	Auth        *authservices.AuthService
	Sessions    *sessionservices.SessionService
	Admin       *adminservices.AdminService
	License     *licenseservices.LicenseService
	Roster      *rosterservices.RosterService
	Permissions *permissionservices.PermissionService
}

// App сервис аутентификации.
type App struct {
	server     *http.Server
	grpcServer *grpc.Server
	listener   net.Listener
	health     *health.Server
	notifier   *notifier.Notifier
	logger     *slog.Logger
	db         *storage.Storage
	cache      *cache.Cache
	amqpConn   *amqp.Connection
	amqpCh     *amqp.Channel
}

// New подключает хранилища и брокер, применяет миграции и собирает сервисы.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection, cfg.OpTimeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, err
	}
	topology := rabbitmq.Topology{
		Exchange:   cfg.RabbitMQExchange,
		Queue:      cfg.RabbitMQQueue,
		RoutingKey: cfg.RabbitMQRoutingKey,
	}
	ch, err := rabbitmq.SetupChannel(conn, topology, 0)
	if err != nil {
		_ = conn.Close()
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	notify := notifier.New(rabbitmq.NewPublisher(ch, topology), cfg.NotifyBuffer, logger, m)

	var identity authservices.IdentityProvider
	if cfg.GoogleClientID != "" {
		provider, err := google.New(ctx, cfg.GoogleClientID)
		if err != nil {
			logger.Warn("google sign-in disabled", sl.Err(err))
		} else {
			identity = provider
		}
	}

	tokens := jwt.NewJWTMaker(jwt.Config{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Issuer:        cfg.Issuer,
	})

	svc := newServices(cfg, db, cacheRedis, tokens, password.NewHasher(bcrypt.DefaultCost), identity, notify, logger, m)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, svc, m, cfg.HTTPServer, readiness{db: db, cache: cacheRedis})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	lis, err := net.Listen("tcp", cfg.AddressGRPC)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		_ = cacheRedis.Close()
		_ = db.Close()
		return nil, err
	}
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	server.Register(grpcServer, server.NewAuthServer(svc.Auth, svc.Roster, svc.Permissions, logger))

	return &App{
		server:     srv,
		grpcServer: grpcServer,
		listener:   lis,
		health:     healthSrv,
		notifier:   notify,
		logger:     logger,
		db:         db,
		cache:      cacheRedis,
		amqpConn:   conn,
		amqpCh:     ch,
	}, nil
}

func newServices(cfg *config.Config, db *storage.Storage, c *cache.Cache, tokens jwt.Maker,
	hasher authservices.PasswordHasher, identity authservices.IdentityProvider,
	notify *notifier.Notifier, logger *slog.Logger, m *metrics.Metrics) *Services {
	sessions := sessionservices.NewSessionService(db, c, tokens, cfg.SessionTTL, logger, m)
	auth := authservices.NewAuthService(db, sessions, tokens, hasher, identity, notify, c, authservices.Options{
		UserTTL:           cfg.UserTTL,
		ResetCodeTTL:      cfg.ResetCodeTTL,
		ResetCooldown:     cfg.ResetCooldown,
		PasswordMinLength: cfg.PasswordMinLength,
	}, logger, m)

	licenses := licenseservices.NewLicenseService(db, c, notify, licenseservices.Options{
		TTL:             cfg.LicenseTTL,
		TrialDays:       cfg.TrialDays,
		SuperAdminEmail: cfg.SuperAdminEmail,
	}, logger, m)

	return &Services{
		Auth:        auth,
		Sessions:    sessions,
		Admin:       adminservices.NewAdminService(db, sessions, auth, c, logger),
		License:     licenses,
		Roster:      rosterservices.NewRosterService(db, c, notify, cfg.MembersTTL, logger, m),
		Permissions: permissionservices.NewPermissionService(db, licenses, c, cfg.PermissionsTTL, logger, m),
	}
}

// Run запускает HTTP и gRPC серверы и ждёт отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.notifier.Start()

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	go func() {
		a.logger.Info("gRPC server listening on", slog.String("address", a.listener.Addr().String()))
		errCh <- a.grpcServer.Serve(a.listener)
	}()
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}
	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	a.logger.Info("shutting down gracefully")
	a.health.Shutdown()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("http shutdown failed", sl.Err(err))
	}
	a.grpcServer.GracefulStop()

	// Уведомления дописываются в канал до его закрытия.
	a.notifier.Close()
	if err := a.amqpCh.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.amqpConn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close cache", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}

// readiness проверяет зависимости для /health.
type readiness struct {
	db    *storage.Storage
	cache *cache.Cache
}

func (r readiness) Check(ctx context.Context) map[string]error {
	return map[string]error{
		"postgres": r.db.Ping(ctx),
		"redis":    r.cache.Ping(ctx),
	}
}
