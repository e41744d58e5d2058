package auth

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/tenant-auth/internal/config"
	adminhandlers "github.com/magabrotheeeer/tenant-auth/internal/http/handlers/admin"
	authhandlers "github.com/magabrotheeeer/tenant-auth/internal/http/handlers/auth"
	healthhandler "github.com/magabrotheeeer/tenant-auth/internal/http/handlers/health"
	licensehandlers "github.com/magabrotheeeer/tenant-auth/internal/http/handlers/license"
	"github.com/magabrotheeeer/tenant-auth/internal/http/handlers/members"
	"github.com/magabrotheeeer/tenant-auth/internal/http/handlers/permissions"
	"github.com/magabrotheeeer/tenant-auth/internal/http/middlewarectx"
	"github.com/magabrotheeeer/tenant-auth/internal/metrics"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, svc *Services, m *metrics.Metrics,
	cfg config.HTTPServer, checker healthhandler.Checker) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		m.Instrument,
	)

	authH := authhandlers.New(logger, svc.Auth)
	licenseH := licensehandlers.New(logger, svc.License)
	membersH := members.New(logger, svc.Roster)
	permissionsH := permissions.New(logger, svc.Permissions, svc.Roster)
	adminH := adminhandlers.New(logger, svc.Admin, svc.License)

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimit(limiter, logger))
			r.Post("/auth/register", authH.Register)
			r.Post("/auth/login", authH.Login)
			r.Post("/auth/google", authH.Google)
			r.Post("/auth/refresh", authH.Refresh)
			r.Post("/auth/password/forgot", authH.ForgotPassword)
			r.Post("/auth/password/reset", authH.ResetPassword)
		})

		// Группа с аутентификацией по access-токену
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.Authenticate(svc.Auth, logger))

			r.Post("/auth/logout", authH.Logout)
			r.Get("/auth/sessions", authH.Sessions)
			r.Get("/auth/me", authH.Me)
			r.Patch("/auth/me", authH.UpdateMe)
			r.Delete("/auth/me", authH.DeleteMe)

			r.Get("/license", licenseH.Get)
			r.Post("/license/requests", licenseH.Submit)
			r.Get("/license/requests/pending", licenseH.Pending)
			r.Delete("/license/requests/pending", licenseH.Cancel)

			r.Get("/members", membersH.List)
			r.Post("/members", membersH.Add)
			r.Get("/members/membership", membersH.Membership)
			r.Post("/members/leave", membersH.Leave)
			r.Delete("/members/{memberID}", membersH.Remove)

			r.Get("/permissions", permissionsH.ListAll)
			r.Get("/permissions/vocabulary", permissionsH.Vocabulary)
			r.Get("/permissions/me", permissionsH.Mine)
			r.Get("/permissions/{memberID}", permissionsH.Get)
			r.Put("/permissions/{memberID}", permissionsH.Set)
			r.Post("/permissions/{memberID}/grant", permissionsH.Grant)
			r.Post("/permissions/{memberID}/revoke", permissionsH.Revoke)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middlewarectx.RequireRole(logger, models.RoleAdmin, models.RoleSuperAdmin))
				r.Get("/users", adminH.ListUsers)
				r.Patch("/users/{id}/status", adminH.SetStatus)
				r.Delete("/users/{id}", adminH.DeleteUser)
				r.Delete("/users/{id}/sessions", adminH.TerminateUserSessions)
				r.Get("/users/{id}/login-logs", adminH.LoginLogs)
				r.Get("/sessions", adminH.ListSessions)
				r.Delete("/sessions/{id}", adminH.TerminateSession)
				r.Get("/stats/users", adminH.UserStats)
				r.Get("/stats/sessions", adminH.SessionStats)

				// Роли и лицензии выдаёт только суперадминистратор
				r.Group(func(r chi.Router) {
					r.Use(middlewarectx.RequireRole(logger, models.RoleSuperAdmin))
					r.Patch("/users/{id}/role", adminH.SetRole)
					r.Get("/license-requests", adminH.ListRequests)
					r.Post("/license-requests/{id}", adminH.ProcessRequest)
				})
			})
		})
	})

	r.Get("/docs/*", httpSwagger.WrapHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", healthhandler.New(logger, checker).ServeHTTP)
}
