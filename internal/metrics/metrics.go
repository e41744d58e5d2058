// Package metrics содержит метрики Prometheus сервиса. Все методы
// безопасно вызывать на nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tenant_auth"

// Metrics набор счётчиков HTTP и предметной области.
type Metrics struct {
	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logins              *prometheus.CounterVec
	sessionsInvalidated *prometheus.CounterVec
	rosterChanges       *prometheus.CounterVec
	permissionWrites    *prometheus.CounterVec
	licenseRequests     *prometheus.CounterVec
	cacheErrors         *prometheus.CounterVec
	notifications       *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by platform and result.",
		}, []string{"platform", "result"}),
		sessionsInvalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_invalidated_total",
			Help:      "Sessions deactivated by reason.",
		}, []string{"reason"}),
		rosterChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_changes_total",
			Help:      "Roster changes by action and result.",
		}, []string{"action", "result"}),
		permissionWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_writes_total",
			Help:      "Permission writes by action and result.",
		}, []string{"action", "result"}),
		licenseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_requests_total",
			Help:      "License requests by status.",
		}, []string{"status"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache operations that failed and were treated as a miss.",
		}, []string{"op"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by template and result.",
		}, []string{"template", "result"}),
	}
	reg.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.logins, m.sessionsInvalidated, m.rosterChanges, m.permissionWrites,
		m.licenseRequests, m.cacheErrors, m.notifications,
	)
	return m
}

// Result переводит ошибку операции в значение метки result.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Login(platform string, err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(platform, Result(err)).Inc()
}

func (m *Metrics) SessionsInvalidated(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsInvalidated.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RosterChange(action string, err error) {
	if m == nil {
		return
	}
	m.rosterChanges.WithLabelValues(action, Result(err)).Inc()
}

func (m *Metrics) PermissionWrite(action string, err error) {
	if m == nil {
		return
	}
	m.permissionWrites.WithLabelValues(action, Result(err)).Inc()
}

func (m *Metrics) LicenseRequest(status string) {
	if m == nil {
		return
	}
	m.licenseRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Notification(template string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(template, Result(err)).Inc()
}

// Instrument middleware для измерения запросов. Путь берётся из шаблона
// маршрута chi, чтобы идентификаторы не попадали в метки.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		code := strconv.Itoa(status)
		m.httpRequestDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, code).Inc()
	})
}
