package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/members/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/members/"+id, nil))
		require.Equal(t, http.StatusNoContent, rr.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/members/{id}", "204")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestDomainCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Login("web", nil)
	m.Login("web", errors.New("bad password"))
	m.SessionsInvalidated("sso", 2)
	m.SessionsInvalidated("sso", 0)
	m.RosterChange("add", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("web", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("web", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsInvalidated.WithLabelValues("sso")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rosterChanges.WithLabelValues("add", "ok")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Login("web", nil)
		m.CacheError("get")
		m.Notification("welcome", nil)
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	rr := httptest.NewRecorder()
	m.Instrument(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
