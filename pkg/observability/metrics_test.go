package observability

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Helpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveLink("commit", "committed", 20*time.Millisecond)
	m.ObserveLink("commit", "committed", 30*time.Millisecond)
	m.AddMigrated(3)
	m.AddMigrated(0)
	m.IncLeaseContention()
	m.IncSessionIssued("anonymous")
	m.IncSessionResolve("redirected")
	m.IncAnonymousCreated()
	m.ObserveCache("session", true)
	m.ObserveCache("session", false)
	m.AddJanitorRemoved("sessions", 4)
	m.RecordDBStats(sql.DBStats{InUse: 2, Idle: 1, WaitCount: 7})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LinkOperationsTotal.WithLabelValues("commit", "committed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LinkResourcesMigrated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LeaseContentionTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsIssuedTotal.WithLabelValues("anonymous")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionResolvesTotal.WithLabelValues("redirected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnonymousCreatedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("session")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.JanitorRemovedTotal.WithLabelValues("sessions")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DBConnectionsActive))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.DBWaitCount))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLink("begin", "pending", time.Millisecond)
	m.AddMigrated(1)
	m.IncLeaseContention()
	m.IncSessionIssued("signin")
	m.IncSessionResolve("ok")
	m.IncAnonymousCreated()
	m.ObserveCache("session", true)
	m.AddJanitorRemoved("links", 1)
	m.RecordDBStats(sql.DBStats{})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/identity/link/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/identity/link/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/identity/link/{id}", "404")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.IncAnonymousCreated()

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "idlink_anonymous_identities_created_total 1"))
}
