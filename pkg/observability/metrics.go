package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Linking metrics
	LinkOperationsTotal   *prometheus.CounterVec
	LinkOperationDuration *prometheus.HistogramVec
	LinkResourcesMigrated prometheus.Counter
	LeaseContentionTotal  prometheus.Counter

	// Session metrics
	SessionsIssuedTotal   *prometheus.CounterVec
	SessionResolvesTotal  *prometheus.CounterVec
	AnonymousCreatedTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBWaitCount         prometheus.Gauge

	// Janitor metrics
	JanitorRemovedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idlink_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idlink_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		LinkOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_link_operations_total",
				Help: "Link operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		LinkOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idlink_link_operation_duration_seconds",
				Help:    "Link operation duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		LinkResourcesMigrated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idlink_link_resources_migrated_total",
				Help: "Owned resources re-pointed by committed links",
			},
		),
		LeaseContentionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idlink_lease_contention_total",
				Help: "Link commits refused because another owner held the lease",
			},
		),

		SessionsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_sessions_issued_total",
				Help: "Sessions issued by flow",
			},
			[]string{"flow"},
		),
		SessionResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_session_resolves_total",
				Help: "Session resolutions by outcome",
			},
			[]string{"outcome"},
		),
		AnonymousCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idlink_anonymous_identities_created_total",
				Help: "Anonymous identities created",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		JanitorRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_janitor_removed_total",
				Help: "Rows removed or reaped by the janitor",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.LinkOperationsTotal,
		m.LinkOperationDuration,
		m.LinkResourcesMigrated,
		m.LeaseContentionTotal,
		m.SessionsIssuedTotal,
		m.SessionResolvesTotal,
		m.AnonymousCreatedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBWaitCount,
		m.JanitorRemovedTotal,
	)

	return m
}

// ObserveLink records one link operation
func (m *Metrics) ObserveLink(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LinkOperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.LinkOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// AddMigrated counts re-pointed resources
func (m *Metrics) AddMigrated(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.LinkResourcesMigrated.Add(float64(n))
}

// IncLeaseContention counts a refused lease
func (m *Metrics) IncLeaseContention() {
	if m == nil {
		return
	}
	m.LeaseContentionTotal.Inc()
}

// IncSessionIssued counts a session issued by flow
func (m *Metrics) IncSessionIssued(flow string) {
	if m == nil {
		return
	}
	m.SessionsIssuedTotal.WithLabelValues(flow).Inc()
}

// IncSessionResolve counts a session resolution by outcome
func (m *Metrics) IncSessionResolve(outcome string) {
	if m == nil {
		return
	}
	m.SessionResolvesTotal.WithLabelValues(outcome).Inc()
}

// IncAnonymousCreated counts a new anonymous identity
func (m *Metrics) IncAnonymousCreated() {
	if m == nil {
		return
	}
	m.AnonymousCreatedTotal.Inc()
}

// ObserveCache records a cache lookup
func (m *Metrics) ObserveCache(cacheType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// AddJanitorRemoved counts rows cleaned up by the janitor
func (m *Metrics) AddJanitorRemoved(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.JanitorRemovedTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordDBStats copies connection pool stats into gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux route template so ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			if metrics == nil {
				return
			}
			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
