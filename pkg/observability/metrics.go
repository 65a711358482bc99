package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginsTotal             *prometheus.CounterVec
	RegistrationsTotal      *prometheus.CounterVec
	TokenIssuedTotal        *prometheus.CounterVec
	TokenVerificationsTotal *prometheus.CounterVec
	RefreshRotationsTotal   *prometheus.CounterVec
	SessionsRevokedTotal    *prometheus.CounterVec
	ActiveSessionsGauge     prometheus.Gauge

	// Permission metrics
	PermissionChecksTotal  *prometheus.CounterVec
	PermissionCacheHits    *prometheus.CounterVec
	PermissionCacheMisses  *prometheus.CounterVec
	PermissionInvalidation prometheus.Counter

	// Rate limit metrics
	RateLimitRejectionsTotal *prometheus.CounterVec
	RateLimitFailOpenTotal   prometheus.Counter

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge

	// Cache metrics
	CacheCommandsTotal   *prometheus.CounterVec
	CacheCommandDuration *prometheus.HistogramVec
	CacheErrorsTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_logins_total",
				Help: "Total number of login attempts",
			},
			[]string{"status"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_registrations_total",
				Help: "Total number of registration attempts",
			},
			[]string{"status"},
		),
		TokenIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_tokens_issued_total",
				Help: "Total number of tokens issued",
			},
			[]string{"type"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_token_verifications_total",
				Help: "Total number of token verifications",
			},
			[]string{"type", "status"},
		),
		RefreshRotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_refresh_rotations_total",
				Help: "Total number of refresh token rotations",
			},
			[]string{"status"},
		),
		SessionsRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_sessions_revoked_total",
				Help: "Total number of session revocations",
			},
			[]string{"reason"},
		),
		ActiveSessionsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcore_active_sessions",
				Help: "Number of active sessions",
			},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"resource", "action", "decision"},
		),
		PermissionCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"layer"},
		),
		PermissionCacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"layer"},
		),
		PermissionInvalidation: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_permission_invalidations_total",
				Help: "Total number of per-user permission cache invalidations",
			},
		),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_ratelimit_rejections_total",
				Help: "Total number of rate-limited requests",
			},
			[]string{"class"},
		),
		RateLimitFailOpenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_ratelimit_fail_open_total",
				Help: "Requests allowed because the rate limiter backend was unavailable",
			},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_store_operations_total",
				Help: "Total number of persistent store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authcore_store_operation_duration_seconds",
				Help:    "Persistent store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_store_errors_total",
				Help: "Total number of persistent store errors",
			},
			[]string{"operation", "error_type"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcore_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcore_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		CacheCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_cache_commands_total",
				Help: "Total number of cache commands",
			},
			[]string{"command", "status"},
		),
		CacheCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authcore_cache_command_duration_seconds",
				Help:    "Cache command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_cache_errors_total",
				Help: "Total number of cache errors",
			},
			[]string{"command"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.RegistrationsTotal,
		m.TokenIssuedTotal,
		m.TokenVerificationsTotal,
		m.RefreshRotationsTotal,
		m.SessionsRevokedTotal,
		m.ActiveSessionsGauge,
		m.PermissionChecksTotal,
		m.PermissionCacheHits,
		m.PermissionCacheMisses,
		m.PermissionInvalidation,
		m.RateLimitRejectionsTotal,
		m.RateLimitFailOpenTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.CacheCommandsTotal,
		m.CacheCommandDuration,
		m.CacheErrorsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
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

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
