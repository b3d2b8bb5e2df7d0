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
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Access decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DenialsTotal     *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec

	// Tenant resolution metrics
	TenantResolutionsTotal *prometheus.CounterVec

	// Authentication metrics
	AuthenticationsTotal      *prometheus.CounterVec
	TokenVerificationDuration *prometheus.HistogramVec

	// Gateway metrics
	GatewayOperationsTotal    *prometheus.CounterVec
	GatewayOperationDuration  *prometheus.HistogramVec
	ScopeViolationsTotal      prometheus.Counter
	EscapeHatchTotal          prometheus.Counter
	OptimisticConflictsTotal  prometheus.Counter

	// Audit metrics
	AuditWritesTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkhead_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkhead_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkhead_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Access decision metrics
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_access_decisions_total",
				Help: "Total number of access pipeline decisions",
			},
			[]string{"guard", "outcome"},
		),
		DenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_access_denials_total",
				Help: "Total number of access denials by reason",
			},
			[]string{"reason"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkhead_access_decision_duration_seconds",
				Help:    "Access pipeline evaluation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
			},
			[]string{"outcome"},
		),

		// Tenant resolution metrics
		TenantResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_tenant_resolutions_total",
				Help: "Total number of tenant resolutions by source",
			},
			[]string{"source"},
		),

		// Authentication metrics
		AuthenticationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_authentications_total",
				Help: "Total number of credential verifications",
			},
			[]string{"result"},
		),
		TokenVerificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkhead_token_verification_duration_seconds",
				Help:    "Credential verification duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5},
			},
			[]string{"verifier"},
		),

		// Gateway metrics
		GatewayOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_gateway_operations_total",
				Help: "Total number of data gateway operations",
			},
			[]string{"entity", "operation", "status"},
		),
		GatewayOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bulkhead_gateway_operation_duration_seconds",
				Help:    "Data gateway operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entity", "operation"},
		),
		ScopeViolationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkhead_gateway_scope_violations_total",
				Help: "Total number of tenant scope violations rejected by the gateway",
			},
		),
		EscapeHatchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkhead_gateway_escape_hatch_total",
				Help: "Total number of unscoped gateway invocations via the escape hatch",
			},
		),
		OptimisticConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bulkhead_gateway_optimistic_conflicts_total",
				Help: "Total number of version conflicts detected on update",
			},
		),

		// Audit metrics
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_audit_writes_total",
				Help: "Total number of audit entry writes",
			},
			[]string{"backend", "status"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkhead_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkhead_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkhead_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		// Redis metrics
		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkhead_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.DecisionsTotal,
		m.DenialsTotal,
		m.DecisionDuration,
		m.TenantResolutionsTotal,
		m.AuthenticationsTotal,
		m.TokenVerificationDuration,
		m.GatewayOperationsTotal,
		m.GatewayOperationDuration,
		m.ScopeViolationsTotal,
		m.EscapeHatchTotal,
		m.OptimisticConflictsTotal,
		m.AuditWritesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RedisConnectionsActive,
	)

	return m
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

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
