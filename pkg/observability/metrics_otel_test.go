package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) (*metric.MeterProvider, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)
	return provider, reader
}

// collectMetrics drains the manual reader into a ResourceMetrics snapshot
func collectMetrics(t *testing.T, reader *metric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}
	return rm
}

// findMetric reports whether a metric with the given name was recorded
func findMetric(rm metricdata.ResourceMetrics, name string) bool {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}

func TestNewOTelMetrics(t *testing.T) {
	provider, _ := setupTestMeterProvider(t)
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down provider: %v", err)
		}
	}()

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v, want nil", err)
	}

	if m == nil {
		t.Fatal("NewOTelMetrics() returned nil metrics")
	}

	// Verify that all metric instruments are initialized
	if m.httpRequestsTotal == nil {
		t.Error("httpRequestsTotal is nil")
	}
	if m.httpRequestDuration == nil {
		t.Error("httpRequestDuration is nil")
	}
	if m.httpRequestSize == nil {
		t.Error("httpRequestSize is nil")
	}
	if m.httpResponseSize == nil {
		t.Error("httpResponseSize is nil")
	}
	if m.dbConnectionsActive == nil {
		t.Error("dbConnectionsActive is nil")
	}
	if m.dbConnectionsIdle == nil {
		t.Error("dbConnectionsIdle is nil")
	}
	if m.dbQueryDuration == nil {
		t.Error("dbQueryDuration is nil")
	}
	if m.dbQueriesTotal == nil {
		t.Error("dbQueriesTotal is nil")
	}
	if m.cacheHitsTotal == nil {
		t.Error("cacheHitsTotal is nil")
	}
	if m.cacheMissesTotal == nil {
		t.Error("cacheMissesTotal is nil")
	}
	if m.decisionsTotal == nil {
		t.Error("decisionsTotal is nil")
	}
	if m.decisionDuration == nil {
		t.Error("decisionDuration is nil")
	}
	if m.resolutionsTotal == nil {
		t.Error("resolutionsTotal is nil")
	}
	if m.auditWritesTotal == nil {
		t.Error("auditWritesTotal is nil")
	}
	if m.scopeEscapesTotal == nil {
		t.Error("scopeEscapesTotal is nil")
	}
}

func TestOTelMetrics_RecordHTTPRequest(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		route        string
		statusCode   int
		duration     time.Duration
		requestSize  int64
		responseSize int64
	}{
		{
			name:         "successful GET request",
			method:       "GET",
			route:        "/v1/users",
			statusCode:   200,
			duration:     100 * time.Millisecond,
			requestSize:  0,
			responseSize: 1024,
		},
		{
			name:         "POST request with request body",
			method:       "POST",
			route:        "/v1/tenants",
			statusCode:   201,
			duration:     250 * time.Millisecond,
			requestSize:  512,
			responseSize: 256,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, reader := setupTestMeterProvider(t)
			defer func() {
				if err := provider.Shutdown(context.Background()); err != nil {
					t.Logf("Error shutting down provider: %v", err)
				}
			}()

			m, err := NewOTelMetrics()
			if err != nil {
				t.Fatalf("NewOTelMetrics() error = %v", err)
			}

			ctx := context.Background()
			m.RecordHTTPRequest(ctx, tt.method, tt.route, tt.statusCode, tt.duration, tt.requestSize, tt.responseSize)

			rm := collectMetrics(t, reader)

			if !findMetric(rm, "http.server.requests") {
				t.Error("HTTP request counter not recorded")
			}
			if !findMetric(rm, "http.server.duration") {
				t.Error("HTTP request duration not recorded")
			}
			if tt.requestSize > 0 && !findMetric(rm, "http.server.request.size") {
				t.Error("HTTP request size not recorded when requestSize > 0")
			}
			if tt.responseSize > 0 && !findMetric(rm, "http.server.response.size") {
				t.Error("HTTP response size not recorded when responseSize > 0")
			}
		})
	}
}

func TestOTelMetrics_RecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		err       error
	}{
		{"successful query", "select_user", nil},
		{"failed query", "update_user", errors.New("deadlock")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, reader := setupTestMeterProvider(t)
			defer provider.Shutdown(context.Background())

			m, err := NewOTelMetrics()
			if err != nil {
				t.Fatalf("NewOTelMetrics() error = %v", err)
			}

			m.RecordDBQuery(context.Background(), tt.operation, 5*time.Millisecond, tt.err)

			rm := collectMetrics(t, reader)
			if !findMetric(rm, "db.queries.total") {
				t.Error("DB query counter not recorded")
			}
			if !findMetric(rm, "db.query.duration") {
				t.Error("DB query duration not recorded")
			}
		})
	}
}

func TestOTelMetrics_RecordCacheHitAndMiss(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.RecordCacheHit(ctx, "tenant_lru")
	m.RecordCacheMiss(ctx, "tenant_redis")

	rm := collectMetrics(t, reader)
	if !findMetric(rm, "cache.hits.total") {
		t.Error("Cache hit counter not recorded")
	}
	if !findMetric(rm, "cache.misses.total") {
		t.Error("Cache miss counter not recorded")
	}
}

func TestOTelMetrics_RecordDecision(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	m.RecordDecision(context.Background(), "tenant_match", "deny", 2*time.Millisecond)

	rm := collectMetrics(t, reader)
	if !findMetric(rm, "access.decisions.total") {
		t.Error("Decision counter not recorded")
	}
	if !findMetric(rm, "access.decision.duration") {
		t.Error("Decision duration not recorded")
	}
}

func TestOTelMetrics_RecordTenantResolution(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	for _, source := range []string{"token", "header", "route", "none"} {
		m.RecordTenantResolution(context.Background(), source)
	}

	rm := collectMetrics(t, reader)
	if !findMetric(rm, "tenant.resolutions.total") {
		t.Error("Tenant resolution counter not recorded")
	}
}

func TestOTelMetrics_RecordAuditWrite(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	m.RecordAuditWrite(context.Background(), "postgres", nil)
	m.RecordAuditWrite(context.Background(), "file", errors.New("disk full"))

	rm := collectMetrics(t, reader)
	if !findMetric(rm, "audit.writes.total") {
		t.Error("Audit write counter not recorded")
	}
}

func TestOTelMetrics_RecordScopeEscape(t *testing.T) {
	provider, reader := setupTestMeterProvider(t)
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	m.RecordScopeEscape(context.Background(), "users")

	rm := collectMetrics(t, reader)
	if !findMetric(rm, "gateway.scope.escapes.total") {
		t.Error("Scope escape counter not recorded")
	}
}
