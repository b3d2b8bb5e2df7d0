// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration with sensible defaults for
// all settings. Values come from three layers: built-in defaults, an optional
// YAML file named by BULKHEAD_CONFIG_FILE, and environment variables on top.
//
// # Configuration Structure
//
// Server settings:
//
//	BULKHEAD_HOST="0.0.0.0"
//	BULKHEAD_PORT="8080"
//	BULKHEAD_HEALTH_PORT="9090"
//	BULKHEAD_READ_TIMEOUT="15s"
//	BULKHEAD_WRITE_TIMEOUT="15s"
//	BULKHEAD_SHUTDOWN_TIMEOUT="30s"
//	BULKHEAD_RATE_LIMIT_ENABLED="false"
//
// Database settings:
//
//	BULKHEAD_POSTGRES_URL="postgres://localhost/bulkhead"
//	BULKHEAD_POSTGRES_MAX_CONNS="25"
//	BULKHEAD_POSTGRES_TIMEOUT="5s"
//
// Redis settings (optional, speeds up tenant resolution):
//
//	BULKHEAD_REDIS_URL="localhost:6379"
//	BULKHEAD_REDIS_POOL_SIZE="10"
//
// Auth settings (at least one of HMAC secret, RSA key file, or JWKS URL):
//
//	BULKHEAD_AUTH_HMAC_SECRET="..."
//	BULKHEAD_AUTH_RSA_PUBLIC_KEY_FILE="/etc/bulkhead/jwt.pem"
//	BULKHEAD_AUTH_JWKS_URL="https://issuer.example.com/.well-known/jwks.json"
//	BULKHEAD_AUTH_ISSUER="https://issuer.example.com"
//	BULKHEAD_AUTH_AUDIENCE="bulkhead"
//	BULKHEAD_AUTH_LEEWAY="30s"
//	BULKHEAD_AUTH_TENANT_CLAIM="tenant_id"
//	BULKHEAD_AUTH_SUPER_ADMIN_ROLE="super_admin"
//
// Tenancy settings:
//
//	BULKHEAD_TENANT_HEADER="X-Tenant-ID"
//	BULKHEAD_TENANT_SLUG_PREFIX="/v1/public"
//	BULKHEAD_TENANT_RESOLVE_TIMEOUT="2s"
//	BULKHEAD_TENANT_CACHE_TTL="5m"
//	BULKHEAD_TENANT_STRICT_MATCH="false"
//
// Audit settings:
//
//	BULKHEAD_AUDIT_BACKENDS="postgres,file"
//	BULKHEAD_AUDIT_FILE_PATH="/var/log/bulkhead/audit.log"
//	BULKHEAD_AUDIT_RETENTION_DAYS="90"
//	BULKHEAD_AUDIT_ARCHIVE_ENABLED="false"
//	BULKHEAD_AUDIT_ARCHIVE_BUCKET="bulkhead-audit-archive"
//
// Observability settings:
//
//	BULKHEAD_LOG_LEVEL="info"  # debug, info, warn, error
//	BULKHEAD_METRICS_ENABLED="true"
//	BULKHEAD_OTEL_ENABLED="false"
//	BULKHEAD_OTEL_ENDPOINT="otel-collector:4317"
//	BULKHEAD_OTEL_SAMPLE_RATIO="0.25"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Tenant header: %s\n", cfg.Tenancy.HeaderName)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/auth: Uses auth configuration
//   - pkg/tenancy: Uses tenancy configuration
//   - pkg/audit: Uses audit configuration
//   - pkg/observability: Uses observability configuration
package config
