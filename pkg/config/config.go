package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Auth configuration
	Auth AuthConfig

	// Tenancy configuration
	Tenancy TenancyConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Rate limiting of the API, keyed by tenant, then principal, then
	// client IP. Redis-backed when Redis is configured.
	RateLimitEnabled bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// RedisConfig holds Redis configuration. Redis is optional; an empty URL
// disables the tier-2 tenant cache.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds credential verification configuration. Exactly which
// verifier runs depends on which of HMACSecret, RSAPublicKeyFile, and
// JWKSURL are set; at least one is required.
type AuthConfig struct {
	HMACSecret          string
	RSAPublicKeyFile    string
	JWKSURL             string
	JWKSRefreshInterval time.Duration

	Issuer   string
	Audience string
	Leeway   time.Duration

	// Claim names
	UserClaim   string
	TenantClaim string
	RolesClaim  string

	// Role name that bypasses the role guard
	SuperAdminRole string

	// Upper bound on a single credential verification
	VerifyTimeout time.Duration
}

// TenancyConfig holds tenant resolution configuration
type TenancyConfig struct {
	// Header carrying an explicit tenant id
	HeaderName string

	// Route prefix for public slug-addressed routes
	PublicSlugPrefix string

	// Upper bound on a single resolution, slug lookup included
	ResolveTimeout time.Duration

	// Slug cache
	CacheTTL  time.Duration
	CacheSize int

	// Reject header/slug-resolved tenants on authenticated routes
	StrictTenantMatch bool
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	// Backends to write to: postgres, file
	Backends []string

	FilePath      string
	FileMaxSizeMB int

	// Upper bound on a single audit write, detached from the request
	WriteTimeout time.Duration

	// Retention
	RetentionDays int

	// S3 archive of expired entries before pruning
	ArchiveEnabled bool
	ArchiveBucket  string
	ArchivePrefix  string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration: defaults, then the optional YAML file
// named by BULKHEAD_CONFIG_FILE, then environment variables on top.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("BULKHEAD_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns the built-in defaults
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Auth: AuthConfig{
			JWKSRefreshInterval: 15 * time.Minute,
			Leeway:              30 * time.Second,
			UserClaim:           "sub",
			TenantClaim:         "tenant_id",
			RolesClaim:          "roles",
			SuperAdminRole:      "super_admin",
			VerifyTimeout:       5 * time.Second,
		},
		Tenancy: TenancyConfig{
			HeaderName:       "X-Tenant-ID",
			PublicSlugPrefix: "/v1/public",
			ResolveTimeout:   2 * time.Second,
			CacheTTL:         5 * time.Minute,
			CacheSize:        1024,
		},
		Audit: AuditConfig{
			Backends:      []string{"postgres"},
			FilePath:      "/var/log/bulkhead/audit.log",
			FileMaxSizeMB: 100,
			WriteTimeout:  3 * time.Second,
			RetentionDays: 90,
			ArchivePrefix: "audit",
			S3Region:      "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "bulkhead-api",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// applyEnv overlays environment variables, using the current values as
// defaults so the file layer survives where no variable is set.
func (c *Config) applyEnv() {
	// Server
	c.Server.Host = getEnv("BULKHEAD_HOST", c.Server.Host)
	c.Server.Port = getEnv("BULKHEAD_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("BULKHEAD_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("BULKHEAD_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("BULKHEAD_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("BULKHEAD_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("BULKHEAD_HEALTH_PORT", c.Server.HealthPort)
	c.Server.RateLimitEnabled = getEnvBool("BULKHEAD_RATE_LIMIT_ENABLED", c.Server.RateLimitEnabled)

	// Database
	c.Database.URL = getEnv("BULKHEAD_POSTGRES_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("BULKHEAD_POSTGRES_MAX_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("BULKHEAD_POSTGRES_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("BULKHEAD_POSTGRES_CONN_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.QueryTimeout = getEnvDuration("BULKHEAD_POSTGRES_TIMEOUT", c.Database.QueryTimeout)

	// Redis
	c.Redis.URL = getEnv("BULKHEAD_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("BULKHEAD_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("BULKHEAD_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("BULKHEAD_REDIS_POOL_SIZE", c.Redis.PoolSize)

	// Auth
	c.Auth.HMACSecret = getEnv("BULKHEAD_AUTH_HMAC_SECRET", c.Auth.HMACSecret)
	c.Auth.RSAPublicKeyFile = getEnv("BULKHEAD_AUTH_RSA_PUBLIC_KEY_FILE", c.Auth.RSAPublicKeyFile)
	c.Auth.JWKSURL = getEnv("BULKHEAD_AUTH_JWKS_URL", c.Auth.JWKSURL)
	c.Auth.JWKSRefreshInterval = getEnvDuration("BULKHEAD_AUTH_JWKS_REFRESH_INTERVAL", c.Auth.JWKSRefreshInterval)
	c.Auth.Issuer = getEnv("BULKHEAD_AUTH_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = getEnv("BULKHEAD_AUTH_AUDIENCE", c.Auth.Audience)
	c.Auth.Leeway = getEnvDuration("BULKHEAD_AUTH_LEEWAY", c.Auth.Leeway)
	c.Auth.UserClaim = getEnv("BULKHEAD_AUTH_USER_CLAIM", c.Auth.UserClaim)
	c.Auth.TenantClaim = getEnv("BULKHEAD_AUTH_TENANT_CLAIM", c.Auth.TenantClaim)
	c.Auth.RolesClaim = getEnv("BULKHEAD_AUTH_ROLES_CLAIM", c.Auth.RolesClaim)
	c.Auth.SuperAdminRole = getEnv("BULKHEAD_AUTH_SUPER_ADMIN_ROLE", c.Auth.SuperAdminRole)
	c.Auth.VerifyTimeout = getEnvDuration("BULKHEAD_AUTH_VERIFY_TIMEOUT", c.Auth.VerifyTimeout)

	// Tenancy
	c.Tenancy.HeaderName = getEnv("BULKHEAD_TENANT_HEADER", c.Tenancy.HeaderName)
	c.Tenancy.PublicSlugPrefix = getEnv("BULKHEAD_TENANT_SLUG_PREFIX", c.Tenancy.PublicSlugPrefix)
	c.Tenancy.ResolveTimeout = getEnvDuration("BULKHEAD_TENANT_RESOLVE_TIMEOUT", c.Tenancy.ResolveTimeout)
	c.Tenancy.CacheTTL = getEnvDuration("BULKHEAD_TENANT_CACHE_TTL", c.Tenancy.CacheTTL)
	c.Tenancy.CacheSize = getEnvInt("BULKHEAD_TENANT_CACHE_SIZE", c.Tenancy.CacheSize)
	c.Tenancy.StrictTenantMatch = getEnvBool("BULKHEAD_TENANT_STRICT_MATCH", c.Tenancy.StrictTenantMatch)

	// Audit
	if backends := getEnv("BULKHEAD_AUDIT_BACKENDS", ""); backends != "" {
		c.Audit.Backends = splitAndTrim(backends)
	}
	c.Audit.FilePath = getEnv("BULKHEAD_AUDIT_FILE_PATH", c.Audit.FilePath)
	c.Audit.FileMaxSizeMB = getEnvInt("BULKHEAD_AUDIT_FILE_MAX_SIZE_MB", c.Audit.FileMaxSizeMB)
	c.Audit.WriteTimeout = getEnvDuration("BULKHEAD_AUDIT_WRITE_TIMEOUT", c.Audit.WriteTimeout)
	c.Audit.RetentionDays = getEnvInt("BULKHEAD_AUDIT_RETENTION_DAYS", c.Audit.RetentionDays)
	c.Audit.ArchiveEnabled = getEnvBool("BULKHEAD_AUDIT_ARCHIVE_ENABLED", c.Audit.ArchiveEnabled)
	c.Audit.ArchiveBucket = getEnv("BULKHEAD_AUDIT_ARCHIVE_BUCKET", c.Audit.ArchiveBucket)
	c.Audit.ArchivePrefix = getEnv("BULKHEAD_AUDIT_ARCHIVE_PREFIX", c.Audit.ArchivePrefix)
	c.Audit.S3Region = getEnv("BULKHEAD_AUDIT_S3_REGION", c.Audit.S3Region)
	c.Audit.S3Endpoint = getEnv("BULKHEAD_AUDIT_S3_ENDPOINT", c.Audit.S3Endpoint)
	c.Audit.S3AccessKey = getEnv("BULKHEAD_AUDIT_S3_ACCESS_KEY", c.Audit.S3AccessKey)
	c.Audit.S3SecretKey = getEnv("BULKHEAD_AUDIT_S3_SECRET_KEY", c.Audit.S3SecretKey)
	c.Audit.S3UsePathStyle = getEnvBool("BULKHEAD_AUDIT_S3_USE_PATH_STYLE", c.Audit.S3UsePathStyle)

	// Observability
	if level := getEnv("BULKHEAD_LOG_LEVEL", ""); level != "" {
		c.Observability.LogLevel = observability.ParseLevel(level)
	}
	c.Observability.MetricsEnabled = getEnvBool("BULKHEAD_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("BULKHEAD_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("BULKHEAD_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("BULKHEAD_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("BULKHEAD_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("BULKHEAD_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("BULKHEAD_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// fileConfig mirrors Config for the YAML layer. Pointer fields
// distinguish "absent" from zero values; durations are strings.
type fileConfig struct {
	Server struct {
		Host             *string `yaml:"host"`
		Port             *string `yaml:"port"`
		ReadTimeout      *string `yaml:"read_timeout"`
		WriteTimeout     *string `yaml:"write_timeout"`
		IdleTimeout      *string `yaml:"idle_timeout"`
		ShutdownTimeout  *string `yaml:"shutdown_timeout"`
		HealthPort       *string `yaml:"health_port"`
		RateLimitEnabled *bool   `yaml:"rate_limit_enabled"`
	} `yaml:"server"`
	Database struct {
		URL             *string `yaml:"url"`
		MaxOpenConns    *int    `yaml:"max_open_conns"`
		MaxIdleConns    *int    `yaml:"max_idle_conns"`
		ConnMaxLifetime *string `yaml:"conn_max_lifetime"`
		QueryTimeout    *string `yaml:"query_timeout"`
	} `yaml:"database"`
	Redis struct {
		URL      *string `yaml:"url"`
		Password *string `yaml:"password"`
		DB       *int    `yaml:"db"`
		PoolSize *int    `yaml:"pool_size"`
	} `yaml:"redis"`
	Auth struct {
		HMACSecret          *string `yaml:"hmac_secret"`
		RSAPublicKeyFile    *string `yaml:"rsa_public_key_file"`
		JWKSURL             *string `yaml:"jwks_url"`
		JWKSRefreshInterval *string `yaml:"jwks_refresh_interval"`
		Issuer              *string `yaml:"issuer"`
		Audience            *string `yaml:"audience"`
		Leeway              *string `yaml:"leeway"`
		UserClaim           *string `yaml:"user_claim"`
		TenantClaim         *string `yaml:"tenant_claim"`
		RolesClaim          *string `yaml:"roles_claim"`
		SuperAdminRole      *string `yaml:"super_admin_role"`
		VerifyTimeout       *string `yaml:"verify_timeout"`
	} `yaml:"auth"`
	Tenancy struct {
		HeaderName        *string `yaml:"header_name"`
		PublicSlugPrefix  *string `yaml:"public_slug_prefix"`
		ResolveTimeout    *string `yaml:"resolve_timeout"`
		CacheTTL          *string `yaml:"cache_ttl"`
		CacheSize         *int    `yaml:"cache_size"`
		StrictTenantMatch *bool   `yaml:"strict_tenant_match"`
	} `yaml:"tenancy"`
	Audit struct {
		Backends       []string `yaml:"backends"`
		FilePath       *string  `yaml:"file_path"`
		FileMaxSizeMB  *int     `yaml:"file_max_size_mb"`
		WriteTimeout   *string  `yaml:"write_timeout"`
		RetentionDays  *int     `yaml:"retention_days"`
		ArchiveEnabled *bool    `yaml:"archive_enabled"`
		ArchiveBucket  *string  `yaml:"archive_bucket"`
		ArchivePrefix  *string  `yaml:"archive_prefix"`
		S3Region       *string  `yaml:"s3_region"`
		S3Endpoint     *string  `yaml:"s3_endpoint"`
		S3AccessKey    *string  `yaml:"s3_access_key"`
		S3SecretKey    *string  `yaml:"s3_secret_key"`
		S3UsePathStyle *bool    `yaml:"s3_use_path_style"`
	} `yaml:"audit"`
	Observability struct {
		LogLevel           *string  `yaml:"log_level"`
		MetricsEnabled     *bool    `yaml:"metrics_enabled"`
		OTelEnabled        *bool    `yaml:"otel_enabled"`
		OTelEndpoint       *string  `yaml:"otel_endpoint"`
		OTelServiceName    *string  `yaml:"otel_service_name"`
		OTelServiceVersion *string  `yaml:"otel_service_version"`
		OTelInsecure       *bool    `yaml:"otel_insecure"`
		OTelSampleRatio    *float64 `yaml:"otel_sample_ratio"`
	} `yaml:"observability"`
}

// applyFile overlays values from a YAML file onto the config
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	setString(&c.Server.Host, fc.Server.Host)
	setString(&c.Server.Port, fc.Server.Port)
	if err := setDuration(&c.Server.ReadTimeout, fc.Server.ReadTimeout); err != nil {
		return fmt.Errorf("server.read_timeout: %w", err)
	}
	if err := setDuration(&c.Server.WriteTimeout, fc.Server.WriteTimeout); err != nil {
		return fmt.Errorf("server.write_timeout: %w", err)
	}
	if err := setDuration(&c.Server.IdleTimeout, fc.Server.IdleTimeout); err != nil {
		return fmt.Errorf("server.idle_timeout: %w", err)
	}
	if err := setDuration(&c.Server.ShutdownTimeout, fc.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	setString(&c.Server.HealthPort, fc.Server.HealthPort)
	setBool(&c.Server.RateLimitEnabled, fc.Server.RateLimitEnabled)

	setString(&c.Database.URL, fc.Database.URL)
	setInt(&c.Database.MaxOpenConns, fc.Database.MaxOpenConns)
	setInt(&c.Database.MaxIdleConns, fc.Database.MaxIdleConns)
	if err := setDuration(&c.Database.ConnMaxLifetime, fc.Database.ConnMaxLifetime); err != nil {
		return fmt.Errorf("database.conn_max_lifetime: %w", err)
	}
	if err := setDuration(&c.Database.QueryTimeout, fc.Database.QueryTimeout); err != nil {
		return fmt.Errorf("database.query_timeout: %w", err)
	}

	setString(&c.Redis.URL, fc.Redis.URL)
	setString(&c.Redis.Password, fc.Redis.Password)
	setInt(&c.Redis.DB, fc.Redis.DB)
	setInt(&c.Redis.PoolSize, fc.Redis.PoolSize)

	setString(&c.Auth.HMACSecret, fc.Auth.HMACSecret)
	setString(&c.Auth.RSAPublicKeyFile, fc.Auth.RSAPublicKeyFile)
	setString(&c.Auth.JWKSURL, fc.Auth.JWKSURL)
	if err := setDuration(&c.Auth.JWKSRefreshInterval, fc.Auth.JWKSRefreshInterval); err != nil {
		return fmt.Errorf("auth.jwks_refresh_interval: %w", err)
	}
	setString(&c.Auth.Issuer, fc.Auth.Issuer)
	setString(&c.Auth.Audience, fc.Auth.Audience)
	if err := setDuration(&c.Auth.Leeway, fc.Auth.Leeway); err != nil {
		return fmt.Errorf("auth.leeway: %w", err)
	}
	setString(&c.Auth.UserClaim, fc.Auth.UserClaim)
	setString(&c.Auth.TenantClaim, fc.Auth.TenantClaim)
	setString(&c.Auth.RolesClaim, fc.Auth.RolesClaim)
	setString(&c.Auth.SuperAdminRole, fc.Auth.SuperAdminRole)
	if err := setDuration(&c.Auth.VerifyTimeout, fc.Auth.VerifyTimeout); err != nil {
		return fmt.Errorf("auth.verify_timeout: %w", err)
	}

	setString(&c.Tenancy.HeaderName, fc.Tenancy.HeaderName)
	setString(&c.Tenancy.PublicSlugPrefix, fc.Tenancy.PublicSlugPrefix)
	if err := setDuration(&c.Tenancy.ResolveTimeout, fc.Tenancy.ResolveTimeout); err != nil {
		return fmt.Errorf("tenancy.resolve_timeout: %w", err)
	}
	if err := setDuration(&c.Tenancy.CacheTTL, fc.Tenancy.CacheTTL); err != nil {
		return fmt.Errorf("tenancy.cache_ttl: %w", err)
	}
	setInt(&c.Tenancy.CacheSize, fc.Tenancy.CacheSize)
	setBool(&c.Tenancy.StrictTenantMatch, fc.Tenancy.StrictTenantMatch)

	if len(fc.Audit.Backends) > 0 {
		c.Audit.Backends = fc.Audit.Backends
	}
	setString(&c.Audit.FilePath, fc.Audit.FilePath)
	setInt(&c.Audit.FileMaxSizeMB, fc.Audit.FileMaxSizeMB)
	if err := setDuration(&c.Audit.WriteTimeout, fc.Audit.WriteTimeout); err != nil {
		return fmt.Errorf("audit.write_timeout: %w", err)
	}
	setInt(&c.Audit.RetentionDays, fc.Audit.RetentionDays)
	setBool(&c.Audit.ArchiveEnabled, fc.Audit.ArchiveEnabled)
	setString(&c.Audit.ArchiveBucket, fc.Audit.ArchiveBucket)
	setString(&c.Audit.ArchivePrefix, fc.Audit.ArchivePrefix)
	setString(&c.Audit.S3Region, fc.Audit.S3Region)
	setString(&c.Audit.S3Endpoint, fc.Audit.S3Endpoint)
	setString(&c.Audit.S3AccessKey, fc.Audit.S3AccessKey)
	setString(&c.Audit.S3SecretKey, fc.Audit.S3SecretKey)
	setBool(&c.Audit.S3UsePathStyle, fc.Audit.S3UsePathStyle)

	if fc.Observability.LogLevel != nil {
		c.Observability.LogLevel = observability.ParseLevel(*fc.Observability.LogLevel)
	}
	setBool(&c.Observability.MetricsEnabled, fc.Observability.MetricsEnabled)
	setBool(&c.Observability.OTelEnabled, fc.Observability.OTelEnabled)
	setString(&c.Observability.OTelEndpoint, fc.Observability.OTelEndpoint)
	setString(&c.Observability.OTelServiceName, fc.Observability.OTelServiceName)
	setString(&c.Observability.OTelServiceVersion, fc.Observability.OTelServiceVersion)
	setBool(&c.Observability.OTelInsecure, fc.Observability.OTelInsecure)
	if fc.Observability.OTelSampleRatio != nil {
		c.Observability.OTelSampleRatio = *fc.Observability.OTelSampleRatio
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate auth config: at least one verifier source
	if c.Auth.HMACSecret == "" && c.Auth.RSAPublicKeyFile == "" && c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth requires one of HMAC secret, RSA public key file, or JWKS URL")
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("auth issuer is required")
	}
	if c.Auth.Audience == "" {
		return fmt.Errorf("auth audience is required")
	}

	// Validate tenancy config
	if c.Tenancy.HeaderName == "" {
		return fmt.Errorf("tenant header name is required")
	}
	if c.Tenancy.ResolveTimeout <= 0 {
		return fmt.Errorf("tenant resolve timeout must be positive")
	}

	// Validate audit config
	for _, backend := range c.Audit.Backends {
		switch backend {
		case "postgres", "file":
		default:
			return fmt.Errorf("invalid audit backend: %s (must be postgres or file)", backend)
		}
	}
	if c.Audit.ArchiveEnabled && c.Audit.ArchiveBucket == "" {
		return fmt.Errorf("audit archive bucket is required when archiving is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
