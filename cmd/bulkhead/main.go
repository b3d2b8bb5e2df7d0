package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/bulkheadio/bulkhead/pkg/api"
	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/config"
	"github.com/bulkheadio/bulkhead/pkg/observability"
	"github.com/bulkheadio/bulkhead/pkg/rbac"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil).
		WithField("service", "bulkhead")
	logger.WithField("version", version).Info("Starting bulkhead")

	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("Failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("Failed to ping database")
		os.Exit(1)
	}
	logger.Info("Connected to PostgreSQL")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// Redis only backs caches and rate limits; start degraded.
			logger.WithError(err).Warn("Redis unreachable, continuing without it")
		} else {
			logger.Info("Connected to Redis")
		}
	}

	if err := rbac.RunMigrations(ctx, db, logger); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}
	if err := rbac.InitializeBuiltInRoles(ctx, rbac.NewStore(db), logger); err != nil {
		logger.WithError(err).Error("Failed to seed built-in roles")
		os.Exit(1)
	}

	verifier, keyWatcher, err := auth.NewVerifierWithRotation(authConfig(cfg), logger)
	if err != nil {
		logger.WithError(err).Error("Failed to build token verifier")
		os.Exit(1)
	}

	server, err := api.NewServer(cfg, api.Dependencies{
		DB:       db,
		Redis:    redisClient,
		Logger:   logger,
		Verifier: verifier,
		Version:  version,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to assemble server")
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	adminServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: server.AdminHandler(),
	}

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc("admin_server", adminServer.Shutdown)
	sm.RegisterShutdownFunc("api_resources", func(context.Context) error {
		return server.Close()
	})
	if keyWatcher != nil {
		sm.RegisterShutdownFunc("key_watcher", func(context.Context) error {
			return keyWatcher.Close()
		})
	}
	if redisClient != nil {
		sm.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	sm.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	if providers != nil {
		sm.RegisterShutdownFunc("otel", func(shutdownCtx context.Context) error {
			return observability.ShutdownOTel(shutdownCtx, providers, logger)
		})
	}

	go func() {
		logger.WithField("addr", adminServer.Addr).Info("Health and metrics listener started")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Admin listener failed")
		}
	}()

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("API listener started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API listener failed")
			os.Exit(1)
		}
	}()

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func authConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		HMACSecret:          cfg.Auth.HMACSecret,
		RSAPublicKeyFile:    cfg.Auth.RSAPublicKeyFile,
		JWKSURL:             cfg.Auth.JWKSURL,
		JWKSRefreshInterval: cfg.Auth.JWKSRefreshInterval,
		Issuer:              cfg.Auth.Issuer,
		Audience:            cfg.Auth.Audience,
		Leeway:              cfg.Auth.Leeway,
		UserClaim:           cfg.Auth.UserClaim,
		TenantClaim:         cfg.Auth.TenantClaim,
		RolesClaim:          cfg.Auth.RolesClaim,
		VerifyTimeout:       cfg.Auth.VerifyTimeout,
	}
}
