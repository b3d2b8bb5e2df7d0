package api

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/authz"
	"github.com/bulkheadio/bulkhead/pkg/config"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/gateway"
	"github.com/bulkheadio/bulkhead/pkg/httputil"
	"github.com/bulkheadio/bulkhead/pkg/middleware"
	"github.com/bulkheadio/bulkhead/pkg/observability"
	"github.com/bulkheadio/bulkhead/pkg/rbac"
	"github.com/bulkheadio/bulkhead/pkg/tenancy"
	"github.com/bulkheadio/bulkhead/pkg/users"
)

// permissionCacheTTL bounds how long the RBAC checker serves a cached
// permission set after a role change on another instance.
const permissionCacheTTL = time.Minute

// Dependencies are the externally owned resources the server builds on.
// DB is required. Everything else is optional: nil fields are constructed
// from configuration, which is what production does; tests inject doubles.
type Dependencies struct {
	DB    *sql.DB
	Redis *redis.Client

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Verifier overrides the token verifier built from config.
	Verifier auth.TokenVerifier

	// AuditBackend and AuditStore override the audit trail built from
	// config. Overriding the backend without a store disables the audit
	// query routes.
	AuditBackend audit.Logger
	AuditStore   audit.Store

	// Version is reported by /v1/status and the readiness probe.
	Version string
}

// Server is the assembled HTTP API. It implements http.Handler; the admin
// surface (probes, metrics) is a separate handler so it can listen on its
// own port.
type Server struct {
	cfg      *config.Config
	router   *mux.Router
	handler  http.Handler
	adminMux *http.ServeMux
	registry *authz.Registry

	logger       *observability.Logger
	metrics      *observability.Metrics
	promRegistry *prometheus.Registry

	db      *sql.DB
	redis   *redis.Client
	version string

	auditBackend audit.Logger
	emitter      *audit.Emitter

	tenants       tenancy.Service
	tenantCache   *tenancy.SlugCache
	resolver      *tenancy.Resolver
	authenticator *auth.Authenticator
	checker       *rbac.Checker
}

// NewServer assembles the API server from configuration.
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle is required")
	}

	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		adminMux: http.NewServeMux(),
		registry: authz.NewRegistry(),
		db:       deps.DB,
		redis:    deps.Redis,
		version:  deps.Version,
	}
	if s.version == "" {
		s.version = "dev"
	}

	s.logger = deps.Logger
	if s.logger == nil {
		s.logger = observability.NewLogger(cfg.Observability.LogLevel, nil)
	}

	s.metrics = deps.Metrics
	if s.metrics == nil {
		s.promRegistry = prometheus.NewRegistry()
		s.metrics = observability.NewMetrics(s.promRegistry)
	}

	auditStore := deps.AuditStore
	s.auditBackend = deps.AuditBackend
	if s.auditBackend == nil {
		backend, store, err := buildAuditBackend(cfg, deps.DB)
		if err != nil {
			return nil, fmt.Errorf("audit backend: %w", err)
		}
		s.auditBackend = backend
		auditStore = store
	}
	s.emitter = audit.NewEmitter(s.auditBackend, cfg.Audit.WriteTimeout, s.logger, s.metrics)

	s.tenants = tenancy.NewPostgresService(deps.DB)
	s.tenantCache = tenancy.NewSlugCache(tenancy.SlugCacheOptions{
		Size:  cfg.Tenancy.CacheSize,
		TTL:   cfg.Tenancy.CacheTTL,
		Redis: deps.Redis,
	}, s.logger)
	s.resolver = tenancy.NewResolver(tenancy.ResolverConfig{
		HeaderName:  cfg.Tenancy.HeaderName,
		TenantClaim: cfg.Auth.TenantClaim,
		SlugPrefix:  cfg.Tenancy.PublicSlugPrefix,
		Timeout:     cfg.Tenancy.ResolveTimeout,
	}, s.tenants, s.tenantCache, s.logger, s.metrics)

	authCfg := authConfigFrom(cfg)
	verifier := deps.Verifier
	if verifier == nil {
		var err error
		verifier, err = auth.NewVerifier(authCfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("token verifier: %w", err)
		}
	}
	s.authenticator = auth.NewAuthenticator(authCfg, verifier, s.logger)

	s.checker = rbac.NewChecker(rbac.NewStore(deps.DB), permissionCacheTTL, s.logger, s.metrics)

	s.setupRoutes(auditStore)
	s.setupMiddleware()
	s.setupAdmin()

	return s, nil
}

// authConfigFrom maps the application config onto the auth package's
// verification config.
func authConfigFrom(cfg *config.Config) auth.Config {
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

// buildAuditBackend constructs the audit trail from the configured
// backend list. The store is non-nil only when postgres is among them,
// since files cannot serve the query surface.
func buildAuditBackend(cfg *config.Config, db *sql.DB) (audit.Logger, audit.Store, error) {
	var backends []audit.Logger
	var store audit.Store

	for _, name := range cfg.Audit.Backends {
		switch name {
		case "postgres":
			dbLogger, err := audit.NewDBLogger(db)
			if err != nil {
				return nil, nil, err
			}
			backends = append(backends, dbLogger)
			store = audit.NewDBStore(dbLogger)
		case "file":
			fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
				Path:    cfg.Audit.FilePath,
				MaxSize: int64(cfg.Audit.FileMaxSizeMB) * 1024 * 1024,
			})
			if err != nil {
				return nil, nil, err
			}
			backends = append(backends, fileLogger)
		default:
			return nil, nil, fmt.Errorf("unknown audit backend %q", name)
		}
	}

	switch len(backends) {
	case 0:
		return audit.NopLogger{}, nil, nil
	case 1:
		return backends[0], store, nil
	default:
		return audit.NewMultiLogger(backends...), store, nil
	}
}

// setupMiddleware composes the chain, outermost first. See the middleware
// package doc for why the order matters.
func (s *Server) setupMiddleware() {
	tenantContext := middleware.NewTenantContext(s.resolver)
	authentication := middleware.NewAuthentication(s.authenticator, s.emitter, s.metrics)
	pipeline := authz.NewPipeline(authz.Config{SuperAdminRole: s.cfg.Auth.SuperAdminRole},
		s.checker, s.emitter, s.logger, s.metrics)
	access := middleware.NewAccess(s.registry, pipeline, s.emitter, s.cfg.Tenancy.StrictTenantMatch)

	chain := []mux.MiddlewareFunc{
		middleware.RequestID,
		observability.HTTPMetricsMiddleware(s.metrics),
		middleware.RequestLogging(s.logger),
		audit.NewMiddleware(s.auditBackend).Handler,
		tenantContext.Handler,
		authentication.Handler,
	}
	// Rate limiting sits after authentication so the tenant and principal
	// keys are populated, and before the access pipeline so over-limit
	// traffic never costs a permission lookup.
	if s.cfg.Server.RateLimitEnabled {
		if s.redis != nil {
			chain = append(chain, middleware.NewDistributedRateLimitMiddleware(s.redis).Handler)
		} else {
			chain = append(chain, middleware.NewRateLimitMiddleware().Handler)
		}
	}
	chain = append(chain, access.Handler)
	s.router.Use(chain...)

	s.handler = s.router
	if s.cfg.Observability.OTelEnabled {
		s.handler = otelhttp.NewHandler(s.router, "bulkhead-api")
	}
}

// RouteRegistrar is implemented by handler packages that own a slice of
// the route table.
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router, registry *authz.Registry)
}

// RegisterRoutes mounts an additional registrar under /v1.
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router.PathPrefix("/v1").Subrouter(), s.registry)
}

// setupRoutes builds the route table. Handler packages register their own
// routes; the audit trail's descriptors live here because pkg/audit sits
// below the access pipeline.
func (s *Server) setupRoutes(auditStore audit.Store) {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/status", s.status).Methods(http.MethodGet).Name("status.get")
	s.registry.MustRegister(authz.RouteMeta{Name: "status.get", Public: true, Global: true})

	v1.HandleFunc("/public/{tenant_slug}/status", s.publicTenantStatus).
		Methods(http.MethodGet).Name("public.tenant_status")
	s.registry.MustRegister(authz.RouteMeta{Name: "public.tenant_status", Public: true})

	userHandlers := users.NewHandlers(users.NewService(s.newGateway()), s.emitter)
	userHandlers.RegisterRoutes(v1, s.registry)

	rbacHandlers := rbac.NewHandlers(rbac.NewStore(s.db), s.checker, s.emitter)
	rbacHandlers.RegisterRoutes(v1, s.registry)

	tenantHandlers := tenancy.NewHandlers(s.tenants, s.tenantCache, s.emitter)
	tenantHandlers.RegisterRoutes(v1, s.registry)

	if auditStore != nil {
		s.registerAuditRoutes(v1, auditStore)
	}
}

// newGateway builds the tenant-scoping data gateway the user service runs
// through.
func (s *Server) newGateway() *gateway.Gateway {
	return gateway.New(s.db, gateway.Options{
		Emitter:      s.emitter,
		Logger:       s.logger,
		Metrics:      s.metrics,
		QueryTimeout: s.cfg.Database.QueryTimeout,
	})
}

// registerAuditRoutes mounts the audit query surface. Read routes demand
// the audit:read permission; export additionally leaves a trail entry of
// its own.
func (s *Server) registerAuditRoutes(router *mux.Router, store audit.Store) {
	handlers := audit.NewHandlers(store, s.emitter)
	handlers.SetSuperAdminRole(s.cfg.Auth.SuperAdminRole)

	auditRead := []authz.Permission{{Resource: "audit", Action: "read"}}

	router.HandleFunc("/audit/events", handlers.SearchEvents).Methods(http.MethodGet).Name("audit.search")
	s.registry.MustRegister(authz.RouteMeta{Name: "audit.search", RequiredPermissions: auditRead})

	router.HandleFunc("/audit/events/{id}", handlers.GetEvent).Methods(http.MethodGet).Name("audit.get")
	s.registry.MustRegister(authz.RouteMeta{Name: "audit.get", RequiredPermissions: auditRead})

	router.HandleFunc("/audit/stats", handlers.GetStats).Methods(http.MethodGet).Name("audit.stats")
	s.registry.MustRegister(authz.RouteMeta{Name: "audit.stats", RequiredPermissions: auditRead})

	router.HandleFunc("/audit/export", handlers.ExportEvents).Methods(http.MethodGet).Name("audit.export")
	s.registry.MustRegister(authz.RouteMeta{
		Name:                "audit.export",
		RequiredPermissions: []authz.Permission{{Resource: "audit", Action: "export"}},
		Audited:             true,
	})
}

// setupAdmin builds the probe and metrics surface. It carries no tenant
// traffic and no middleware chain.
func (s *Server) setupAdmin() {
	checker := observability.NewHealthChecker(s.db, s.redis, s.version)
	observability.RegisterHealthRoutes(s.adminMux, checker)
	if s.promRegistry != nil {
		observability.RegisterMetricsEndpoint(s.adminMux, s.promRegistry)
	}
}

// status handles GET /v1/status
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
	})
}

// publicTenantStatus handles GET /v1/public/{tenant_slug}/status. The
// tenant arrives through slug resolution; an unknown or inactive slug
// resolves to nothing and reads as absent.
func (s *Server) publicTenantStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := contextkeys.TenantID(r.Context())
	if !ok {
		httputil.WriteNotFoundError(w, "unknown tenant")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"tenant_id": tenantID,
		"status":    "ok",
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// AdminHandler returns the probe and metrics handler, meant for its own
// listener on ServerConfig.HealthPort.
func (s *Server) AdminHandler() http.Handler {
	return s.adminMux
}

// Close releases the server's own resources. The database and Redis
// handles belong to the caller.
func (s *Server) Close() error {
	return s.auditBackend.Close()
}
