package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// Logger is the interface audit backends implement.
type Logger interface {
	// Log writes an audit event.
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events.
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger if
// none is set.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards every event. Used when auditing is not configured and
// as the context fallback.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }

// NewEvent creates an audit event with the actor, tenant, and request id
// drawn from the context.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if tenantID, ok := contextkeys.TenantID(ctx); ok {
		event.TenantID = tenantID
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		event.ActorID = principal.ID
		event.ActorRoles = principal.Roles
	}
	return event
}

// NewRequestEvent creates an audit event that additionally captures the
// HTTP request surface: client IP, user agent, method, path.
func NewRequestEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *Event {
	event := NewEvent(ctx, eventType, status)
	if r != nil {
		event.IPAddress = ClientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
	}
	return event
}

// ClientIP extracts the client IP from a request, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// Emitter wraps a Logger with the write policy the rest of the system
// relies on: an audit failure is surfaced through logs and metrics but
// never changes the outcome of the operation being audited, and writes are
// detached from request cancellation so an aborted request produces either
// a complete event or none.
type Emitter struct {
	backend Logger
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewEmitter creates an Emitter around a backend. A zero timeout defaults
// to three seconds.
func NewEmitter(backend Logger, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Emitter {
	if backend == nil {
		backend = NopLogger{}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Emitter{
		backend: backend,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Emit writes an event. Errors are counted and logged, never returned;
// callers must not branch on whether the audit write succeeded.
func (e *Emitter) Emit(ctx context.Context, event *Event) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	err := e.backend.Log(writeCtx, event)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		e.metrics.AuditWritesTotal.WithLabelValues("emitter", status).Inc()
	}
	if err != nil && e.logger != nil {
		e.logger.WithContext(ctx).WithError(err).
			WithField("event_type", string(event.EventType)).
			Error("audit write failed")
	}
}

// Close closes the underlying backend.
func (e *Emitter) Close() error {
	return e.backend.Close()
}
