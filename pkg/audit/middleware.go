package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
)

// Middleware stamps the audit backend and the request start time into
// every request context, so guards and handlers reach the trail through
// FromContext without threading the backend explicitly.
type Middleware struct {
	logger Logger
}

// NewMiddleware creates the context-stamping middleware.
func NewMiddleware(logger Logger) *Middleware {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Middleware{logger: logger}
}

// Handler wraps next with the audit context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLogger(r.Context(), m.logger)
		ctx = contextkeys.WithRequestStartTime(ctx, time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestStart returns the request start time stamped by Handler.
func RequestStart(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(contextkeys.RequestStartTimeKey).(time.Time)
	return t, ok
}

// RequestDuration returns the time elapsed since the stamped start, or
// zero when no start time was recorded.
func RequestDuration(ctx context.Context) time.Duration {
	if start, ok := RequestStart(ctx); ok {
		return time.Since(start)
	}
	return 0
}
