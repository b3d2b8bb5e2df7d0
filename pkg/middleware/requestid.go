package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an id: the inbound X-Request-ID when
// present, a fresh UUID otherwise. The id is stored on the context and
// echoed on the response so callers can correlate with server logs and
// the audit trail.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
