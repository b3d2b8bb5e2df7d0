package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/auth"
	"github.com/bulkheadio/bulkhead/pkg/httputil"
	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// CredentialAuthenticator verifies a request's bearer credential.
// Implemented by auth.Authenticator.
type CredentialAuthenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*auth.Principal, error)
}

// Authentication verifies the bearer credential, when one is present, and
// stores the resulting principal on the context. Requests without a
// credential pass through anonymous; whether anonymity is acceptable is
// decided per route by the access pipeline. A presented-but-rejected
// credential terminates the request here, so no downstream code ever sees
// a half-verified principal.
type Authentication struct {
	authenticator CredentialAuthenticator
	emitter       *audit.Emitter
	metrics       *observability.Metrics
}

// NewAuthentication creates the authentication middleware. The emitter and
// metrics may be nil.
func NewAuthentication(authenticator CredentialAuthenticator, emitter *audit.Emitter, metrics *observability.Metrics) *Authentication {
	if emitter == nil {
		emitter = audit.NewEmitter(audit.NopLogger{}, 0, nil, nil)
	}
	return &Authentication{
		authenticator: authenticator,
		emitter:       emitter,
		metrics:       metrics,
	}
}

// Handler wraps next with credential verification.
func (m *Authentication) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.authenticator.Authenticate(r.Context(), r)
		switch {
		case errors.Is(err, auth.ErrVerifierUnavailable):
			// Could not decide; this must never read as "credential bad".
			m.count("unavailable")
			httputil.WriteErrorCode(w, r, http.StatusServiceUnavailable, "verification_unavailable",
				"credential verification is temporarily unavailable")
			return

		case err != nil:
			m.count("invalid")
			event := audit.NewRequestEvent(r.Context(), r, audit.EventTypeCredentialInvalid, audit.EventStatusFailure)
			event.ErrorMessage = err.Error()
			m.emitter.Emit(r.Context(), event)

			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "invalid_credential", "credential rejected")
			return

		case principal != nil:
			m.count("success")
			r = r.WithContext(auth.ContextWithPrincipal(r.Context(), principal))

		default:
			m.count("anonymous")
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Authentication) count(result string) {
	if m.metrics != nil {
		m.metrics.AuthenticationsTotal.WithLabelValues(result).Inc()
	}
}
