package auth

import (
	"context"
	"errors"
	"time"

	"github.com/bulkheadio/bulkhead/pkg/contextkeys"
)

// ErrInvalidCredential reports a credential that was presented and failed
// verification: bad signature, expired, wrong issuer or audience, or a
// missing identity claim. It is the only error a failed verification
// surfaces; the cause stays in the message, never in the error chain.
var ErrInvalidCredential = errors.New("invalid credential")

// ErrVerifierUnavailable reports that verification could not be completed at
// all, typically a JWKS fetch failure or timeout. Callers must not treat it
// as a denial: the credential was never judged.
var ErrVerifierUnavailable = errors.New("credential verifier unavailable")

// Principal is a fully verified caller identity. A Principal is only ever
// constructed after the credential verifies; no partially populated
// Principal exists anywhere in the system.
type Principal struct {
	// ID is the subject of the credential
	ID string `json:"id"`

	// TenantID is the tenant bound into the credential, empty for
	// tenant-less principals such as platform operators
	TenantID string `json:"tenant_id,omitempty"`

	// Roles are the role names carried by the credential
	Roles []string `json:"roles,omitempty"`

	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// PrincipalID returns the principal's identifier. It satisfies the accessor
// the logging layer uses to stamp principal_id onto request-scoped entries.
func (p *Principal) PrincipalID() string {
	if p == nil {
		return ""
	}
	return p.ID
}

// HasRole reports whether the principal carries the named role
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PrincipalFromContext retrieves the authenticated principal from the
// context. The second return value is false for anonymous requests; callers
// must treat that as "no principal", never substitute a default identity.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := contextkeys.Principal(ctx).(*Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// ContextWithPrincipal stores a verified principal on the context
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}
