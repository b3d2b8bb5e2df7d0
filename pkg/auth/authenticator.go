package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bulkheadio/bulkhead/pkg/observability"
)

// Config holds credential verification settings
type Config struct {
	// Credential sources; at least one must be set
	HMACSecret       string
	RSAPublicKeyFile string
	JWKSURL          string

	// JWKSRefreshInterval controls background key set refresh
	JWKSRefreshInterval time.Duration

	// Claim validation
	Issuer   string
	Audience string
	Leeway   time.Duration

	// Claim names. Defaults: "sub", "tenant_id", "roles".
	UserClaim   string
	TenantClaim string
	RolesClaim  string

	// VerifyTimeout bounds a single verification, JWKS fetch included.
	// Default: 5s.
	VerifyTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.RolesClaim == "" {
		c.RolesClaim = "roles"
	}
	if c.JWKSRefreshInterval == 0 {
		c.JWKSRefreshInterval = 15 * time.Minute
	}
	if c.VerifyTimeout == 0 {
		c.VerifyTimeout = 5 * time.Second
	}
}

// Authenticator turns a request's bearer credential into a Principal
type Authenticator struct {
	cfg      Config
	verifier TokenVerifier
	logger   *observability.Logger
}

// NewAuthenticator creates an authenticator over the given verifier
func NewAuthenticator(cfg Config, verifier TokenVerifier, logger *observability.Logger) *Authenticator {
	cfg.applyDefaults()
	return &Authenticator{
		cfg:      cfg,
		verifier: verifier,
		logger:   logger,
	}
}

// Authenticate inspects the request's bearer credential. Outcomes:
//
//   - (nil, nil): no credential presented, the request proceeds anonymous
//   - (nil, ErrInvalidCredential): a credential was presented and rejected
//   - (nil, ErrVerifierUnavailable): verification could not be completed
//   - (p, nil): the credential verified; p is fully populated
//
// There is no partial success: either every claim check passed and the
// Principal is complete, or the request carries no Principal at all.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	tokenString, ok := BearerToken(r)
	if !ok {
		return nil, nil
	}
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty bearer token", ErrInvalidCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.VerifyTimeout)
	defer cancel()

	claims, err := a.verifier.Verify(ctx, tokenString)
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).Debug("credential verification failed")
		return nil, err
	}

	return a.principalFromClaims(claims)
}

// principalFromClaims maps a verified claim set onto a Principal. The
// identity claim is mandatory; everything else is carried as-is.
func (a *Authenticator) principalFromClaims(claims jwt.MapClaims) (*Principal, error) {
	id := claimString(claims, a.cfg.UserClaim)
	if id == "" {
		return nil, fmt.Errorf("%w: missing %q claim", ErrInvalidCredential, a.cfg.UserClaim)
	}

	p := &Principal{
		ID:       id,
		TenantID: claimString(claims, a.cfg.TenantClaim),
		Roles:    claimStrings(claims, a.cfg.RolesClaim),
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		p.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p, nil
}

// TenantClaimName exposes the configured tenant claim so the resolver can
// peek the same claim the authenticator will later verify.
func (a *Authenticator) TenantClaimName() string {
	return a.cfg.TenantClaim
}
