// Package auth provides credential verification and the Principal identity type.
//
// # Overview
//
// This package turns bearer credentials (JWTs) into fully verified Principal
// values. Verification supports three key sources, selectable and combinable
// through configuration: a shared HMAC secret, an RSA public key file with
// hot reload, and a remote JWKS endpoint with background refresh.
//
// # Key Components
//
// Verifiers: signature and registered-claim checks
//
//	verifier, err := auth.NewVerifier(auth.Config{
//		JWKSURL:  "https://issuer.example.com/.well-known/jwks.json",
//		Issuer:   "https://issuer.example.com",
//		Audience: "bulkhead",
//	}, logger)
//
// Authenticator: claims to Principal mapping
//
//	authn := auth.NewAuthenticator(cfg, verifier, logger)
//	principal, err := authn.Authenticate(ctx, r)
//	// principal == nil, err == nil   -> anonymous request
//	// errors.Is(err, auth.ErrInvalidCredential) -> credential rejected
//	// errors.Is(err, auth.ErrVerifierUnavailable) -> could not judge
//
// There is no partial authentication: a Principal either carries every
// verified claim or does not exist.
//
// Key rotation: KeyWatcher reloads the RSA key file on change
//
//	kw, err := auth.NewKeyWatcher("/etc/bulkhead/jwt.pem", rsaVerifier, logger)
//	defer kw.Close()
//
// Tenant peek: resolution runs before authentication, so the resolver reads
// the tenant claim without verifying the signature. The claim is a routing
// hint only; the tenant-match guard compares it against the verified
// credential before anything is granted.
//
//	tenantID := auth.PeekTenantClaim(tokenString, "tenant_id")
//
// # Related Packages
//
//   - pkg/tenancy: resolves the request tenant, using PeekTenantClaim
//   - pkg/authz: consumes Principal in the access decision pipeline
//   - pkg/middleware: runs the Authenticator per request
package auth
