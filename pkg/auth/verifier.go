package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bulkheadio/bulkhead/pkg/observability"
)

var (
	hmacMethods = []string{"HS256", "HS384", "HS512"}
	rsaMethods  = []string{"RS256", "RS384", "RS512"}
)

// TokenVerifier checks a credential's signature and registered claims and
// returns the claim set. Implementations distinguish a rejected credential
// (ErrInvalidCredential) from being unable to judge one
// (ErrVerifierUnavailable).
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error)
}

// VerifyOptions are the claim checks shared by every verifier
type VerifyOptions struct {
	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// Leeway absorbs clock skew on time-based claims
	Leeway time.Duration
}

func (o VerifyOptions) parserOptions(methods []string) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if o.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(o.Leeway))
	}
	if o.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(o.Issuer))
	}
	if o.Audience != "" {
		opts = append(opts, jwt.WithAudience(o.Audience))
	}
	return opts
}

// classifyParseError folds every jwt parse failure into the two-error
// contract. A dead context means the verifier never got to judge the
// credential, so that case is unavailability, not a denial.
func classifyParseError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrVerifierUnavailable, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
}

func claimsFromToken(token *jwt.Token) (jwt.MapClaims, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unreadable claims", ErrInvalidCredential)
	}
	return claims, nil
}

// HMACVerifier verifies tokens signed with a shared HMAC secret
type HMACVerifier struct {
	secret []byte
	opts   VerifyOptions
}

// NewHMACVerifier creates a verifier for HS256/HS384/HS512 tokens
func NewHMACVerifier(secret []byte, opts VerifyOptions) *HMACVerifier {
	return &HMACVerifier{secret: secret, opts: opts}
}

func (v *HMACVerifier) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, v.opts.parserOptions(hmacMethods)...)
	if err != nil {
		return nil, classifyParseError(ctx, err)
	}
	return claimsFromToken(token)
}

// RSAVerifier verifies tokens signed with an RSA private key, using the
// corresponding public key. The key is swappable at runtime so a KeyWatcher
// can rotate it without restarting the process.
type RSAVerifier struct {
	key  atomic.Pointer[rsa.PublicKey]
	opts VerifyOptions
}

// NewRSAVerifier creates a verifier for RS256/RS384/RS512 tokens
func NewRSAVerifier(key *rsa.PublicKey, opts VerifyOptions) *RSAVerifier {
	v := &RSAVerifier{opts: opts}
	v.key.Store(key)
	return v
}

// NewRSAVerifierFromFile loads a PEM-encoded RSA public key from disk
func NewRSAVerifierFromFile(path string, opts VerifyOptions) (*RSAVerifier, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}
	return NewRSAVerifier(key, opts), nil
}

// SetKey atomically replaces the verification key. In-flight verifications
// finish with whichever key they loaded.
func (v *RSAVerifier) SetKey(key *rsa.PublicKey) {
	v.key.Store(key)
}

func (v *RSAVerifier) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return v.key.Load(), nil
	}, v.opts.parserOptions(rsaMethods)...)
	if err != nil {
		return nil, classifyParseError(ctx, err)
	}
	return claimsFromToken(token)
}

// JWKSVerifier verifies tokens against a remote JSON Web Key Set. Keys
// refresh in the background; a refresh failure is logged and the previous
// key set keeps serving.
type JWKSVerifier struct {
	keyfunc keyfunc.Keyfunc
	opts    VerifyOptions
}

// NewJWKSVerifier fetches and watches the key set at jwksURL.
// NoErrorReturnFirstHTTPReq lets the process start while the JWKS endpoint
// is still coming up, such as pods starting in parallel.
func NewJWKSVerifier(jwksURL string, refreshInterval time.Duration, opts VerifyOptions, logger *observability.Logger) (*JWKSVerifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.WithError(err).WithField("jwks_url", jwksURL).Error("JWKS refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyfunc: %w", err)
	}

	return &JWKSVerifier{keyfunc: kf, opts: opts}, nil
}

// NewJWKSVerifierWithKeyfunc creates a JWKS verifier around an existing
// keyfunc. Tests use it to substitute a static key set.
func NewJWKSVerifierWithKeyfunc(kf keyfunc.Keyfunc, opts VerifyOptions) *JWKSVerifier {
	return &JWKSVerifier{keyfunc: kf, opts: opts}
}

func (v *JWKSVerifier) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, v.keyfunc.KeyfuncCtx(ctx), v.opts.parserOptions(rsaMethods)...)
	if err != nil {
		return nil, classifyParseError(ctx, err)
	}
	return claimsFromToken(token)
}

// multiVerifier tries each configured verifier in order, accepting the
// first success. Deployments rotating from one credential source to
// another run with both configured during the cutover.
type multiVerifier struct {
	verifiers []TokenVerifier
}

func (m *multiVerifier) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	var firstErr error
	for _, v := range m.verifiers {
		claims, err := v.Verify(ctx, tokenString)
		if err == nil {
			return claims, nil
		}
		// An unavailable verifier means the credential was never judged;
		// falling through to a weaker source would mask the outage.
		if errors.Is(err, ErrVerifierUnavailable) {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("%w: no verifier configured", ErrVerifierUnavailable)
	}
	return nil, firstErr
}

// NewVerifier builds the verifier stack from configuration: JWKS, then RSA
// key file, then HMAC secret, for whichever sources are set. At least one
// must be configured.
func NewVerifier(cfg Config, logger *observability.Logger) (TokenVerifier, error) {
	opts := VerifyOptions{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Leeway:   cfg.Leeway,
	}

	var verifiers []TokenVerifier

	if cfg.JWKSURL != "" {
		v, err := NewJWKSVerifier(cfg.JWKSURL, cfg.JWKSRefreshInterval, opts, logger)
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, v)
	}
	if cfg.RSAPublicKeyFile != "" {
		v, err := NewRSAVerifierFromFile(cfg.RSAPublicKeyFile, opts)
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, v)
	}
	if cfg.HMACSecret != "" {
		verifiers = append(verifiers, NewHMACVerifier([]byte(cfg.HMACSecret), opts))
	}

	switch len(verifiers) {
	case 0:
		return nil, fmt.Errorf("no credential source configured")
	case 1:
		return verifiers[0], nil
	default:
		return &multiVerifier{verifiers: verifiers}, nil
	}
}
