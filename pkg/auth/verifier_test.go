package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bulkheadio/bulkhead/pkg/observability"
)

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func testOpts() VerifyOptions {
	return VerifyOptions{
		Issuer:   "https://issuer.test",
		Audience: "bulkhead",
		Leeway:   30 * time.Second,
	}
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "u-1",
		"iss": "https://issuer.test",
		"aud": "bulkhead",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func signHMAC(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("signing HMAC token: %v", err)
	}
	return signed
}

func signRSA(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing RSA token: %v", err)
	}
	return signed
}

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return key
}

func encodePublicKeyPEM(t *testing.T, pub *rsa.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// buildJWKSetJSON builds a JWKS document from an RSA public key
func buildJWKSetJSON(t *testing.T, pub *rsa.PublicKey, kid string) json.RawMessage {
	t.Helper()
	jwks := map[string]interface{}{
		"keys": []map[string]interface{}{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, err := json.Marshal(jwks)
	if err != nil {
		t.Fatalf("marshaling JWKS: %v", err)
	}
	return data
}

func TestHMACVerifier_Verify(t *testing.T) {
	secret := []byte("test-secret")
	v := NewHMACVerifier(secret, testOpts())
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.Verify(ctx, signHMAC(t, secret, baseClaims()))
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if claims["sub"] != "u-1" {
			t.Errorf("claims[sub] = %v, want u-1", claims["sub"])
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.Verify(ctx, signHMAC(t, []byte("other-secret"), baseClaims()))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := v.Verify(ctx, signHMAC(t, secret, claims))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("expired within leeway", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = time.Now().Add(-10 * time.Second).Unix()
		_, err := v.Verify(ctx, signHMAC(t, secret, claims))
		if err != nil {
			t.Errorf("Verify() error = %v, want nil within 30s leeway", err)
		}
	})

	t.Run("missing expiration", func(t *testing.T) {
		claims := baseClaims()
		delete(claims, "exp")
		_, err := v.Verify(ctx, signHMAC(t, secret, claims))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential for missing exp", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := baseClaims()
		claims["iss"] = "https://rogue.test"
		_, err := v.Verify(ctx, signHMAC(t, secret, claims))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = "someone-else"
		_, err := v.Verify(ctx, signHMAC(t, secret, claims))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("rejects RSA token", func(t *testing.T) {
		key := generateRSAKey(t)
		_, err := v.Verify(ctx, signRSA(t, key, "", baseClaims()))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential for RS256 token", err)
		}
	})

	t.Run("canceled context on bad token", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := v.Verify(canceled, "garbage")
		if !errors.Is(err, ErrVerifierUnavailable) {
			t.Errorf("Verify() error = %v, want ErrVerifierUnavailable with dead context", err)
		}
	})
}

func TestRSAVerifier_Verify(t *testing.T) {
	key := generateRSAKey(t)
	v := NewRSAVerifier(&key.PublicKey, testOpts())
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.Verify(ctx, signRSA(t, key, "", baseClaims()))
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if claims["sub"] != "u-1" {
			t.Errorf("claims[sub] = %v, want u-1", claims["sub"])
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		otherKey := generateRSAKey(t)
		_, err := v.Verify(ctx, signRSA(t, otherKey, "", baseClaims()))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("rejects HMAC token", func(t *testing.T) {
		_, err := v.Verify(ctx, signHMAC(t, []byte("secret"), baseClaims()))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential for HS256 token", err)
		}
	})

	t.Run("key rotation", func(t *testing.T) {
		newKey := generateRSAKey(t)
		token := signRSA(t, newKey, "", baseClaims())

		if _, err := v.Verify(ctx, token); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("Verify() error = %v, want rejection before rotation", err)
		}

		v.SetKey(&newKey.PublicKey)
		if _, err := v.Verify(ctx, token); err != nil {
			t.Errorf("Verify() error = %v, want nil after SetKey", err)
		}

		// The old key no longer verifies.
		if _, err := v.Verify(ctx, signRSA(t, key, "", baseClaims())); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want rejection of old key after rotation", err)
		}
	})
}

func TestNewRSAVerifierFromFile(t *testing.T) {
	key := generateRSAKey(t)

	t.Run("valid PEM file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "jwt.pem")
		if err := os.WriteFile(path, encodePublicKeyPEM(t, &key.PublicKey), 0o600); err != nil {
			t.Fatalf("writing key file: %v", err)
		}

		v, err := NewRSAVerifierFromFile(path, testOpts())
		if err != nil {
			t.Fatalf("NewRSAVerifierFromFile() error = %v", err)
		}
		if _, err := v.Verify(context.Background(), signRSA(t, key, "", baseClaims())); err != nil {
			t.Errorf("Verify() error = %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewRSAVerifierFromFile(filepath.Join(t.TempDir(), "nope.pem"), testOpts())
		if err == nil {
			t.Error("NewRSAVerifierFromFile() expected error for missing file")
		}
	})

	t.Run("malformed PEM", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.pem")
		if err := os.WriteFile(path, []byte("not a pem"), 0o600); err != nil {
			t.Fatalf("writing key file: %v", err)
		}
		_, err := NewRSAVerifierFromFile(path, testOpts())
		if err == nil {
			t.Error("NewRSAVerifierFromFile() expected error for malformed PEM")
		}
	})
}

func TestJWKSVerifier_Verify(t *testing.T) {
	key := generateRSAKey(t)
	const kid = "test-key"

	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(t, &key.PublicKey, kid))
	if err != nil {
		t.Fatalf("creating keyfunc: %v", err)
	}
	v := NewJWKSVerifierWithKeyfunc(kf, testOpts())
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.Verify(ctx, signRSA(t, key, kid, baseClaims()))
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if claims["sub"] != "u-1" {
			t.Errorf("claims[sub] = %v, want u-1", claims["sub"])
		}
	})

	t.Run("unknown kid", func(t *testing.T) {
		otherKey := generateRSAKey(t)
		_, err := v.Verify(ctx, signRSA(t, otherKey, "other-key", baseClaims()))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := v.Verify(ctx, signRSA(t, key, kid, claims))
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
		}
	})
}

type stubVerifier struct {
	claims jwt.MapClaims
	err    error
	calls  int
}

func (s *stubVerifier) Verify(context.Context, string) (jwt.MapClaims, error) {
	s.calls++
	return s.claims, s.err
}

func TestMultiVerifier(t *testing.T) {
	secret := []byte("test-secret")
	hmac := NewHMACVerifier(secret, testOpts())

	t.Run("second verifier accepts", func(t *testing.T) {
		rejecting := &stubVerifier{err: ErrInvalidCredential}
		m := &multiVerifier{verifiers: []TokenVerifier{rejecting, hmac}}

		claims, err := m.Verify(context.Background(), signHMAC(t, secret, baseClaims()))
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if claims["sub"] != "u-1" {
			t.Errorf("claims[sub] = %v, want u-1", claims["sub"])
		}
	})

	t.Run("all reject returns first error", func(t *testing.T) {
		first := &stubVerifier{err: ErrInvalidCredential}
		second := &stubVerifier{err: ErrInvalidCredential}
		m := &multiVerifier{verifiers: []TokenVerifier{first, second}}

		_, err := m.Verify(context.Background(), "whatever")
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("Verify() error = %v, want ErrInvalidCredential", err)
		}
		if second.calls != 1 {
			t.Errorf("second verifier calls = %d, want 1", second.calls)
		}
	})

	t.Run("unavailable short-circuits", func(t *testing.T) {
		down := &stubVerifier{err: ErrVerifierUnavailable}
		never := &stubVerifier{claims: baseClaims()}
		m := &multiVerifier{verifiers: []TokenVerifier{down, never}}

		_, err := m.Verify(context.Background(), "whatever")
		if !errors.Is(err, ErrVerifierUnavailable) {
			t.Errorf("Verify() error = %v, want ErrVerifierUnavailable", err)
		}
		if never.calls != 0 {
			t.Errorf("later verifier calls = %d, want 0: an outage must not fall through", never.calls)
		}
	})
}

func TestNewVerifier(t *testing.T) {
	t.Run("no sources", func(t *testing.T) {
		_, err := NewVerifier(Config{}, quietLogger())
		if err == nil {
			t.Error("NewVerifier() expected error with no credential source")
		}
	})

	t.Run("single HMAC source", func(t *testing.T) {
		v, err := NewVerifier(Config{HMACSecret: "secret"}, quietLogger())
		if err != nil {
			t.Fatalf("NewVerifier() error = %v", err)
		}
		if _, ok := v.(*HMACVerifier); !ok {
			t.Errorf("NewVerifier() = %T, want *HMACVerifier", v)
		}
	})

	t.Run("HMAC and RSA combine", func(t *testing.T) {
		key := generateRSAKey(t)
		path := filepath.Join(t.TempDir(), "jwt.pem")
		if err := os.WriteFile(path, encodePublicKeyPEM(t, &key.PublicKey), 0o600); err != nil {
			t.Fatalf("writing key file: %v", err)
		}

		v, err := NewVerifier(Config{
			HMACSecret:       "secret",
			RSAPublicKeyFile: path,
			Issuer:           "https://issuer.test",
			Audience:         "bulkhead",
		}, quietLogger())
		if err != nil {
			t.Fatalf("NewVerifier() error = %v", err)
		}

		ctx := context.Background()
		if _, err := v.Verify(ctx, signRSA(t, key, "", baseClaims())); err != nil {
			t.Errorf("Verify(RSA token) error = %v", err)
		}
		if _, err := v.Verify(ctx, signHMAC(t, []byte("secret"), baseClaims())); err != nil {
			t.Errorf("Verify(HMAC token) error = %v", err)
		}
	})

	t.Run("bad key file fails construction", func(t *testing.T) {
		_, err := NewVerifier(Config{RSAPublicKeyFile: "/nonexistent/jwt.pem"}, quietLogger())
		if err == nil {
			t.Error("NewVerifier() expected error for unreadable key file")
		}
	})
}
