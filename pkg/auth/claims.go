package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// BearerToken extracts the bearer token from a request's Authorization
// header. The second return value is false when no bearer credential is
// present at all; a malformed or non-Bearer header counts as absent, since
// it is not a credential this system issues.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// PeekTenantClaim reads the tenant claim out of a bearer token WITHOUT
// verifying the signature. Tenant resolution runs before authentication,
// so the resolver uses this as a routing hint only: nothing is granted on
// it, and the tenant-match guard later compares the request tenant against
// the verified credential's tenant. Returns "" when the token does not
// parse or carries no such claim.
func PeekTenantClaim(tokenString, tenantClaim string) string {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	return claimString(claims, tenantClaim)
}

// claimString extracts a string value from JWT claims.
// Returns empty string if the claim is missing or not a string.
func claimString(claims jwt.MapClaims, key string) string {
	val, ok := claims[key]
	if !ok {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return s
}

// claimStrings extracts a list of strings from JWT claims. The claim can be
// either a JSON array of strings or a space-separated string, matching how
// identity providers commonly encode roles and scopes.
func claimStrings(claims jwt.MapClaims, key string) []string {
	val, ok := claims[key]
	if !ok {
		return nil
	}

	if s, ok := val.(string); ok {
		parts := strings.Fields(s)
		if len(parts) == 0 {
			return nil
		}
		return parts
	}

	if arr, ok := val.([]interface{}); ok {
		var out []string
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}

	return nil
}
