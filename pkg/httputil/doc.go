// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
//
// Error responses share one envelope: an error message, an optional
// machine-readable code, and the request id when the request context
// carries one. Access-control denials always go through WriteErrorCode so
// clients can branch on the code instead of parsing messages.
//
//	httputil.WriteErrorCode(w, r, http.StatusForbidden,
//		"TENANT_MISMATCH", "authenticated tenant does not match request tenant")
//
// Handlers parse bodies and parameters through the helpers here rather
// than reaching into mux.Vars directly:
//
//	var req createTenantRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	if !ok {
//		return
//	}
package httputil
