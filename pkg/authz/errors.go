package authz

import "errors"

// Denial conditions, one per guard that can deny. Each is a distinct,
// matchable error so callers can tell exactly which check failed, and all
// of them mean "you are not allowed" as opposed to ErrUnavailable's "the
// system could not decide."
var (
	// ErrUnauthenticated means the route requires a principal and none is
	// present.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTenantRequired means the route requires a resolved tenant and
	// none is present.
	ErrTenantRequired = errors.New("tenant required")

	// ErrTenantMismatch means the principal's tenant differs from the
	// resolved tenant. Always recorded as a security event.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrInsufficientRole means the principal holds none of the route's
	// required roles.
	ErrInsufficientRole = errors.New("insufficient role")

	// ErrInsufficientPermission means the principal's effective
	// permissions do not cover the route's required permissions.
	ErrInsufficientPermission = errors.New("insufficient permission")

	// ErrUnavailable means a dependency needed to decide (for example the
	// permission store) failed. It is not a denial and must not be
	// presented as one.
	ErrUnavailable = errors.New("access decision unavailable")
)

// IsDenial reports whether err is an authorization denial as opposed to an
// availability failure or an unrelated error.
func IsDenial(err error) bool {
	for _, denial := range []error{
		ErrUnauthenticated,
		ErrTenantRequired,
		ErrTenantMismatch,
		ErrInsufficientRole,
		ErrInsufficientPermission,
	} {
		if errors.Is(err, denial) {
			return true
		}
	}
	return false
}

// ReasonLabel returns a stable label for metrics and audit records.
func ReasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrTenantRequired):
		return "tenant_required"
	case errors.Is(err, ErrTenantMismatch):
		return "tenant_mismatch"
	case errors.Is(err, ErrInsufficientRole):
		return "insufficient_role"
	case errors.Is(err, ErrInsufficientPermission):
		return "insufficient_permission"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}
