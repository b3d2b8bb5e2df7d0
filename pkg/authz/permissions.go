package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Wildcard matches any resource or action in a permission position.
const Wildcard = "*"

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// String returns the canonical "resource:action" form of the permission
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// ParsePermission parses a "resource:action" string into a Permission.
func ParsePermission(s string) (Permission, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Permission{}, fmt.Errorf("invalid permission %q: want resource:action", s)
	}
	return Permission{Resource: parts[0], Action: parts[1]}, nil
}

// MustParsePermission is ParsePermission for statically known strings.
func MustParsePermission(s string) Permission {
	p, err := ParsePermission(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Covers reports whether holding p satisfies a requirement for required.
// The wildcard matches any value in its position, so "*:*" covers
// everything and "users:*" covers every action on users.
func (p Permission) Covers(required Permission) bool {
	if p.Resource != Wildcard && p.Resource != required.Resource {
		return false
	}
	return p.Action == Wildcard || p.Action == required.Action
}

// PermissionSet is a set of held permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet creates a PermissionSet from individual permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Add inserts a permission into the set.
func (s PermissionSet) Add(p Permission) {
	s[p] = struct{}{}
}

// Contains reports whether the set satisfies one required permission,
// honoring wildcards.
func (s PermissionSet) Contains(required Permission) bool {
	probes := [4]Permission{
		required,
		{Resource: required.Resource, Action: Wildcard},
		{Resource: Wildcard, Action: required.Action},
		{Resource: Wildcard, Action: Wildcard},
	}
	for _, probe := range probes {
		if _, ok := s[probe]; ok {
			return true
		}
	}
	return false
}

// Covers reports whether the set satisfies every required permission.
// An empty requirement list is trivially covered.
func (s PermissionSet) Covers(required []Permission) bool {
	for _, r := range required {
		if !s.Contains(r) {
			return false
		}
	}
	return true
}

// List returns the permissions in canonical string order.
func (s PermissionSet) List() []Permission {
	perms := make([]Permission, 0, len(s))
	for p := range s {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool {
		return perms[i].String() < perms[j].String()
	})
	return perms
}
