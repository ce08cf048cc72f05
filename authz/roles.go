package authz

import (
	"fmt"
	"strings"
)

// Role is a console role granted through the identity provider's realm roles.
// The set is closed: tokens may carry other realm roles, but only these can
// satisfy an access rule.
type Role uint8

const (
	RolePlatformAdmin Role = iota + 1
	RoleOrgAdmin
)

// AllRoles lists every known role in declaration order
var AllRoles = []Role{RolePlatformAdmin, RoleOrgAdmin}

// String returns the realm role name
func (r Role) String() string {
	switch r {
	case RolePlatformAdmin:
		return "PLATFORM_ADMIN"
	case RoleOrgAdmin:
		return "ORG_ADMIN"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// ParseRole maps a realm role name to a Role
func ParseRole(s string) (Role, error) {
	switch s {
	case "PLATFORM_ADMIN":
		return RolePlatformAdmin, nil
	case "ORG_ADMIN":
		return RoleOrgAdmin, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// RoleSet is a set of roles stored as a bitmask
type RoleSet uint8

// NewRoleSet builds a set from roles
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.With(r)
	}
	return s
}

// ParseRoleSet keeps the recognized names and drops the rest
func ParseRoleSet(names []string) RoleSet {
	var s RoleSet
	for _, name := range names {
		if r, err := ParseRole(name); err == nil {
			s = s.With(r)
		}
	}
	return s
}

// With returns the set plus r
func (s RoleSet) With(r Role) RoleSet {
	if r == 0 {
		return s
	}
	return s | 1<<(r-1)
}

// Has reports whether r is in the set
func (s RoleSet) Has(r Role) bool {
	return r != 0 && s&(1<<(r-1)) != 0
}

// Intersects reports whether the sets share a role
func (s RoleSet) Intersects(other RoleSet) bool {
	return s&other != 0
}

// IsEmpty reports whether the set holds no role
func (s RoleSet) IsEmpty() bool {
	return s == 0
}

// Roles returns the members in declaration order
func (s RoleSet) Roles() []Role {
	roles := make([]Role, 0, len(AllRoles))
	for _, r := range AllRoles {
		if s.Has(r) {
			roles = append(roles, r)
		}
	}
	return roles
}

// Names returns the realm role names of the members
func (s RoleSet) Names() []string {
	roles := s.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return names
}

// String renders the set as a comma separated list
func (s RoleSet) String() string {
	return strings.Join(s.Names(), ",")
}
