package authz

// Principal is the verified identity behind a request. It lives for one request.
type Principal struct {
	SubjectID      string
	Roles          RoleSet
	OrganizationID string
}

// NewPrincipal builds a principal from raw token values. Unrecognized role
// names are dropped.
func NewPrincipal(subjectID string, roleNames []string, organizationID string) Principal {
	return Principal{
		SubjectID:      subjectID,
		Roles:          ParseRoleSet(roleNames),
		OrganizationID: organizationID,
	}
}

// Complete reports whether the principal carries a subject, an organization and at least one role
func (p Principal) Complete() bool {
	return p.SubjectID != "" && p.OrganizationID != "" && !p.Roles.IsEmpty()
}

// IsPlatformAdmin reports whether the principal holds the superuser role
func (p Principal) IsPlatformAdmin() bool {
	return p.Roles.Has(RolePlatformAdmin)
}
