package keycloak

import (
	"github.com/golang-jwt/jwt/v5"
)

// RealmAccess holds the realm-level role assignments of a Keycloak token
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// Claims represents the claims of a Keycloak access token that the gateway relies on
type Claims struct {
	jwt.RegisteredClaims

	// AuthorizedParty is the client the token was issued to
	AuthorizedParty   string      `json:"azp"`
	RealmAccess       RealmAccess `json:"realm_access"`
	OrgID             string      `json:"org_id"`
	Email             string      `json:"email,omitempty"`
	PreferredUsername string      `json:"preferred_username,omitempty"`
}

// Roles returns the realm roles carried by the token
func (c *Claims) Roles() []string {
	return c.RealmAccess.Roles
}
