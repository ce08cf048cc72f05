package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, role := range AllRoles {
		parsed, err := ParseRole(role.String())
		require.NoError(t, err)
		assert.Equal(t, role, parsed)
	}

	_, err := ParseRole("offline_access")
	assert.Error(t, err)

	_, err = ParseRole("platform_admin")
	assert.Error(t, err, "role names are case sensitive")
}

func TestRoleSet(t *testing.T) {
	t.Run("membership", func(t *testing.T) {
		s := NewRoleSet(RoleOrgAdmin)

		assert.True(t, s.Has(RoleOrgAdmin))
		assert.False(t, s.Has(RolePlatformAdmin))
		assert.False(t, s.IsEmpty())
		assert.Equal(t, []string{"ORG_ADMIN"}, s.Names())
	})

	t.Run("intersection", func(t *testing.T) {
		admins := NewRoleSet(RolePlatformAdmin, RoleOrgAdmin)

		assert.True(t, admins.Intersects(NewRoleSet(RoleOrgAdmin)))
		assert.False(t, NewRoleSet(RolePlatformAdmin).Intersects(NewRoleSet(RoleOrgAdmin)))
		assert.False(t, admins.Intersects(RoleSet(0)))
	})

	t.Run("parse drops unknown names", func(t *testing.T) {
		s := ParseRoleSet([]string{"offline_access", "ORG_ADMIN", "uma_authorization"})

		assert.Equal(t, NewRoleSet(RoleOrgAdmin), s)
		assert.True(t, ParseRoleSet(nil).IsEmpty())
		assert.True(t, ParseRoleSet([]string{"default-roles-memcrypt"}).IsEmpty())
	})

	t.Run("names follow declaration order", func(t *testing.T) {
		s := NewRoleSet(RoleOrgAdmin, RolePlatformAdmin)

		assert.Equal(t, []string{"PLATFORM_ADMIN", "ORG_ADMIN"}, s.Names())
		assert.Equal(t, "PLATFORM_ADMIN,ORG_ADMIN", s.String())
	})

	t.Run("zero role is ignored", func(t *testing.T) {
		assert.True(t, NewRoleSet(Role(0)).IsEmpty())
		assert.False(t, RoleSet(0xff).Has(Role(0)))
	})
}

func TestPrincipal(t *testing.T) {
	p := NewPrincipal("u1", []string{"PLATFORM_ADMIN"}, "org1")
	assert.True(t, p.Complete())
	assert.True(t, p.IsPlatformAdmin())

	assert.False(t, NewPrincipal("", []string{"ORG_ADMIN"}, "org1").Complete())
	assert.False(t, NewPrincipal("u1", []string{"ORG_ADMIN"}, "").Complete())
	assert.False(t, NewPrincipal("u1", []string{"offline_access"}, "org1").Complete())
}
