package orgs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"owner", RoleOwner, false},
		{" Admin ", RoleAdmin, false},
		{"member", RoleMember, false},
		{"viewer", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRole)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	for _, stored := range []string{"owner", "admin", "member"} {
		role, ok := NormalizeRole(stored)
		assert.True(t, ok)
		assert.Equal(t, Role(stored), role)
	}

	for _, stored := range []string{"", "OWNER", "superadmin", "viewer"} {
		role, ok := NormalizeRole(stored)
		assert.False(t, ok, stored)
		assert.Equal(t, RoleMember, role, stored)
		assert.True(t, role.Valid())
	}
}

func TestNormalizePlan(t *testing.T) {
	assert.Equal(t, PlanPro, NormalizePlan("pro"))
	assert.Equal(t, PlanFree, NormalizePlan(""))
	assert.Equal(t, PlanFree, NormalizePlan("platinum"))
}

func TestSelector(t *testing.T) {
	assert.True(t, Selector{}.Empty())
	assert.False(t, Selector{ID: "x"}.Empty())
	assert.Equal(t, "slug:acme", Selector{Slug: "acme", ID: "x"}.String())
	assert.Equal(t, "id:x", Selector{ID: "x"}.String())
}

func TestGenerateSlug(t *testing.T) {
	assert.Equal(t, "acme-corp", generateSlug("Acme Corp!"))
	assert.Equal(t, "demo", generateSlug("  demo "))
}
