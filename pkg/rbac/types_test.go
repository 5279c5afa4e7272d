package rbac

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPermission(t *testing.T, s string) Permission {
	t.Helper()
	p, err := ParsePermission(s)
	require.NoError(t, err)
	return p
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		level AccessLevel
		perm  string
		want  bool
	}{
		{LevelViewer, "invoices:read", true},
		{LevelViewer, "invoices:delete", false},
		{LevelAdmin, "invoices:delete", true},
		{LevelViewer, "clients:read", true},
		{LevelViewer, "settings:read", false},
		{LevelAccountant, "invoices:update", true},
		{LevelAccountant, "invoices:approve", false},
		{LevelAccountant, "clients:create", false},
		{LevelManager, "invoices:approve", true},
		{LevelManager, "settings:read", true},
		{LevelManager, "settings:update", false},
		{LevelManager, "clients:delete", false},
		{LevelAdmin, "settings:update", true},
		{AccessLevel("owner"), "invoices:read", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level)+"/"+tt.perm, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.level, mustPermission(t, tt.perm)))
		})
	}
}

func TestPermissionTableIsMonotonic(t *testing.T) {
	levels := AccessLevels()
	for i := 0; i < len(levels)-1; i++ {
		higher, lower := levels[i], levels[i+1]
		for _, p := range PermissionsFor(lower) {
			assert.True(t, HasPermission(higher, p), "%s should include %s from %s", higher, p, lower)
		}
		assert.Greater(t, len(PermissionsFor(higher)), len(PermissionsFor(lower)))
	}
	assert.Len(t, PermissionsFor(LevelAdmin), len(AllPermissions()))
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("invoices:approve")
	require.NoError(t, err)
	assert.Equal(t, InvoicesApprove, p)
	assert.Equal(t, "invoices:approve", p.String())

	for _, bad := range []string{"", "invoices", "invoices:publish", "payments:read", "invoices:read:extra"} {
		_, err := ParsePermission(bad)
		assert.Error(t, err, bad)
	}
}

func TestPermissionJSON(t *testing.T) {
	data, err := json.Marshal([]Permission{InvoicesRead, ClientsRead})
	require.NoError(t, err)
	assert.JSONEq(t, `["invoices:read","clients:read"]`, string(data))

	var back []Permission
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []Permission{InvoicesRead, ClientsRead}, back)

	assert.Error(t, json.Unmarshal([]byte(`["nope:read"]`), &back))
}

func TestParseAccessLevel(t *testing.T) {
	level, err := ParseAccessLevel(" Manager ")
	require.NoError(t, err)
	assert.Equal(t, LevelManager, level)

	_, err = ParseAccessLevel("owner")
	assert.Error(t, err)
}

func TestAccessLevelFor(t *testing.T) {
	tests := []struct {
		stored string
		want   AccessLevel
	}{
		{"owner", LevelAdmin},
		{"admin", LevelManager},
		{"member", LevelAccountant},
		{"OWNER", LevelAdmin},
		{"manager", LevelManager},
		{"accountant", LevelAccountant},
		{"viewer", LevelViewer},
		{"", LevelViewer},
		{"superuser", LevelViewer},
	}

	for _, tt := range tests {
		t.Run(tt.stored, func(t *testing.T) {
			assert.Equal(t, tt.want, AccessLevelFor(tt.stored))
		})
	}
}
