package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestScopeMatchesInTenant(t *testing.T) {
	scope := InTenant(7)

	cases := []struct {
		name       string
		assignment *int64
		perm       *int64
		want       bool
	}{
		{"global assignment, global permission", nil, nil, true},
		{"global assignment, same tenant permission", nil, ptr(7), true},
		{"global assignment, other tenant permission", nil, ptr(8), false},
		{"same tenant assignment, global permission", ptr(7), nil, true},
		{"same tenant assignment, same tenant permission", ptr(7), ptr(7), true},
		{"same tenant assignment, other tenant permission", ptr(7), ptr(8), false},
		{"other tenant assignment, global permission", ptr(8), nil, false},
		{"other tenant assignment, same tenant permission", ptr(8), ptr(7), false},
		{"other tenant assignment, other tenant permission", ptr(8), ptr(8), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, scope.Matches(tc.assignment, tc.perm))
		})
	}
}

func TestScopeMatchesGlobal(t *testing.T) {
	scope := Global()

	require.True(t, scope.Matches(nil, nil))
	require.False(t, scope.Matches(ptr(7), nil), "tenant-scoped assignment must not satisfy a global check even for a global permission")
	require.False(t, scope.Matches(nil, ptr(7)))
	require.False(t, scope.Matches(ptr(7), ptr(7)))
}

func TestScopeMatchesAnywhere(t *testing.T) {
	scope := Anywhere()

	cases := []struct {
		name       string
		assignment *int64
		perm       *int64
		want       bool
	}{
		{"both global", nil, nil, true},
		// A global assignment counts for any tenant-restricted permission.
		{"global assignment, tenant permission", nil, ptr(7), true},
		// A tenant-scoped assignment does not leak into claiming a global
		// permission under the context-free check.
		{"tenant assignment, global permission", ptr(7), nil, false},
		{"matching tenants", ptr(7), ptr(7), true},
		{"mismatched tenants", ptr(8), ptr(7), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, scope.Matches(tc.assignment, tc.perm))
		})
	}
}

func TestScopeMatchesAssignment(t *testing.T) {
	require.True(t, InTenant(7).MatchesAssignment(nil))
	require.True(t, InTenant(7).MatchesAssignment(ptr(7)))
	require.False(t, InTenant(7).MatchesAssignment(ptr(8)))

	require.True(t, Global().MatchesAssignment(nil))
	require.False(t, Global().MatchesAssignment(ptr(7)))

	require.True(t, Anywhere().MatchesAssignment(nil))
	require.True(t, Anywhere().MatchesAssignment(ptr(7)))
}

func TestScopeString(t *testing.T) {
	require.Equal(t, "in-tenant(7)", InTenant(7).String())
	require.Equal(t, "global", Global().String())
	require.Equal(t, "anywhere", Anywhere().String())
}
