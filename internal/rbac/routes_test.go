package rbac

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdms/evdms/internal/shared"
)

func testTable(t *testing.T) *RouteTable {
	t.Helper()
	table, err := NewRouteTable([]RouteEntry{
		{Pattern: "/login", Public: true},
		{Pattern: "/cms", Roles: []Role{RoleAdmin, RoleEVMStaff, RoleEVMManager}},
		{Pattern: "/cms/users", Roles: []Role{RoleAdmin}},
		{Pattern: "/dealer", Roles: []Role{RoleDealerManager, RoleDealerStaff}},
		{Pattern: "/dealer/debt", Roles: []Role{RoleDealerManager}},
	})
	require.NoError(t, err)
	return table
}

func TestCanAccessExactMatch(t *testing.T) {
	table := testTable(t)
	assert.True(t, table.CanAccess("/cms/users", RoleAdmin))
	assert.False(t, table.CanAccess("/cms/users", RoleEVMStaff))
	assert.True(t, table.CanAccess("/dealer/debt", RoleDealerManager))
	assert.False(t, table.CanAccess("/dealer/debt", RoleDealerStaff))
}

func TestCanAccessLongestPrefix(t *testing.T) {
	table := testTable(t)
	// /cms/users/42 falls under /cms/users, not /cms.
	assert.True(t, table.CanAccess("/cms/users/42", RoleAdmin))
	assert.False(t, table.CanAccess("/cms/users/42", RoleEVMManager))
	assert.True(t, table.CanAccess("/cms/orders/7/edit", RoleEVMManager))
	assert.True(t, table.CanAccess("/dealer/quotations", RoleDealerStaff))
}

func TestCanAccessPrefixRespectsSegments(t *testing.T) {
	table := testTable(t)
	assert.False(t, table.CanAccess("/cmsx", RoleAdmin))
	assert.False(t, table.CanAccess("/dealers", RoleDealerManager))
}

func TestCanAccessFailsClosed(t *testing.T) {
	table := testTable(t)
	assert.False(t, table.CanAccess("/", RoleAdmin))
	assert.False(t, table.CanAccess("/unknown/page", RoleAdmin))
	assert.False(t, table.CanAccess("/cms", NoRole))
	assert.False(t, table.CanAccess("/cms", Role(99)))

	var empty *RouteTable
	assert.False(t, empty.CanAccess("/cms", RoleAdmin))
}

func TestCanAccessPublicRoutes(t *testing.T) {
	table := testTable(t)
	assert.True(t, table.CanAccess("/login", NoRole))
	assert.True(t, table.CanAccess("/login", RoleCustomer))
	assert.True(t, table.IsPublic("/login?redirect=%2Fcms"))
	assert.False(t, table.IsPublic("/cms"))
}

func TestCanAccessNormalisesRoute(t *testing.T) {
	table := testTable(t)
	assert.True(t, table.CanAccess("/cms/users/", RoleAdmin))
	assert.True(t, table.CanAccess("/cms/users?tab=roles", RoleAdmin))
	assert.False(t, table.CanAccess("/cms/../cms/users", RoleEVMStaff))
	assert.False(t, table.CanAccess("/dealer/../cms/users", RoleDealerManager))
}

func TestCanAccessIsDeterministic(t *testing.T) {
	table, err := DefaultRouteTable()
	require.NoError(t, err)
	routes := []string{"/cms", "/cms/dealers/contracts/3", "/dealer/debt", "/customer/orders/1", "/api/dealers/d-1/charges", "/nowhere"}
	for _, route := range routes {
		for _, role := range append(AllRoles(), NoRole) {
			first := table.CanAccess(route, role)
			for i := 0; i < 3; i++ {
				assert.Equal(t, first, table.CanAccess(route, role), "%s %s", route, role)
			}
		}
	}
}

func TestNewRouteTableValidation(t *testing.T) {
	cases := map[string][]RouteEntry{
		"relative":  {{Pattern: "cms", Roles: []Role{RoleAdmin}}},
		"duplicate": {{Pattern: "/cms", Roles: []Role{RoleAdmin}}, {Pattern: "/cms/", Roles: []Role{RoleEVMStaff}}},
		"no roles":  {{Pattern: "/cms"}},
		"bad role":  {{Pattern: "/cms", Roles: []Role{Role(42)}}},
		"no role":   {{Pattern: "/cms", Roles: []Role{NoRole}}},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRouteTable(entries)
			require.ErrorIs(t, err, shared.ErrConfiguration)
		})
	}
}

func TestLoadRouteTable(t *testing.T) {
	table, err := LoadRouteTable(strings.NewReader(`[{"pattern":"/cms","allowedRoles":["Admin","EVMStaff"]}]`))
	require.NoError(t, err)
	assert.True(t, table.CanAccess("/cms/anything", RoleEVMStaff))
	assert.False(t, table.CanAccess("/cms/anything", RoleEVMManager))

	_, err = LoadRouteTable(strings.NewReader(`[{"pattern":"/cms","allowedRoles":["Ghost"]}]`))
	require.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = LoadRouteTable(strings.NewReader(`[{"pattern":"/cms","roles":["Admin"]}]`))
	require.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestDefaultRouteTableMatchesNamespaces(t *testing.T) {
	table, err := DefaultRouteTable()
	require.NoError(t, err)
	for _, role := range AllRoles() {
		res := MustResolve(role)
		assert.True(t, table.CanAccess(res.BasePath, role), "%s cannot reach its base path", role)
		for _, other := range AllRoles() {
			if MustResolve(other).Namespace == res.Namespace {
				continue
			}
			assert.False(t, table.CanAccess(res.BasePath, other), "%s reaches %s", other, res.BasePath)
		}
	}
}
