package rbac

import (
	"fmt"
	"strings"

	"github.com/evdms/evdms/internal/shared"
)

// Role is the closed set of principal roles. The zero value, NoRole, stands
// for "no authenticated principal".
type Role uint8

const (
	NoRole Role = iota
	RoleAdmin
	RoleEVMStaff
	RoleEVMManager
	RoleDealerManager
	RoleDealerStaff
	RoleCustomer

	roleSentinel
)

var roleNames = [...]string{
	NoRole:            "",
	RoleAdmin:         "Admin",
	RoleEVMStaff:      "EVMStaff",
	RoleEVMManager:    "EVMManager",
	RoleDealerManager: "DealerManager",
	RoleDealerStaff:   "DealerStaff",
	RoleCustomer:      "Customer",
}

// AllRoles lists every authenticated role.
func AllRoles() []Role {
	roles := make([]Role, 0, int(roleSentinel)-1)
	for r := RoleAdmin; r < roleSentinel; r++ {
		roles = append(roles, r)
	}
	return roles
}

// Valid reports whether r is an authenticated role of the enumeration.
func (r Role) Valid() bool {
	return r > NoRole && r < roleSentinel
}

func (r Role) String() string {
	if r < roleSentinel {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// MarshalText encodes the canonical role name.
func (r Role) MarshalText() ([]byte, error) {
	if r != NoRole && !r.Valid() {
		return nil, fmt.Errorf("%w: role %d outside enumeration", shared.ErrConfiguration, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a canonical role name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole maps a role name to the enumeration. The empty string is NoRole.
func ParseRole(name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return NoRole, nil
	}
	for r := RoleAdmin; r < roleSentinel; r++ {
		if strings.EqualFold(roleNames[r], name) {
			return r, nil
		}
	}
	return NoRole, fmt.Errorf("%w: unknown role %q", shared.ErrConfiguration, name)
}

// Principal describes the authenticated actor. It is issued by the identity
// provider and replaced wholesale on login and logout.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	DealerID    string `json:"dealer_id,omitempty"`
}

// IsDealer reports whether the principal acts for a dealer.
func (p Principal) IsDealer() bool {
	return p.Role == RoleDealerManager || p.Role == RoleDealerStaff
}

// ActsFor reports whether p may act on records of dealerID. Dealer roles are
// confined to their own dealer; EVM roles and Admin act for every dealer.
// Customers and the null principal act for none.
func (p Principal) ActsFor(dealerID string) bool {
	switch {
	case p.IsDealer():
		return p.DealerID != "" && p.DealerID == dealerID
	case p.Role == RoleAdmin, p.Role == RoleEVMStaff, p.Role == RoleEVMManager:
		return true
	}
	return false
}

// Namespace is the API and route segment a role is confined to.
type Namespace string

const (
	NamespaceCMS      Namespace = "cms"
	NamespaceDealer   Namespace = "dealer"
	NamespaceCustomer Namespace = "customer"
)

// Resolution is the output of Resolve.
type Resolution struct {
	Namespace   Namespace    `json:"namespace"`
	BasePath    string       `json:"base_path"`
	Permissions []Permission `json:"permissions"`
}

// DefaultBasePath is where the unauthenticated entry point lives.
const DefaultBasePath = "/cms"

var resolutions = map[Role]Resolution{
	RoleAdmin:         {Namespace: NamespaceCMS, BasePath: "/cms/dashboard"},
	RoleEVMStaff:      {Namespace: NamespaceCMS, BasePath: "/cms/dashboard"},
	RoleEVMManager:    {Namespace: NamespaceCMS, BasePath: "/cms/dashboard"},
	RoleDealerManager: {Namespace: NamespaceDealer, BasePath: "/dealer/dashboard"},
	RoleDealerStaff:   {Namespace: NamespaceDealer, BasePath: "/dealer/dashboard"},
	RoleCustomer:      {Namespace: NamespaceCustomer, BasePath: "/customer/dashboard"},
}

func init() {
	if err := validateTables(); err != nil {
		panic(err)
	}
}

// validateTables checks the resolution and permission tables cover the whole
// enumeration and nothing else.
func validateTables() error {
	if len(resolutions) != len(AllRoles()) || len(permissionMatrix) != len(AllRoles()) {
		return fmt.Errorf("%w: role tables do not match the enumeration", shared.ErrConfiguration)
	}
	for _, r := range AllRoles() {
		if _, ok := resolutions[r]; !ok {
			return fmt.Errorf("%w: no resolution for role %s", shared.ErrConfiguration, r)
		}
		if _, ok := permissionMatrix[r]; !ok {
			return fmt.Errorf("%w: no permissions for role %s", shared.ErrConfiguration, r)
		}
	}
	return nil
}

// Resolve maps a role to its namespace, base path and permission set.
// NoRole resolves to the cms entry point and grants nothing. A value outside
// the enumeration is a programming error.
func Resolve(role Role) (Resolution, error) {
	switch role {
	case NoRole:
		return Resolution{Namespace: NamespaceCMS, BasePath: DefaultBasePath, Permissions: []Permission{}}, nil
	case RoleAdmin, RoleEVMStaff, RoleEVMManager, RoleDealerManager, RoleDealerStaff, RoleCustomer:
		res := resolutions[role]
		res.Permissions = Permissions(role)
		return res, nil
	default:
		return Resolution{}, fmt.Errorf("%w: role %d outside enumeration", shared.ErrConfiguration, uint8(role))
	}
}

// MustResolve is Resolve for call sites where the role is known valid.
func MustResolve(role Role) Resolution {
	res, err := Resolve(role)
	if err != nil {
		panic(err)
	}
	return res
}
