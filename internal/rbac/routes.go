package rbac

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/evdms/evdms/internal/shared"
)

//go:embed routes.json
var defaultRoutes []byte

// RouteEntry grants a route pattern, and everything below it, to a set of roles.
// Public entries are reachable without a session.
type RouteEntry struct {
	Pattern string `json:"pattern"`
	Roles   []Role `json:"allowedRoles"`
	Public  bool   `json:"public,omitempty"`
}

type compiledEntry struct {
	pattern string
	public  bool
	roles   map[Role]struct{}
}

// RouteTable is the static route permission table. It is built once at
// startup and read-only afterwards.
type RouteTable struct {
	entries map[string]compiledEntry
}

// NewRouteTable validates entries and compiles them into a table. Relative or
// duplicate patterns, unknown roles and entries granting nobody are rejected.
func NewRouteTable(entries []RouteEntry) (*RouteTable, error) {
	table := &RouteTable{entries: make(map[string]compiledEntry, len(entries))}
	for _, e := range entries {
		if !strings.HasPrefix(e.Pattern, "/") {
			return nil, fmt.Errorf("%w: route pattern %q must be absolute", shared.ErrConfiguration, e.Pattern)
		}
		pattern := normalizeRoute(e.Pattern)
		if _, dup := table.entries[pattern]; dup {
			return nil, fmt.Errorf("%w: duplicate route pattern %q", shared.ErrConfiguration, pattern)
		}
		if !e.Public && len(e.Roles) == 0 {
			return nil, fmt.Errorf("%w: route %q grants no role", shared.ErrConfiguration, pattern)
		}
		compiled := compiledEntry{pattern: pattern, public: e.Public, roles: make(map[Role]struct{}, len(e.Roles))}
		for _, r := range e.Roles {
			if !r.Valid() {
				return nil, fmt.Errorf("%w: route %q lists invalid role %d", shared.ErrConfiguration, pattern, uint8(r))
			}
			compiled.roles[r] = struct{}{}
		}
		table.entries[pattern] = compiled
	}
	return table, nil
}

// LoadRouteTable decodes a JSON list of entries.
func LoadRouteTable(r io.Reader) (*RouteTable, error) {
	var entries []RouteEntry
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decode route table: %v", shared.ErrConfiguration, err)
	}
	return NewRouteTable(entries)
}

// DefaultRouteTable returns the embedded route table.
func DefaultRouteTable() (*RouteTable, error) {
	return LoadRouteTable(bytes.NewReader(defaultRoutes))
}

// CanAccess reports whether role may reach route. The exact entry wins, then
// the longest entry that is a path-segment prefix of route. Routes with no
// matching entry are denied.
func (t *RouteTable) CanAccess(route string, role Role) bool {
	entry, ok := t.match(route)
	if !ok {
		return false
	}
	if entry.public {
		return true
	}
	_, granted := entry.roles[role]
	return granted
}

// IsPublic reports whether route resolves to a public entry.
func (t *RouteTable) IsPublic(route string) bool {
	entry, ok := t.match(route)
	return ok && entry.public
}

// Known reports whether any entry covers route.
func (t *RouteTable) Known(route string) bool {
	_, ok := t.match(route)
	return ok
}

func (t *RouteTable) match(route string) (compiledEntry, bool) {
	if t == nil {
		return compiledEntry{}, false
	}
	route = normalizeRoute(route)
	if e, ok := t.entries[route]; ok {
		return e, true
	}
	for candidate := route; candidate != "/"; {
		candidate = path.Dir(candidate)
		if e, ok := t.entries[candidate]; ok {
			return e, true
		}
	}
	return compiledEntry{}, false
}

// normalizeRoute strips query and fragment, cleans dot segments and trailing
// slashes. The result always starts with "/".
func normalizeRoute(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return path.Clean(route)
}
