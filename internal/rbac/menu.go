package rbac

// MenuItem is a navigation entry. Route may be empty for pure groups.
type MenuItem struct {
	Title    string     `json:"title"`
	Route    string     `json:"route,omitempty"`
	Children []MenuItem `json:"children,omitempty"`
}

// FilterMenu drops every item role cannot reach. An item survives when its
// own route is accessible or at least one of its children survives.
func FilterMenu(table *RouteTable, items []MenuItem, role Role) []MenuItem {
	out := make([]MenuItem, 0, len(items))
	for _, item := range items {
		children := FilterMenu(table, item.Children, role)
		ownAccess := item.Route != "" && table.CanAccess(item.Route, role)
		if !ownAccess && len(children) == 0 {
			continue
		}
		kept := item
		if !ownAccess {
			kept.Route = ""
		}
		kept.Children = nil
		if len(children) > 0 {
			kept.Children = children
		}
		out = append(out, kept)
	}
	return out
}

// DefaultMenu is the dashboard navigation across all namespaces. Callers
// filter it per principal.
func DefaultMenu() []MenuItem {
	return []MenuItem{
		{Title: "Dashboard", Route: "/cms/dashboard"},
		{Title: "Dashboard", Route: "/dealer/dashboard"},
		{Title: "Dashboard", Route: "/customer/dashboard"},
		{Title: "Catalog", Children: []MenuItem{
			{Title: "Vehicles", Route: "/cms/vehicles"},
			{Title: "Inventory", Route: "/cms/inventory"},
			{Title: "Vehicles", Route: "/dealer/vehicles"},
			{Title: "Vehicles", Route: "/customer/vehicles"},
		}},
		{Title: "Sales", Children: []MenuItem{
			{Title: "Quotations", Route: "/dealer/quotations"},
			{Title: "Orders", Route: "/dealer/orders"},
			{Title: "Customers", Route: "/dealer/customers"},
			{Title: "Orders", Route: "/cms/orders"},
			{Title: "My quotations", Route: "/customer/quotations"},
			{Title: "My orders", Route: "/customer/orders"},
		}},
		{Title: "Finance", Children: []MenuItem{
			{Title: "Payments", Route: "/dealer/payments"},
			{Title: "Debt", Route: "/dealer/debt"},
		}},
		{Title: "Dealers", Route: "/cms/dealers", Children: []MenuItem{
			{Title: "Contracts", Route: "/cms/dealers/contracts"},
		}},
		{Title: "Administration", Children: []MenuItem{
			{Title: "Reports", Route: "/cms/reports"},
			{Title: "Users", Route: "/cms/users"},
			{Title: "Staff", Route: "/dealer/staff"},
		}},
	}
}
