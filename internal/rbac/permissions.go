package rbac

import "sort"

// Permission is an atomic capability granted to a role.
type Permission string

const (
	PermOrderView    Permission = "order.view"
	PermOrderAdvance Permission = "order.advance"
	PermOrderCancel  Permission = "order.cancel"

	PermQuotationView    Permission = "quotation.view"
	PermQuotationCreate  Permission = "quotation.create"
	PermQuotationSend    Permission = "quotation.send"
	PermQuotationRespond Permission = "quotation.respond"

	PermLedgerView     Permission = "ledger.view"
	PermLedgerCharge   Permission = "ledger.charge"
	PermLedgerPayment  Permission = "ledger.payment"
	PermLedgerOverride Permission = "ledger.override"

	PermPricingQuote Permission = "pricing.quote"
)

// AllPermissions lists every declared capability.
func AllPermissions() []Permission {
	return []Permission{
		PermOrderView, PermOrderAdvance, PermOrderCancel,
		PermQuotationView, PermQuotationCreate, PermQuotationSend, PermQuotationRespond,
		PermLedgerView, PermLedgerCharge, PermLedgerPayment, PermLedgerOverride,
		PermPricingQuote,
	}
}

var permissionMatrix = map[Role]map[Permission]bool{
	RoleAdmin: {},
	RoleEVMManager: {
		PermOrderView: true, PermOrderAdvance: true, PermOrderCancel: true,
		PermQuotationView: true,
		PermLedgerView:    true, PermLedgerCharge: true, PermLedgerPayment: true,
		PermPricingQuote: true,
	},
	RoleEVMStaff: {
		PermOrderView: true, PermOrderAdvance: true, PermOrderCancel: true,
		PermQuotationView: true,
		PermLedgerView:    true, PermLedgerCharge: true, PermLedgerPayment: true,
		PermPricingQuote: true,
	},
	RoleDealerManager: {
		PermOrderView: true, PermOrderAdvance: true, PermOrderCancel: true,
		PermQuotationView: true, PermQuotationCreate: true, PermQuotationSend: true, PermQuotationRespond: true,
		PermLedgerView: true, PermLedgerPayment: true,
		PermPricingQuote: true,
	},
	RoleDealerStaff: {
		PermOrderView:     true,
		PermQuotationView: true, PermQuotationCreate: true, PermQuotationSend: true, PermQuotationRespond: true,
		PermPricingQuote: true,
	},
	RoleCustomer: {
		PermOrderView:     true,
		PermQuotationView: true, PermQuotationRespond: true,
		PermPricingQuote: true,
	},
}

func init() {
	for _, p := range AllPermissions() {
		permissionMatrix[RoleAdmin][p] = true
	}
}

// Can reports whether role holds perm. NoRole and unknown roles hold nothing.
func Can(role Role, perm Permission) bool {
	return permissionMatrix[role][perm]
}

// Permissions returns the sorted capability set of role.
func Permissions(role Role) []Permission {
	granted := permissionMatrix[role]
	out := make([]Permission, 0, len(granted))
	for p, ok := range granted {
		if ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
