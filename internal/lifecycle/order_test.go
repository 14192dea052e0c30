package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

var allOrderStates = []OrderStatus{OrderPending, OrderApproved, OrderVehicleAllocated, OrderDelivered, OrderCompleted, OrderCancelled}

func TestOrderEdgeTable(t *testing.T) {
	m := NewOrderMachine()
	allowed := map[[2]OrderStatus]bool{
		{OrderPending, OrderApproved}:           true,
		{OrderApproved, OrderVehicleAllocated}:  true,
		{OrderVehicleAllocated, OrderDelivered}: true,
		{OrderDelivered, OrderCompleted}:        true,
		{OrderPending, OrderCancelled}:          true,
		{OrderApproved, OrderCancelled}:         true,
		{OrderVehicleAllocated, OrderCancelled}: true,
	}
	for _, from := range allOrderStates {
		for _, to := range allOrderStates {
			want := allowed[[2]OrderStatus{from, to}]
			assert.Equal(t, want, m.CanTransition(from, to, rbac.RoleAdmin), "%s -> %s", from, to)

			_, err := m.Apply(Order{ID: "o-1", Status: from}, to, rbac.RoleAdmin)
			if want {
				assert.NoError(t, err)
				continue
			}
			require.ErrorIs(t, err, shared.ErrInvalidTransition, "%s -> %s", from, to)
		}
	}
}

func TestOrderCancelUnreachableAfterDelivery(t *testing.T) {
	m := NewOrderMachine()
	for _, role := range rbac.AllRoles() {
		assert.False(t, m.CanTransition(OrderDelivered, OrderCancelled, role))
		assert.False(t, m.CanTransition(OrderCompleted, OrderCancelled, role))
	}
	assert.True(t, m.IsTerminal(OrderCompleted))
	assert.True(t, m.IsTerminal(OrderCancelled))
	assert.Empty(t, m.Next(OrderCompleted, rbac.RoleAdmin))
}

func TestOrderRoleGuard(t *testing.T) {
	m := NewOrderMachine()
	writers := []rbac.Role{rbac.RoleAdmin, rbac.RoleEVMStaff, rbac.RoleEVMManager, rbac.RoleDealerManager}
	readers := []rbac.Role{rbac.RoleCustomer, rbac.RoleDealerStaff, rbac.NoRole}

	for _, role := range writers {
		assert.True(t, m.CanTransition(OrderPending, OrderApproved, role), "%s", role)
		assert.True(t, m.CanTransition(OrderApproved, OrderCancelled, role), "%s", role)
	}
	for _, role := range readers {
		for _, to := range allOrderStates {
			assert.False(t, m.CanTransition(OrderPending, to, role), "%s -> %s", role, to)
		}
	}
}

func TestOrderApplyReportsDetailsAndDoesNotMutate(t *testing.T) {
	m := NewOrderMachine()
	in := Order{ID: "o-1", Status: OrderPending}

	_, err := m.Apply(in, OrderApproved, rbac.RoleCustomer)
	require.Error(t, err)
	te, ok := AsTransitionError(err)
	require.True(t, ok)
	assert.Equal(t, "order", te.Machine)
	assert.Equal(t, "pending", te.From)
	assert.Equal(t, "approved", te.To)
	assert.Equal(t, rbac.RoleCustomer, te.Role)
	assert.False(t, errors.Is(err, shared.ErrExpired))
	assert.Equal(t, OrderPending, in.Status)

	out, err := m.Apply(in, OrderApproved, rbac.RoleEVMStaff)
	require.NoError(t, err)
	assert.Equal(t, OrderApproved, out.Status)
	assert.Equal(t, OrderPending, in.Status)
}

func TestOrderNext(t *testing.T) {
	m := NewOrderMachine()
	assert.Equal(t, []OrderStatus{OrderApproved, OrderCancelled}, m.Next(OrderPending, rbac.RoleDealerManager))
	assert.Empty(t, m.Next(OrderPending, rbac.RoleCustomer))
	assert.Equal(t, OrderPending, m.Initial())
	assert.False(t, m.Valid("shipped"))
}
