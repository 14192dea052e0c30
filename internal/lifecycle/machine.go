// Package lifecycle holds the Order and Quotation state machines. Machines
// decide legality only; persistence is the caller's business.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

// TransitionError reports a rejected edge.
type TransitionError struct {
	Machine string
	From    string
	To      string
	Role    rbac.Role
	// Expired is set when the edge was rejected because the entity is overdue.
	Expired bool
}

func (e *TransitionError) Error() string {
	role := e.Role.String()
	if role == "" {
		role = "system"
	}
	msg := fmt.Sprintf("%s: %s cannot move %s -> %s", e.Machine, role, e.From, e.To)
	if e.Expired {
		msg += " (expired)"
	}
	return msg
}

// Is matches ErrInvalidTransition, and ErrExpired for overdue entities.
func (e *TransitionError) Is(target error) bool {
	if target == shared.ErrInvalidTransition {
		return true
	}
	return e.Expired && target == shared.ErrExpired
}

// Unwrap exposes the taxonomy sentinel.
func (e *TransitionError) Unwrap() error {
	return shared.ErrInvalidTransition
}

// AsTransitionError extracts a TransitionError from err.
func AsTransitionError(err error) (*TransitionError, bool) {
	var te *TransitionError
	ok := errors.As(err, &te)
	return te, ok
}

type edge[S ~string] struct {
	from, to S
}

// machine is an edge table with a terminal set and a per-edge role guard.
type machine[S ~string] struct {
	name     string
	initial  S
	states   map[S]struct{}
	terminal map[S]struct{}
	guards   map[edge[S]]func(rbac.Role) bool
}

func newMachine[S ~string](name string, initial S, states []S, terminal []S) *machine[S] {
	m := &machine[S]{
		name:     name,
		initial:  initial,
		states:   make(map[S]struct{}, len(states)),
		terminal: make(map[S]struct{}, len(terminal)),
		guards:   make(map[edge[S]]func(rbac.Role) bool),
	}
	for _, s := range states {
		m.states[s] = struct{}{}
	}
	for _, s := range terminal {
		m.terminal[s] = struct{}{}
	}
	return m
}

func (m *machine[S]) allow(guard func(rbac.Role) bool, to S, from ...S) {
	for _, f := range from {
		if _, terminal := m.terminal[f]; terminal {
			panic(fmt.Sprintf("%s: edge out of terminal state %s", m.name, f))
		}
		m.guards[edge[S]{f, to}] = guard
	}
}

func (m *machine[S]) valid(s S) bool {
	_, ok := m.states[s]
	return ok
}

func (m *machine[S]) isTerminal(s S) bool {
	_, ok := m.terminal[s]
	return ok
}

func (m *machine[S]) canTransition(from, to S, role rbac.Role) bool {
	guard, ok := m.guards[edge[S]{from, to}]
	return ok && guard(role)
}

// next lists the targets role may move to from s.
func (m *machine[S]) next(from S, role rbac.Role) []S {
	out := make([]S, 0)
	for e, guard := range m.guards {
		if e.from == from && guard(role) {
			out = append(out, e.to)
		}
	}
	return out
}

func (m *machine[S]) reject(from, to S, role rbac.Role, expired bool) error {
	return &TransitionError{Machine: m.name, From: string(from), To: string(to), Role: role, Expired: expired}
}

func holds(perm rbac.Permission) func(rbac.Role) bool {
	return func(r rbac.Role) bool { return rbac.Can(r, perm) }
}
