// Package scope implements the role→scope authorization model as an
// immutable table built once at startup. Each registered scope owns a
// bit in a 64-bit mask and every role holds the union of its scopes'
// bits, so a decision is a mask comparison with no allocation.
package scope

import (
	"errors"
	"fmt"
)

// Scope names follow the resource:action[:range] convention.
type Scope string

const (
	ProfileReadOwn  Scope = "profile:read:own"
	ProfileWriteOwn Scope = "profile:write:own"
	OrdersReadOwn   Scope = "orders:read:own"
	OrdersReadAny   Scope = "orders:read:any"
	PaymentsReadAny Scope = "payments:read:any"
	ProductsWrite   Scope = "products:write"
	UsersSuspend    Scope = "users:suspend"
)

// Role is a user's authorization role.
type Role string

const (
	RoleUser  Role = "user"
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

type mask uint64

func (m mask) contains(sub mask) bool { return m&sub == sub }

// Table maps roles to scope masks. Once built it is never mutated, so
// concurrent reads need no synchronization.
type Table struct {
	bits  map[Scope]int
	roles map[Role]mask
}

// NewTable builds a frozen table from a role→scopes mapping. At most
// 64 distinct scopes can be declared. Scope values outside the
// predeclared constants are accepted and get their own bit.
func NewTable(grants map[Role][]Scope) (*Table, error) {
	if len(grants) == 0 {
		return nil, errors.New("scope: no roles declared")
	}

	t := &Table{
		bits:  make(map[Scope]int),
		roles: make(map[Role]mask, len(grants)),
	}

	for role, scopes := range grants {
		if role == "" {
			return nil, errors.New("scope: empty role name")
		}
		var m mask
		for _, s := range scopes {
			if s == "" {
				return nil, fmt.Errorf("scope: role %q declares an empty scope", role)
			}
			bit, ok := t.bits[s]
			if !ok {
				bit = len(t.bits)
				if bit >= 64 {
					return nil, errors.New("scope: more than 64 distinct scopes")
				}
				t.bits[s] = bit
			}
			m |= 1 << bit
		}
		t.roles[role] = m
	}

	return t, nil
}

// Default returns the standard three-role table.
func Default() *Table {
	t, err := NewTable(map[Role][]Scope{
		RoleUser: {
			ProfileReadOwn,
			ProfileWriteOwn,
			OrdersReadOwn,
		},
		RoleStaff: {
			ProfileReadOwn,
			ProfileWriteOwn,
			OrdersReadAny,
		},
		RoleAdmin: {
			ProfileReadOwn,
			ProfileWriteOwn,
			OrdersReadAny,
			PaymentsReadAny,
			ProductsWrite,
			UsersSuspend,
		},
	})
	if err != nil {
		// The default table is static; a failure here is a programming error.
		panic(err)
	}
	return t
}

// Allowed reports whether role holds every scope in required. Unknown
// roles and unknown scopes never pass.
func (t *Table) Allowed(role Role, required ...Scope) bool {
	held, ok := t.roles[role]
	if !ok {
		return false
	}

	var want mask
	for _, s := range required {
		bit, ok := t.bits[s]
		if !ok {
			return false
		}
		want |= 1 << bit
	}
	return held.contains(want)
}

// Scopes lists the scopes held by role, in no particular order.
func (t *Table) Scopes(role Role) []Scope {
	held, ok := t.roles[role]
	if !ok {
		return nil
	}
	out := make([]Scope, 0, len(t.bits))
	for s, bit := range t.bits {
		if held&(1<<bit) != 0 {
			out = append(out, s)
		}
	}
	return out
}

// KnownRole reports whether role exists in the table.
func (t *Table) KnownRole(role Role) bool {
	_, ok := t.roles[role]
	return ok
}
