package scope

import (
	"fmt"
	"testing"
)

func TestDefaultGrants(t *testing.T) {
	table := Default()

	cases := []struct {
		role  Role
		scope Scope
		want  bool
	}{
		{RoleUser, ProfileReadOwn, true},
		{RoleUser, ProfileWriteOwn, true},
		{RoleUser, OrdersReadOwn, true},
		{RoleUser, OrdersReadAny, false},
		{RoleUser, PaymentsReadAny, false},
		{RoleUser, UsersSuspend, false},
		{RoleStaff, OrdersReadAny, true},
		{RoleStaff, OrdersReadOwn, false},
		{RoleStaff, ProductsWrite, false},
		{RoleAdmin, ProfileReadOwn, true},
		{RoleAdmin, OrdersReadAny, true},
		{RoleAdmin, PaymentsReadAny, true},
		{RoleAdmin, ProductsWrite, true},
		{RoleAdmin, UsersSuspend, true},
	}
	for _, tc := range cases {
		if got := table.Allowed(tc.role, tc.scope); got != tc.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tc.role, tc.scope, got, tc.want)
		}
	}
}

func TestAllowedMultipleScopes(t *testing.T) {
	table := Default()

	if !table.Allowed(RoleAdmin, OrdersReadAny, PaymentsReadAny) {
		t.Fatal("admin denied a held pair")
	}
	if table.Allowed(RoleStaff, OrdersReadAny, PaymentsReadAny) {
		t.Fatal("staff granted a pair with one missing scope")
	}
	// Zero required scopes always passes for a known role.
	if !table.Allowed(RoleUser) {
		t.Fatal("known role denied with no required scopes")
	}
}

func TestAllowedUnknownRoleAndScope(t *testing.T) {
	table := Default()

	if table.Allowed(Role("superadmin"), ProfileReadOwn) {
		t.Fatal("unknown role granted")
	}
	if table.Allowed(RoleAdmin, Scope("nuclear:launch")) {
		t.Fatal("unknown scope granted")
	}
	if table.Allowed(Role("")) {
		t.Fatal("empty role granted")
	}
}

func TestScopesListing(t *testing.T) {
	table := Default()

	got := table.Scopes(RoleUser)
	if len(got) != 3 {
		t.Fatalf("user scopes = %v, want 3 entries", got)
	}
	set := map[Scope]bool{}
	for _, s := range got {
		set[s] = true
	}
	if !set[ProfileReadOwn] || !set[ProfileWriteOwn] || !set[OrdersReadOwn] {
		t.Fatalf("user scopes = %v", got)
	}

	if table.Scopes(Role("ghost")) != nil {
		t.Fatal("unknown role returned scopes")
	}
}

func TestNewTableValidation(t *testing.T) {
	if _, err := NewTable(nil); err == nil {
		t.Fatal("empty grants accepted")
	}
	if _, err := NewTable(map[Role][]Scope{"": {ProfileReadOwn}}); err == nil {
		t.Fatal("empty role name accepted")
	}
	if _, err := NewTable(map[Role][]Scope{"x": {""}}); err == nil {
		t.Fatal("empty scope accepted")
	}
}

func TestNewTableScopeCap(t *testing.T) {
	scopes := make([]Scope, 65)
	for i := range scopes {
		scopes[i] = Scope(fmt.Sprintf("s:%d", i))
	}
	if _, err := NewTable(map[Role][]Scope{"x": scopes}); err == nil {
		t.Fatal("65 scopes accepted")
	}
	if _, err := NewTable(map[Role][]Scope{"x": scopes[:64]}); err != nil {
		t.Fatalf("64 scopes rejected: %v", err)
	}
}

func TestKnownRole(t *testing.T) {
	table := Default()
	if !table.KnownRole(RoleUser) || !table.KnownRole(RoleStaff) || !table.KnownRole(RoleAdmin) {
		t.Fatal("standard role unknown")
	}
	if table.KnownRole(Role("root")) {
		t.Fatal("unknown role reported known")
	}
}
