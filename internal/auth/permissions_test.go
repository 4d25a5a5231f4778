package auth

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestAllPermissionsIsUnionOfModules(t *testing.T) {
	all := AllPermissions()
	total := 0
	for module := range rightsTable {
		perms := ModulePermissions(module)
		if len(perms) == 0 {
			t.Fatalf("module %s has no ALL bucket", module)
		}
		total += len(perms)
		for _, p := range perms {
			if _, ok := all[p]; !ok {
				t.Fatalf("%s missing from AllPermissions", p)
			}
		}
	}
	if len(all) != total {
		t.Fatalf("AllPermissions has %d entries, modules declare %d", len(all), total)
	}
	for _, p := range []string{PermAddUser, PermGetAllUsers, PermAddProject, PermAddTask, PermGetAllRoles} {
		if _, ok := all[p]; !ok {
			t.Fatalf("expected %s to be declared", p)
		}
	}
}

func TestSortedPermissions(t *testing.T) {
	sorted := SortedPermissions()
	if len(sorted) != len(AllPermissions()) {
		t.Fatalf("SortedPermissions has %d entries, want %d", len(sorted), len(AllPermissions()))
	}
	if !slices.IsSorted(sorted) {
		t.Fatalf("not sorted: %v", sorted)
	}
}

func TestRightsTableReturnsCopy(t *testing.T) {
	table := RightsTable()
	if table["users"][ActionAdd] != PermAddUser {
		t.Fatalf("unexpected users module: %v", table["users"])
	}
	table["users"][ActionAdd] = "launch_rocket"
	delete(table, "roles")

	if got, _ := Permission("users", ActionAdd); got != PermAddUser {
		t.Fatalf("table mutated through copy: %q", got)
	}
	if len(ModulePermissions("roles")) == 0 {
		t.Fatal("roles module removed through copy")
	}
	if _, ok := AllPermissions()["launch_rocket"]; ok {
		t.Fatal("undeclared right became valid")
	}
}

func TestActionBucketsAreInsideAll(t *testing.T) {
	for module, actions := range rightsTable {
		declared := ModulePermissions(module)
		for action, list := range actions {
			if action == ActionAll {
				continue
			}
			for _, p := range ParseRights(list) {
				if !slices.Contains(declared, p) {
					t.Fatalf("%s.%s lists %s outside the ALL bucket", module, action, p)
				}
			}
		}
	}
}

func TestPermissionLookup(t *testing.T) {
	if p, ok := Permission("projects", ActionAdd); !ok || p != "add_project" {
		t.Fatalf("Permission(projects, ADD) = %q, %v", p, ok)
	}
	if _, ok := Permission("projects", ActionAll); ok {
		t.Fatal("ALL is not a single permission")
	}
	if _, ok := Permission("invoices", ActionAdd); ok {
		t.Fatal("unknown module should not resolve")
	}
	if ModulePermissions("invoices") != nil {
		t.Fatal("unknown module should list nothing")
	}
}

func TestParseAndJoinRights(t *testing.T) {
	got := ParseRights(" add_user, ,get_all_users,add_user,, ")
	want := []string{"add_user", "get_all_users"}
	if !slices.Equal(got, want) {
		t.Fatalf("ParseRights = %v, want %v", got, want)
	}
	if ParseRights("   ") != nil {
		t.Fatal("blank rights should parse to nil")
	}
	if joined := JoinRights([]string{"a", " b", "a", ""}); joined != "a,b" {
		t.Fatalf("JoinRights = %q", joined)
	}
}

func TestValidateRights(t *testing.T) {
	if err := ValidateRights([]string{PermAddUser, PermUploadFile}); err != nil {
		t.Fatalf("declared rights rejected: %v", err)
	}
	if err := ValidateRights(nil); err != nil {
		t.Fatalf("empty rights rejected: %v", err)
	}
	err := ValidateRights([]string{"launch_rocket", PermAddUser, "drop_database"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !strings.Contains(err.Error(), "drop_database, launch_rocket") {
		t.Fatalf("error should list sorted unknown rights: %v", err)
	}
}
