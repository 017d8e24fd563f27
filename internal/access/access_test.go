package access

import "testing"

func TestMax(t *testing.T) {
	cases := []struct {
		name  string
		roles []Role
		want  Role
		ok    bool
	}{
		{name: "empty", roles: nil, want: "", ok: false},
		{name: "single", roles: []Role{RoleReader}, want: RoleReader, ok: true},
		{name: "owner wins", roles: []Role{RoleEditor, RoleOwner, RoleReader}, want: RoleOwner, ok: true},
		{name: "admin over editor", roles: []Role{RoleAdministrator, RoleEditor}, want: RoleAdministrator, ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Max(tc.roles)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("Max(%v) = %q, %v; want %q, %v", tc.roles, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestComputeRoleLadder(t *testing.T) {
	cases := []struct {
		name  string
		roles []Role
		check func(t *testing.T, a Abilities)
	}{
		{
			name:  "reader",
			roles: []Role{RoleReader},
			check: func(t *testing.T, a Abilities) {
				if !a.Retrieve || !a.Versions {
					t.Fatal("reader must retrieve and list versions")
				}
				if a.Update || a.Move || a.ManageAccesses || a.Delete {
					t.Fatalf("reader got write abilities: %+v", a)
				}
			},
		},
		{
			name:  "editor",
			roles: []Role{RoleEditor},
			check: func(t *testing.T, a Abilities) {
				if !a.Update || !a.Move || !a.AITransform {
					t.Fatalf("editor missing write abilities: %+v", a)
				}
				if a.Delete || a.ManageAccesses || a.InviteOwner {
					t.Fatalf("editor got privileged abilities: %+v", a)
				}
			},
		},
		{
			name:  "administrator",
			roles: []Role{RoleAdministrator},
			check: func(t *testing.T, a Abilities) {
				if !a.ManageAccesses || !a.LinkSelect || !a.Move {
					t.Fatalf("administrator missing abilities: %+v", a)
				}
				if a.Delete || a.InviteOwner || a.Purge {
					t.Fatalf("administrator got owner abilities: %+v", a)
				}
			},
		},
		{
			name:  "owner",
			roles: []Role{RoleOwner},
			check: func(t *testing.T, a Abilities) {
				if !a.Delete || !a.Restore || !a.Purge || !a.InviteOwner || !a.ManageAccesses || !a.Update {
					t.Fatalf("owner missing abilities: %+v", a)
				}
			},
		},
		{
			name:  "aggregate takes the highest",
			roles: []Role{RoleReader, RoleOwner},
			check: func(t *testing.T, a Abilities) {
				if !a.Delete {
					t.Fatalf("owner-in-set must delete: %+v", a)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, Compute(tc.roles, ReachRestricted, true))
		})
	}
}

func TestComputeLinkReach(t *testing.T) {
	// Anonymous caller on a public node: read-only.
	a := Compute(nil, ReachPublic, false)
	if !a.Retrieve {
		t.Fatal("anonymous caller must read a public node")
	}
	if a.Update || a.Versions || a.Favorite || a.Delete {
		t.Fatalf("anonymous caller got more than read: %+v", a)
	}

	// Anonymous caller on an authenticated-reach node: nothing.
	a = Compute(nil, ReachAuthenticated, false)
	if a.Retrieve {
		t.Fatal("authenticated reach must not open to anonymous callers")
	}

	// Authenticated caller without roles on an authenticated-reach node.
	a = Compute(nil, ReachAuthenticated, true)
	if !a.Retrieve || !a.Favorite {
		t.Fatalf("link reader abilities wrong: %+v", a)
	}
	if a.Versions {
		t.Fatal("link-based access must not disclose version history")
	}

	// Restricted node without roles: nothing at all.
	a = Compute(nil, ReachRestricted, true)
	if a.Retrieve {
		t.Fatal("restricted node must not be readable without a role")
	}

	// Roles supplied for an unauthenticated caller are ignored.
	a = Compute([]Role{RoleOwner}, ReachRestricted, false)
	if a.Retrieve || a.Delete {
		t.Fatalf("anonymous callers must never hold roles: %+v", a)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("owner"); got != RoleOwner {
		t.Fatalf("Normalize(owner) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleReader {
		t.Fatalf("Normalize(superuser) = %q", got)
	}
}
