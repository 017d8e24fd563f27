// Package access resolves the permission model: named roles granted to users
// or teams on a node or its ancestors, plus the implicit reader access a
// node's link reach may confer. Abilities are computed fresh per request as a
// pure function so the authorization matrix stays statically checkable.
package access

type Role string

const (
	RoleReader        Role = "reader"
	RoleEditor        Role = "editor"
	RoleAdministrator Role = "administrator"
	RoleOwner         Role = "owner"
)

type LinkReach string

const (
	ReachRestricted    LinkReach = "restricted"
	ReachAuthenticated LinkReach = "authenticated"
	ReachPublic        LinkReach = "public"
)

var roleRank = map[Role]int{
	RoleReader:        1,
	RoleEditor:        2,
	RoleAdministrator: 3,
	RoleOwner:         4,
}

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	_, ok := roleRank[r]
	return ok
}

// ValidReach reports whether r is a known link reach.
func ValidReach(r LinkReach) bool {
	switch r {
	case ReachRestricted, ReachAuthenticated, ReachPublic:
		return true
	}
	return false
}

// Normalize maps an arbitrary role string to a known role, defaulting to
// reader.
func Normalize(role string) Role {
	if ValidRole(Role(role)) {
		return Role(role)
	}
	return RoleReader
}

// Max returns the highest role in the set and false when the set is empty.
func Max(roles []Role) (Role, bool) {
	var best Role
	rank := 0
	for _, r := range roles {
		if roleRank[r] > rank {
			rank = roleRank[r]
			best = r
		}
	}
	return best, rank > 0
}

// AtLeast reports whether role grants at least the level of min.
func AtLeast(role, min Role) bool {
	return roleRank[role] >= roleRank[min]
}

// Abilities is the resolved per-action permission record for one user on one
// node. Link-based readers get Retrieve only; every other field requires an
// explicit role on the node or an ancestor.
type Abilities struct {
	Retrieve       bool `json:"retrieve"`
	Update         bool `json:"update"`
	Move           bool `json:"move"`
	ManageAccesses bool `json:"manage_accesses"`
	InviteOwner    bool `json:"invite_owner"`
	Delete         bool `json:"destroy"`
	Restore        bool `json:"restore"`
	Purge          bool `json:"purge"`
	Versions       bool `json:"versions"`
	Favorite       bool `json:"favorite"`
	LinkSelect     bool `json:"link_configuration"`
	AITransform    bool `json:"ai_transform"`
	MediaAuth      bool `json:"media_auth"`
	CollabConnect  bool `json:"collaboration_auth"`
}

// Compute derives the ability record from the caller's aggregated role set,
// the node's link reach and whether the caller is authenticated. Anonymous
// callers never hold roles; passing roles for an unauthenticated caller is a
// programming error and the roles are ignored.
func Compute(roles []Role, reach LinkReach, authenticated bool) Abilities {
	if !authenticated {
		roles = nil
	}
	top, hasRole := Max(roles)

	linkRead := reach == ReachPublic || (reach == ReachAuthenticated && authenticated)
	canRead := hasRole || linkRead

	a := Abilities{
		Retrieve:      canRead,
		MediaAuth:     canRead,
		CollabConnect: canRead,
		Favorite:      canRead && authenticated,
		// Version history never opens up through link sharing.
		Versions: hasRole,
	}
	if !hasRole {
		return a
	}

	if AtLeast(top, RoleEditor) {
		a.Update = true
		a.Move = true
		a.AITransform = true
	}
	if AtLeast(top, RoleAdministrator) {
		a.ManageAccesses = true
		a.LinkSelect = true
	}
	if top == RoleOwner {
		a.InviteOwner = true
		a.Delete = true
		a.Restore = true
		a.Purge = true
	}
	return a
}
