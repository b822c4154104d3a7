// Package policy centralizes the permission predicates every operation is
// expressed through: authenticated, owner, member-or-owner.
package policy

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// Authenticated reports whether a session resolved to a user at all.
func Authenticated(userID string) bool {
	return userID != ""
}

// IsOwner gates the owner-exclusive operations: project update/delete,
// member invites, and task deletion.
func IsOwner(userID, ownerID string) bool {
	return userID != "" && userID == ownerID
}

// CanActOnProject gates task create/update/list: the project owner or any
// member may act. Task deletion stays owner-only; that asymmetry is carried
// over from the original access rules on purpose.
func CanActOnProject(userID, ownerID string, isMember bool) bool {
	return IsOwner(userID, ownerID) || (userID != "" && isMember)
}

// CanDeleteComment allows the comment's author, or an admin.
func CanDeleteComment(role Role, userID, authorID string) bool {
	if userID == "" {
		return false
	}
	return userID == authorID || role == RoleAdmin
}
