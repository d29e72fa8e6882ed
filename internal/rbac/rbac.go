package rbac

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// IsAdmin reports whether the role carries the global override: admins may
// read, edit, and delete any item regardless of ownership or grants.
func IsAdmin(role Role) bool {
	return role == RoleAdmin
}

// RoleOf maps the stored admin flag to a role name for tokens and responses.
func RoleOf(admin bool) Role {
	if admin {
		return RoleAdmin
	}
	return RoleMember
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
