package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAgent        = "agent"
	RoleSalesManager = "sales_manager"
	RoleAdmin        = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsKnownRole reports whether role is one this service issues tokens for.
func IsKnownRole(role string) bool {
	switch role {
	case RoleAgent, RoleSalesManager, RoleAdmin:
		return true
	default:
		return false
	}
}
