package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead       Action = "read"
	ActionContribute Action = "contribute"
	ActionModerate   Action = "moderate"
	ActionManage     Action = "manage"
)

// Can reports whether role may perform action. Anonymous shop-floor users are
// viewers: they read and submit contributions, everything else is admin-only.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleViewer:
		return action == ActionRead || action == ActionContribute
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
