package identity

// Permission represents a named capability on the platform.
type Permission string

// Permission constants.
const (
	PermEventView    Permission = "event:view"
	PermEventCreate  Permission = "event:create"
	PermEventManage  Permission = "event:manage"
	PermTicketHold   Permission = "ticket:hold"
	PermTicketScan   Permission = "ticket:scan"
	PermAgendaManage Permission = "agenda:manage"
	PermOrgManage    Permission = "org:manage"
	PermUserManage   Permission = "user:manage"
	PermAuditRead    Permission = "audit:read"
	PermSystemAdmin  Permission = "system:admin"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleAttendee: {
		PermEventView,
		PermTicketHold,
	},
	RoleOrganizer: {
		PermEventView,
		PermEventCreate,
		PermEventManage, // scoped to the organiser's own organisations
		PermTicketHold,
		PermTicketScan,
		PermAgendaManage,
		PermOrgManage,
	},
	RoleAdmin: {
		PermEventView,
		PermEventCreate,
		PermEventManage,
		PermTicketHold,
		PermTicketScan,
		PermAgendaManage,
		PermOrgManage,
		PermUserManage,
		PermAuditRead,
		PermSystemAdmin,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// AnyRoleHasPermission returns true if any of the identity's roles grants
// the permission. Identities carry role sets, not a single role.
func AnyRoleHasPermission(roles []Role, perm Permission) bool {
	for _, r := range roles {
		if HasPermission(r, perm) {
			return true
		}
	}
	return false
}
