package httpapi

import (
	"meridian.club/internal/auth"
	"meridian.club/internal/gate"
)

var (
	rulePermissions = gate.Rule{
		Resource:    auth.ResourceUserProfile,
		Action:      auth.ActionRead,
		RequireAuth: true,
	}
	ruleAuditRead = gate.Rule{
		Resource:     auth.ResourceSystemSettings,
		Action:       auth.ActionRead,
		RequireAuth:  true,
		AllowedRoles: []auth.Role{auth.RoleAdmin, auth.RoleSuperAdmin},
	}
	ruleAssignRole = gate.Rule{
		Resource:    auth.ResourceUsers,
		Action:      auth.ActionAssign,
		RequireAuth: true,
	}
)
