package auth

// RoleManager guards role assignment. It is deliberately separate from the
// catalog: holding USERS/ASSIGN does not by itself allow handing out a role.
type RoleManager struct {
	top Role
}

// NewRoleManager returns a manager whose unrestricted role is super_admin.
func NewRoleManager() *RoleManager {
	return &RoleManager{top: RoleSuperAdmin}
}

// CanAssignRole reports whether actor may move a target from current to
// requested. The actor must sit strictly above both roles; only the top
// role is unrestricted.
func (m *RoleManager) CanAssignRole(actor, current, requested Role) bool {
	actorLevel, ok := actor.Level()
	if !ok {
		return false
	}
	if actor == m.topRole() {
		return true
	}
	currentLevel, ok := current.Level()
	if !ok {
		return false
	}
	requestedLevel, ok := requested.Level()
	if !ok {
		return false
	}
	return actorLevel > max(currentLevel, requestedLevel)
}

// AssignableRoles lists the roles actor could grant to a target currently
// holding current.
func (m *RoleManager) AssignableRoles(actor, current Role) []Role {
	var out []Role
	for _, r := range Roles {
		if m.CanAssignRole(actor, current, r) {
			out = append(out, r)
		}
	}
	return out
}

func (m *RoleManager) topRole() Role {
	if m == nil || m.top == "" {
		return RoleSuperAdmin
	}
	return m.top
}
