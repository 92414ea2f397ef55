package authz

// Org-wide permission names.
const (
	PermOrgRead      = "org:read"
	PermOrgWrite     = "org:write"
	PermMemberManage = "member:manage"
	PermDeptWrite    = "dept:write"
)

// rolePermissions is the authoritative org-wide role to permission table.
// The role hierarchy below does not induce inheritance here.
var rolePermissions = map[Role]map[string]bool{
	RoleOwner:   {PermOrgRead: true, PermOrgWrite: true, PermMemberManage: true, PermDeptWrite: true},
	RoleAdmin:   {PermOrgRead: true, PermOrgWrite: true, PermMemberManage: true, PermDeptWrite: true},
	RoleManager: {PermOrgRead: true, PermDeptWrite: true},
	RoleMember:  {PermOrgRead: true},
	RoleGuest:   {PermOrgRead: true},
}

// RoleGrants reports whether the org role carries the permission.
func RoleGrants(role Role, perm string) bool {
	return rolePermissions[role][perm]
}

// roleRank orders roles for minimum-role checks at admin boundaries only.
var roleRank = map[Role]int{
	RoleGuest:   0,
	RoleMember:  1,
	RoleManager: 2,
	RoleAdmin:   3,
	RoleOwner:   4,
}

// AtLeast reports whether role ranks at or above min in the hierarchy
// guest < member < manager < admin < owner.
func AtLeast(role, min Role) bool {
	r, ok := roleRank[role]
	m, ok2 := roleRank[min]
	return ok && ok2 && r >= m
}

// Project-level action names.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
	ActionAdmin  = "admin"
)

var projectRoleActions = map[ProjectRole]map[string]bool{
	ProjectRoleOwner:  {ActionRead: true, ActionWrite: true, ActionDelete: true, ActionAdmin: true},
	ProjectRoleAdmin:  {ActionRead: true, ActionWrite: true, ActionAdmin: true},
	ProjectRoleMember: {ActionRead: true, ActionWrite: true},
	ProjectRoleViewer: {ActionRead: true},
}

// ProjectRoleGrants reports whether the project role allows the action.
func ProjectRoleGrants(role ProjectRole, action string) bool {
	return projectRoleActions[role][action]
}
