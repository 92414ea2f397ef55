// Package authz resolves whether an authenticated principal may perform an
// action on an object within an organization. Decisions combine the org-wide
// role, per-project membership, and object-scoped capability grants.
package authz

import "time"

// Role is the organization-wide role of a membership.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
	RoleGuest   Role = "guest"
)

// MembershipStatus gates whether a membership grants anything at all.
type MembershipStatus string

const (
	StatusActive    MembershipStatus = "active"
	StatusInvited   MembershipStatus = "invited"
	StatusSuspended MembershipStatus = "suspended"
)

// Membership joins a user to an organization. At most one non-deleted row per
// (user, org); only active memberships grant permissions.
type Membership struct {
	ID           string
	UserID       string
	OrgID        string
	Role         Role
	Status       MembershipStatus
	DepartmentID *string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// ProjectRole is the per-project role, independent of the org role.
type ProjectRole string

const (
	ProjectRoleOwner  ProjectRole = "owner"
	ProjectRoleAdmin  ProjectRole = "admin"
	ProjectRoleMember ProjectRole = "member"
	ProjectRoleViewer ProjectRole = "viewer"
)

// ProjectMember joins a user to a project.
type ProjectMember struct {
	ProjectID string
	UserID    string
	Role      ProjectRole
	DeletedAt *time.Time
}

// ObjectType names the object kinds a ResponsibilityScope can cover.
type ObjectType string

const (
	ObjectBrand      ObjectType = "brand"
	ObjectLocation   ObjectType = "location"
	ObjectMetric     ObjectType = "metric"
	ObjectBU         ObjectType = "bu"
	ObjectDepartment ObjectType = "department"
)

// ValidObjectType reports whether s names a scoped object kind.
func ValidObjectType(s string) bool {
	switch ObjectType(s) {
	case ObjectBrand, ObjectLocation, ObjectMetric, ObjectBU, ObjectDepartment:
		return true
	}
	return false
}

// ResponsibilityScope is an object-level capability grant. ObjectID nil means
// every object of the type within the org.
type ResponsibilityScope struct {
	ID          string
	OrgID       string
	UserID      string
	ObjectType  ObjectType
	ObjectID    *string
	Permissions map[string]bool
	DeletedAt   *time.Time
}

// Organization is the tenant root.
type Organization struct {
	ID        string
	OwnerID   string
	Slug      string
	Name      string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Department is an org subdivision seeded at bootstrap.
type Department struct {
	ID        string
	OrgID     string
	Name      string
	DeletedAt *time.Time
}

// Project groups tasks within an org. IsPublic opens read access to any
// active org member without a project membership.
type Project struct {
	ID        string
	OrgID     string
	OwnerID   string
	Name      string
	IsPublic  bool
	DeletedAt *time.Time
}

// Task belongs to a project, or stands alone when ProjectID is nil.
type Task struct {
	ID         string
	OrgID      string
	ProjectID  *string
	CreatorID  string
	AssigneeID *string
	DeletedAt  *time.Time
}

// Principal is the minimal view of a user the resolver needs.
type Principal struct {
	ID      string
	Active  bool
	Admin   bool
	Deleted bool
}
