package authz

import "context"

// Store is the persistence surface of the resolver. All reads hide
// soft-deleted rows.
type Store interface {
	// Membership returns the non-deleted membership of the user in the org,
	// or ErrNotFound.
	Membership(ctx context.Context, orgID, userID string) (*Membership, error)

	// Scopes returns the non-deleted ResponsibilityScope rows of the user in
	// the org for the object type, both wildcard and object-specific.
	Scopes(ctx context.Context, orgID, userID string, objectType ObjectType) ([]*ResponsibilityScope, error)

	Project(ctx context.Context, projectID string) (*Project, error)
	ProjectMember(ctx context.Context, projectID, userID string) (*ProjectMember, error)
	Task(ctx context.Context, taskID string) (*Task, error)
}

// PrincipalStore resolves the caller identity independently of org data.
type PrincipalStore interface {
	Principal(ctx context.Context, userID string) (*Principal, error)
}

// BootstrapStore creates organizations. CreateOrganization inserts the org,
// the owner membership, and the department rows in one transaction.
type BootstrapStore interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
	CreateOrganization(ctx context.Context, org *Organization, owner *Membership, departments []*Department) error
}
