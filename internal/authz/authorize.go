package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cadencehq/cadence/internal/obs"
)

// Resolver answers allow/deny questions for (principal, org, perm, object).
type Resolver struct {
	store      Store
	principals PrincipalStore
}

// NewResolver builds a resolver over the given stores.
func NewResolver(store Store, principals PrincipalStore) (*Resolver, error) {
	if store == nil || principals == nil {
		return nil, errors.New("store and principal store are required")
	}
	return &Resolver{store: store, principals: principals}, nil
}

// CheckInput is one authorization question.
type CheckInput struct {
	UserID     string
	OrgID      string
	Perm       string
	ObjectType ObjectType // optional; inferred from Perm when empty
	ObjectID   string     // optional
}

// Authorize resolves an org-scoped permission question. The resolution order
// is fixed: principal state, system admin, membership, role table, scope
// grants, deny.
func (r *Resolver) Authorize(ctx context.Context, in CheckInput) (bool, error) {
	principal, err := r.principals.Principal(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if principal.Deleted || !principal.Active {
		return false, nil
	}
	if principal.Admin {
		return true, nil
	}

	membership, err := r.store.Membership(ctx, in.OrgID, in.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if membership.Status != StatusActive {
		return false, nil
	}

	if RoleGrants(membership.Role, in.Perm) {
		return true, nil
	}

	objectType, action, ok := scopedPerm(in)
	if !ok {
		return false, nil
	}
	scopes, err := r.store.Scopes(ctx, in.OrgID, in.UserID, objectType)
	if err != nil {
		return false, err
	}
	for _, scope := range scopes {
		if scope.ObjectID != nil && in.ObjectID != "" && *scope.ObjectID != in.ObjectID {
			continue
		}
		if scope.ObjectID != nil && in.ObjectID == "" {
			continue
		}
		if scope.Permissions[action] {
			return true, nil
		}
	}
	return false, nil
}

// scopedPerm derives the scope lookup key. An explicit ObjectType wins;
// otherwise the perm must look like "<object>:<action>" over a known object
// type with a read or write action.
func scopedPerm(in CheckInput) (ObjectType, string, bool) {
	object, action, found := strings.Cut(in.Perm, ":")
	if !found {
		// A bare action like "read" still resolves when the caller named
		// the object type.
		object, action = "", in.Perm
	}
	if action != ActionRead && action != ActionWrite {
		return "", "", false
	}
	if in.ObjectType != "" {
		return in.ObjectType, action, true
	}
	if !ValidObjectType(object) {
		return "", "", false
	}
	return ObjectType(object), action, true
}

// AuthorizeProject resolves an action against a project. Project questions
// never consult the org membership: the owner has every action, the member
// row decides for members, and public projects are readable by any active
// principal.
func (r *Resolver) AuthorizeProject(ctx context.Context, userID, projectID, action string) (bool, error) {
	project, err := r.store.Project(ctx, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	ok, admin, err := r.principalGate(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	if admin {
		return true, nil
	}
	return r.projectAction(ctx, project, userID, action)
}

func (r *Resolver) projectAction(ctx context.Context, project *Project, userID, action string) (bool, error) {
	if project.OwnerID == userID {
		return true, nil
	}
	member, err := r.store.ProjectMember(ctx, project.ID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return project.IsPublic && action == ActionRead, nil
		}
		return false, err
	}
	return ProjectRoleGrants(member.Role, action), nil
}

// AuthorizeTask resolves an action against a task. Tasks inside a project
// delegate to the project; standalone tasks belong to their creator, with
// read and write for the assignee.
func (r *Resolver) AuthorizeTask(ctx context.Context, userID, taskID, action string) (bool, error) {
	task, err := r.store.Task(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	ok, admin, err := r.principalGate(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	if admin {
		return true, nil
	}

	if task.ProjectID != nil {
		project, err := r.store.Project(ctx, *task.ProjectID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return r.projectAction(ctx, project, userID, action)
	}
	if task.CreatorID == userID {
		return true, nil
	}
	if task.AssigneeID != nil && *task.AssigneeID == userID {
		return action == ActionRead || action == ActionWrite, nil
	}
	return false, nil
}

// principalGate runs the checks shared by every question: unknown, deleted,
// and inactive principals end resolution with a deny; admin short-circuits
// to allow at the caller.
func (r *Resolver) principalGate(ctx context.Context, userID string) (ok, admin bool, err error) {
	principal, err := r.principals.Principal(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, false, nil
		}
		return false, false, err
	}
	if principal.Deleted || !principal.Active {
		return false, false, nil
	}
	return true, principal.Admin, nil
}

// activeMember extends the principal gate with the org membership check used
// by org-scoped questions. A nil membership with allowed=true means the
// system admin path fired.
func (r *Resolver) activeMember(ctx context.Context, orgID, userID string) (bool, *Membership, error) {
	ok, admin, err := r.principalGate(ctx, userID)
	if err != nil || !ok {
		return false, nil, err
	}
	if admin {
		return true, nil, nil
	}
	membership, err := r.store.Membership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if membership.Status != StatusActive {
		return false, nil, nil
	}
	return true, membership, nil
}

// RequireRole checks the minimum-role boundary used by admin endpoints.
func (r *Resolver) RequireRole(ctx context.Context, orgID, userID string, min Role) (bool, error) {
	allowed, membership, err := r.activeMember(ctx, orgID, userID)
	if err != nil || !allowed {
		return allowed, err
	}
	if membership == nil {
		return true, nil
	}
	ok := AtLeast(membership.Role, min)
	if !ok {
		obs.Info("authz.min_role_denied", map[string]any{
			"org_id": orgID, "user_id": userID,
			"role": string(membership.Role), "min": string(min),
		})
	}
	return ok, nil
}

// Describe renders a decision for audit logs.
func Describe(in CheckInput, allowed bool) string {
	verdict := "deny"
	if allowed {
		verdict = "allow"
	}
	return fmt.Sprintf("%s %s on org %s for %s", verdict, in.Perm, in.OrgID, in.UserID)
}
