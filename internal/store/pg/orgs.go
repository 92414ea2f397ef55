package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cadencehq/cadence/internal/authz"
)

// AuthzStore serves the tenant authorization resolver and the org
// bootstrapper from the same pool.
type AuthzStore struct {
	db *sql.DB
}

var (
	_ authz.Store          = (*AuthzStore)(nil)
	_ authz.PrincipalStore = (*AuthzStore)(nil)
	_ authz.BootstrapStore = (*AuthzStore)(nil)
)

// Authz returns the authorization view of the store.
func (s *Store) Authz() *AuthzStore { return &AuthzStore{db: s.db} }

func mapAuthzError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return authz.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return authz.ErrConflict
	}
	return err
}

func (s *AuthzStore) Principal(ctx context.Context, userID string) (*authz.Principal, error) {
	var p authz.Principal
	var deleted sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select id, is_active, is_admin, deleted_at
		from users
		where id=$1
	`, userID).Scan(&p.ID, &p.Active, &p.Admin, &deleted)
	if err != nil {
		return nil, mapAuthzError(err)
	}
	p.Deleted = deleted.Valid
	return &p, nil
}

func (s *AuthzStore) Membership(ctx context.Context, orgID, userID string) (*authz.Membership, error) {
	var m authz.Membership
	var dept sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, org_id, role, status, department_id, created_at
		from memberships
		where org_id=$1 and user_id=$2 and deleted_at is null
	`, orgID, userID).Scan(&m.ID, &m.UserID, &m.OrgID, &m.Role, &m.Status, &dept, &m.CreatedAt)
	if err != nil {
		return nil, mapAuthzError(err)
	}
	if dept.Valid {
		m.DepartmentID = &dept.String
	}
	return &m, nil
}

func (s *AuthzStore) Scopes(ctx context.Context, orgID, userID string, objectType authz.ObjectType) ([]*authz.ResponsibilityScope, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, org_id, user_id, object_type, object_id, permissions
		from responsibility_scopes
		where org_id=$1 and user_id=$2 and object_type=$3 and deleted_at is null
	`, orgID, userID, string(objectType))
	if err != nil {
		return nil, mapAuthzError(err)
	}
	defer rows.Close()

	var out []*authz.ResponsibilityScope
	for rows.Next() {
		var scope authz.ResponsibilityScope
		var objectID sql.NullString
		var perms []byte
		if err := rows.Scan(&scope.ID, &scope.OrgID, &scope.UserID, &scope.ObjectType, &objectID, &perms); err != nil {
			return nil, mapAuthzError(err)
		}
		if objectID.Valid {
			scope.ObjectID = &objectID.String
		}
		if len(perms) > 0 {
			if err := json.Unmarshal(perms, &scope.Permissions); err != nil {
				return nil, err
			}
		}
		out = append(out, &scope)
	}
	return out, rows.Err()
}

func (s *AuthzStore) Project(ctx context.Context, projectID string) (*authz.Project, error) {
	var p authz.Project
	err := s.db.QueryRowContext(ctx, `
		select id, org_id, owner_id, name, is_public
		from projects
		where id=$1 and deleted_at is null
	`, projectID).Scan(&p.ID, &p.OrgID, &p.OwnerID, &p.Name, &p.IsPublic)
	if err != nil {
		return nil, mapAuthzError(err)
	}
	return &p, nil
}

func (s *AuthzStore) ProjectMember(ctx context.Context, projectID, userID string) (*authz.ProjectMember, error) {
	var m authz.ProjectMember
	err := s.db.QueryRowContext(ctx, `
		select project_id, user_id, role
		from project_members
		where project_id=$1 and user_id=$2 and deleted_at is null
	`, projectID, userID).Scan(&m.ProjectID, &m.UserID, &m.Role)
	if err != nil {
		return nil, mapAuthzError(err)
	}
	return &m, nil
}

func (s *AuthzStore) Task(ctx context.Context, taskID string) (*authz.Task, error) {
	var t authz.Task
	var projectID, assigneeID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, org_id, project_id, creator_id, assignee_id
		from tasks
		where id=$1 and deleted_at is null
	`, taskID).Scan(&t.ID, &t.OrgID, &projectID, &t.CreatorID, &assigneeID)
	if err != nil {
		return nil, mapAuthzError(err)
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	return &t, nil
}

func (s *AuthzStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from organizations where slug=$1 and deleted_at is null)
	`, slug).Scan(&exists)
	if err != nil {
		return false, mapAuthzError(err)
	}
	return exists, nil
}

// CreateOrganization commits the org, the owner membership, and the seed
// departments as one transaction.
func (s *AuthzStore) CreateOrganization(ctx context.Context, org *authz.Organization, owner *authz.Membership, departments []*authz.Department) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into organizations(id, owner_id, slug, name, created_at)
		values ($1,$2,$3,$4,$5)
	`, org.ID, org.OwnerID, org.Slug, org.Name, org.CreatedAt); err != nil {
		return mapAuthzError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into memberships(id, user_id, org_id, role, status, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, owner.ID, owner.UserID, owner.OrgID, string(owner.Role), string(owner.Status), owner.CreatedAt); err != nil {
		return mapAuthzError(err)
	}
	for _, dept := range departments {
		if _, err := tx.ExecContext(ctx, `
			insert into departments(id, org_id, name)
			values ($1,$2,$3)
		`, dept.ID, dept.OrgID, dept.Name); err != nil {
			return mapAuthzError(err)
		}
	}
	return tx.Commit()
}
