package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cadencehq/cadence/internal/authz"
)

func TestMembershipHidesDeleted(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select (.+) from memberships.*deleted_at is null").
		WithArgs("o1", "u1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Authz().Membership(context.Background(), "o1", "u1")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScopesDecodePermissions(t *testing.T) {
	store, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "org_id", "user_id", "object_type", "object_id", "permissions"}).
		AddRow("s1", "o1", "u1", "brand", nil, []byte(`{"read":true,"write":false}`)).
		AddRow("s2", "o1", "u1", "brand", "brand-7", []byte(`{"write":true}`))

	mock.ExpectQuery("select (.+) from responsibility_scopes").
		WithArgs("o1", "u1", "brand").
		WillReturnRows(rows)

	scopes, err := store.Authz().Scopes(context.Background(), "o1", "u1", authz.ObjectBrand)
	if err != nil {
		t.Fatalf("Scopes: %v", err)
	}
	if len(scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(scopes))
	}
	if scopes[0].ObjectID != nil || !scopes[0].Permissions["read"] || scopes[0].Permissions["write"] {
		t.Fatalf("unexpected wildcard scope: %+v", scopes[0])
	}
	if scopes[1].ObjectID == nil || *scopes[1].ObjectID != "brand-7" {
		t.Fatalf("unexpected scoped row: %+v", scopes[1])
	}
}

func TestPrincipal(t *testing.T) {
	store, mock := newMock(t)
	deleted := time.Now()

	mock.ExpectQuery("select id, is_active, is_admin, deleted_at.*from users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_active", "is_admin", "deleted_at"}).AddRow("u1", true, false, deleted))

	p, err := store.Authz().Principal(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if !p.Deleted || !p.Active || p.Admin {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestCreateOrganizationTransaction(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("insert into organizations").
		WithArgs("o1", "u1", "acme", "Acme", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into memberships").
		WithArgs("m1", "u1", "o1", "owner", "active", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into departments").
		WithArgs("d1", "o1", "General").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Authz().CreateOrganization(context.Background(),
		&authz.Organization{ID: "o1", OwnerID: "u1", Slug: "acme", Name: "Acme", CreatedAt: now},
		&authz.Membership{ID: "m1", UserID: "u1", OrgID: "o1", Role: authz.RoleOwner, Status: authz.StatusActive, CreatedAt: now},
		[]*authz.Department{{ID: "d1", OrgID: "o1", Name: "General"}},
	)
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrganizationRollsBackOnSlugConflict(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("insert into organizations").
		WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	err := store.Authz().CreateOrganization(context.Background(),
		&authz.Organization{ID: "o1", OwnerID: "u1", Slug: "acme", Name: "Acme", CreatedAt: now},
		&authz.Membership{ID: "m1", UserID: "u1", OrgID: "o1", Role: authz.RoleOwner, Status: authz.StatusActive, CreatedAt: now},
		nil,
	)
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSlugExists(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select exists").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	taken, err := store.Authz().SlugExists(context.Background(), "acme")
	if err != nil {
		t.Fatalf("SlugExists: %v", err)
	}
	if !taken {
		t.Fatalf("expected slug taken")
	}
}
