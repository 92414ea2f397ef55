package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/cadencehq/cadence/internal/auth"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, username, password_hash, is_active, is_verified, is_admin, coalesce(org_id,''), created_at, last_login_at, deleted_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, username, password_hash, is_active, is_verified, is_admin, org_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),$9)
	`, u.ID, u.Email, u.Username, u.PasswordHash, u.IsActive, u.IsVerified, u.IsAdmin, u.OrgID, u.CreatedAt)
	return mapError(err)
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.findBy(ctx, `id=$1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findBy(ctx, `email=$1`, email)
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findBy(ctx, `username=$1`, username)
}

func (s *userStore) findBy(ctx context.Context, where string, arg any) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where `+where+` and deleted_at is null
	`, arg)
	return scanUser(row)
}

func (s *userStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set last_login_at=$2
		where id=$1 and deleted_at is null
	`, id, at)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var u auth.User
	var lastLogin, deleted sql.NullTime
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash,
		&u.IsActive, &u.IsVerified, &u.IsAdmin, &u.OrgID,
		&u.CreatedAt, &lastLogin, &deleted,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	if deleted.Valid {
		u.DeletedAt = &deleted.Time
	}
	return &u, nil
}
