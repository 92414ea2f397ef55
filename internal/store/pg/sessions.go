package pg

import (
	"context"
	"database/sql"

	"github.com/cadencehq/cadence/internal/auth"
)

type sessionStore struct {
	db *sql.DB
}

const sessionColumns = `jti, user_id, family_id, issued_at, last_used_at, expires_at, coalesce(ip,''), coalesce(user_agent,''), revoked_at`

func (s *sessionStore) Create(ctx context.Context, sess *auth.RefreshSession) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_sessions(jti, user_id, family_id, issued_at, last_used_at, expires_at, ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''))
	`, sess.JTI, sess.UserID, sess.FamilyID, sess.IssuedAt, sess.LastUsedAt, sess.ExpiresAt, sess.IP, sess.UserAgent)
	return mapError(err)
}

func (s *sessionStore) Find(ctx context.Context, jti string) (*auth.RefreshSession, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+sessionColumns+`
		from refresh_sessions
		where jti=$1
	`, jti)
	return scanSession(row)
}

// Rotate revokes the old session and inserts its successor in one
// transaction. The row lock makes concurrent rotations of the same token
// serialize; the loser observes revoked_at set and gets ErrSessionRevoked.
func (s *sessionStore) Rotate(ctx context.Context, oldJTI string, next *auth.RefreshSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var revoked sql.NullTime
	err = tx.QueryRowContext(ctx, `
		select revoked_at from refresh_sessions
		where jti=$1
		for update
	`, oldJTI).Scan(&revoked)
	if err != nil {
		return mapError(err)
	}
	if revoked.Valid {
		return auth.ErrSessionRevoked
	}

	if _, err := tx.ExecContext(ctx, `
		update refresh_sessions set revoked_at=now(), last_used_at=now()
		where jti=$1
	`, oldJTI); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_sessions(jti, user_id, family_id, issued_at, last_used_at, expires_at, ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''))
	`, next.JTI, next.UserID, next.FamilyID, next.IssuedAt, next.LastUsedAt, next.ExpiresAt, next.IP, next.UserAgent); err != nil {
		return mapError(err)
	}
	return tx.Commit()
}

func (s *sessionStore) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_sessions set revoked_at=now()
		where family_id=$1 and revoked_at is null
	`, familyID)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

func (s *sessionStore) Delete(ctx context.Context, jti string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from refresh_sessions where jti=$1
	`, jti)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *sessionStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from refresh_sessions where user_id=$1
	`, userID)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

func scanSession(row rowScanner) (*auth.RefreshSession, error) {
	var sess auth.RefreshSession
	var revoked sql.NullTime
	err := row.Scan(
		&sess.JTI, &sess.UserID, &sess.FamilyID,
		&sess.IssuedAt, &sess.LastUsedAt, &sess.ExpiresAt,
		&sess.IP, &sess.UserAgent, &revoked,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if revoked.Valid {
		sess.RevokedAt = &revoked.Time
	}
	return &sess, nil
}
