package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/cadencehq/cadence/internal/auth"
)

type tokenStore struct {
	db *sql.DB
}

func (s *tokenStore) CreateVerification(ctx context.Context, t *auth.ActionToken) error {
	return s.create(ctx, "email_verification_tokens", t)
}

func (s *tokenStore) CreateReset(ctx context.Context, t *auth.ActionToken) error {
	return s.create(ctx, "password_reset_tokens", t)
}

func (s *tokenStore) create(ctx context.Context, table string, t *auth.ActionToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into `+table+`(id, token, user_id, created_at, expires_at)
		values ($1,$2,$3,$4,$5)
	`, t.ID, t.Token, t.UserID, t.CreatedAt, t.ExpiresAt)
	return mapError(err)
}

// RedeemVerification locks the token row, checks single-use and expiry, marks
// it used, and flips is_verified, all in one transaction.
func (s *tokenStore) RedeemVerification(ctx context.Context, userID, token string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := redeemToken(ctx, tx, "email_verification_tokens", userID, token); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update users set is_verified=true
		where id=$1 and deleted_at is null
	`, userID); err != nil {
		return mapError(err)
	}
	return tx.Commit()
}

// RedeemReset additionally replaces the password hash and deletes every
// refresh session of the user, so a reset invalidates stolen sessions.
func (s *tokenStore) RedeemReset(ctx context.Context, userID, token, newPasswordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := redeemToken(ctx, tx, "password_reset_tokens", userID, token); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update users set password_hash=$2
		where id=$1 and deleted_at is null
	`, userID, newPasswordHash); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `
		delete from refresh_sessions where user_id=$1
	`, userID); err != nil {
		return mapError(err)
	}
	return tx.Commit()
}

// redeemToken is the shared lock-check-mark step. The row lock serializes
// concurrent redemptions of the same token; exactly one wins.
func redeemToken(ctx context.Context, tx *sql.Tx, table, userID, token string) error {
	var id string
	var expiresAt time.Time
	var usedAt sql.NullTime
	err := tx.QueryRowContext(ctx, `
		select id, expires_at, used_at
		from `+table+`
		where user_id=$1 and token=$2
		for update
	`, userID, token).Scan(&id, &expiresAt, &usedAt)
	if err != nil {
		if mapError(err) == auth.ErrNotFound {
			return auth.ErrInvalidToken
		}
		return mapError(err)
	}
	if usedAt.Valid {
		return auth.ErrTokenUsed
	}
	if !time.Now().Before(expiresAt) {
		return auth.ErrTokenExpired
	}
	if _, err := tx.ExecContext(ctx, `
		update `+table+` set used_at=now() where id=$1
	`, id); err != nil {
		return mapError(err)
	}
	return nil
}
