package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the authentication
// core. All reads hide soft-deleted rows.
type Store interface {
	Users() UserStore
	Tokens() TokenStore
	Sessions() SessionStore
}

// UserStore manages user rows.
type UserStore interface {
	// Create inserts the user. Returns ErrConflict when the email or
	// username collides with a non-deleted row.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// TokenStore manages single-use verification and reset tokens. Redeem
// operations run in one transaction with row-level locking on the token row:
// load, check not-used and not-expired, mark used, apply the state change.
// Any step failing rolls back the whole redemption.
type TokenStore interface {
	CreateVerification(ctx context.Context, t *ActionToken) error
	CreateReset(ctx context.Context, t *ActionToken) error

	// RedeemVerification marks the token used and sets is_verified on the
	// user, atomically. Returns ErrInvalidToken, ErrTokenExpired, or
	// ErrTokenUsed.
	RedeemVerification(ctx context.Context, userID, token string) error

	// RedeemReset marks the token used, replaces the password hash, and
	// deletes every refresh session of the user, atomically.
	RedeemReset(ctx context.Context, userID, token, newPasswordHash string) error
}

// SessionStore manages refresh session rows. Rows are hard-deleted on logout
// and may be garbage-collected after expiry.
type SessionStore interface {
	Create(ctx context.Context, s *RefreshSession) error
	Find(ctx context.Context, jti string) (*RefreshSession, error)

	// Rotate revokes the old session and inserts the next one in a single
	// transaction, locking the old row. Exactly one of two concurrent
	// rotations wins; the loser gets ErrSessionRevoked.
	Rotate(ctx context.Context, oldJTI string, next *RefreshSession) error

	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	Delete(ctx context.Context, jti string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}
