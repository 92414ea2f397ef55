package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")

	// ErrInvalidCredentials is the single credential failure surfaced to
	// clients. Unknown account and wrong password both collapse into it;
	// the audit log keeps the distinction.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrUnverified      = errors.New("auth: email not verified")
	ErrAccountDisabled = errors.New("auth: account disabled")

	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrWrongTokenType = errors.New("auth: wrong token type")

	// ErrTokenUsed marks a verification/reset token that was already
	// redeemed. The service maps it to a benign response for verification
	// of an already-verified account.
	ErrTokenUsed = errors.New("auth: token already used")

	// ErrSessionRevoked is returned by the store when a rotation loses the
	// race on an already-revoked session row.
	ErrSessionRevoked = errors.New("auth: session revoked")

	// ErrRefreshReuse marks a refresh token presented after rotation. The
	// whole session family has been revoked by the time it is returned.
	ErrRefreshReuse = errors.New("auth: refresh token reuse detected")
)
