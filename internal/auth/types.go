package auth

import "time"

// User is the sole principal identity.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	IsAdmin      bool
	OrgID        string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
	DeletedAt    *time.Time
}

// ActionToken is a single-use opaque token row backing email verification
// and password reset. The token string carries at least 160 bits of entropy
// and may be redeemed at most once.
type ActionToken struct {
	ID        string
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// RefreshSession is the server-side record of one refresh token. FamilyID is
// the jti of the login-issued session; reuse of any rotated member revokes
// the whole family.
type RefreshSession struct {
	JTI        string
	UserID     string
	FamilyID   string
	IssuedAt   time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
	IP         string
	UserAgent  string
	RevokedAt  *time.Time
}

// TokenPair is the access/refresh pair returned by login and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
