package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cadencehq/cadence/internal/obs"
)

// SessionManager issues access/refresh pairs, rotates refresh tokens on use,
// and revokes sessions on logout. Every refresh token is single-use: the
// server-side jti is revoked the moment a rotation succeeds, and presenting a
// revoked token revokes the whole session family.
type SessionManager struct {
	codec    *TokenCodec
	sessions SessionStore
	now      func() time.Time
}

// NewSessionManager constructs a manager over the given codec and store.
func NewSessionManager(codec *TokenCodec, sessions SessionStore, now func() time.Time) (*SessionManager, error) {
	if codec == nil || sessions == nil {
		return nil, errors.New("codec and session store are required")
	}
	m := &SessionManager{codec: codec, sessions: sessions, now: now}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Issue mints a fresh pair for a successful login and opens a new session
// family rooted at the refresh jti.
func (m *SessionManager) Issue(ctx context.Context, userID, ip, userAgent string) (TokenPair, error) {
	refreshToken, jti, refreshExp, err := m.codec.IssueRefresh(userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh: %w", err)
	}
	now := m.now().UTC()
	session := &RefreshSession{
		JTI:        jti,
		UserID:     userID,
		FamilyID:   jti,
		IssuedAt:   now,
		LastUsedAt: now,
		ExpiresAt:  refreshExp,
		IP:         ip,
		UserAgent:  userAgent,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return TokenPair{}, fmt.Errorf("persist session: %w", err)
	}
	accessToken, accessExp, err := m.codec.IssueAccess(userID, nil)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access: %w", err)
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh rotates the presented refresh token. The old jti is revoked and a
// new session inserted in one transaction; the second presentation of the
// same token fails and tears down the whole rotation chain.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (TokenPair, error) {
	claims, err := m.codec.Decode(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	session, err := m.sessions.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	now := m.now().UTC()
	if session.RevokedAt != nil {
		return TokenPair{}, m.handleReuse(ctx, session)
	}
	if !now.Before(session.ExpiresAt) {
		return TokenPair{}, ErrTokenExpired
	}
	if session.UserID != claims.Subject {
		return TokenPair{}, ErrInvalidToken
	}

	newRefresh, newJTI, refreshExp, err := m.codec.IssueRefresh(session.UserID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh: %w", err)
	}
	next := &RefreshSession{
		JTI:        newJTI,
		UserID:     session.UserID,
		FamilyID:   session.FamilyID,
		IssuedAt:   now,
		LastUsedAt: now,
		ExpiresAt:  refreshExp,
		IP:         ip,
		UserAgent:  userAgent,
	}
	if err := m.sessions.Rotate(ctx, session.JTI, next); err != nil {
		if errors.Is(err, ErrSessionRevoked) {
			// Lost the race against a concurrent rotation of the same
			// token: that is a reuse by definition.
			return TokenPair{}, m.handleReuse(ctx, session)
		}
		return TokenPair{}, fmt.Errorf("rotate session: %w", err)
	}

	accessToken, accessExp, err := m.codec.IssueAccess(session.UserID, nil)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access: %w", err)
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (m *SessionManager) handleReuse(ctx context.Context, session *RefreshSession) error {
	revoked, err := m.sessions.RevokeFamily(ctx, session.FamilyID)
	if err != nil {
		obs.Error("auth.refresh.family_revoke_failed", err, map[string]any{
			"family_id": session.FamilyID,
		})
	}
	obs.RefreshReuseTotal.Inc()
	obs.Warn("auth.refresh.reuse_detected", map[string]any{
		"user_id":   session.UserID,
		"family_id": session.FamilyID,
		"revoked":   revoked,
	})
	return ErrRefreshReuse
}

// Logout deletes the session behind the presented refresh token. An invalid
// or already-deleted token is not an error; logout is idempotent.
func (m *SessionManager) Logout(ctx context.Context, refreshToken string) error {
	claims, err := m.codec.Decode(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil
	}
	if err := m.sessions.Delete(ctx, claims.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// LogoutAll deletes every session of the user.
func (m *SessionManager) LogoutAll(ctx context.Context, userID string) (int64, error) {
	return m.sessions.DeleteAllForUser(ctx, userID)
}

// Authenticate validates an access token and returns its claims. Used by the
// bearer middleware.
func (m *SessionManager) Authenticate(token string) (*Claims, error) {
	return m.codec.Decode(token, TokenTypeAccess)
}
