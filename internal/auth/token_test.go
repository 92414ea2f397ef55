package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testCodec(t *testing.T, now func() time.Time) *TokenCodec {
	t.Helper()
	c, err := NewTokenCodec(CodecConfig{
		Secret:     testSecret,
		Issuer:     "cadence-api",
		Audience:   "cadence",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        now,
	})
	require.NoError(t, err)
	return c
}

func TestNewTokenCodecRejectsShortSecret(t *testing.T) {
	_, err := NewTokenCodec(CodecConfig{
		Secret:     []byte("short"),
		Issuer:     "cadence-api",
		Audience:   "cadence",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	require.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	c := testCodec(t, nil)

	token, exp, err := c.IssueAccess("user-1", map[string]any{"org_id": "org-1"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := c.Decode(token, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, TokenTypeAccess, claims.Typ)
	assert.NotEmpty(t, claims.ID)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	c := testCodec(t, nil)

	refresh, _, _, err := c.IssueRefresh("user-1")
	require.NoError(t, err)

	_, err = c.Decode(refresh, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestDecodeExpiredToken(t *testing.T) {
	issuedAt := time.Now().Add(-time.Hour)
	c := testCodec(t, func() time.Time { return issuedAt })

	token, _, err := c.IssueAccess("user-1", nil)
	require.NoError(t, err)

	verifier := testCodec(t, nil)
	_, err = verifier.Decode(token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestDecodeRejectsTamperedToken(t *testing.T) {
	c := testCodec(t, nil)

	token, _, err := c.IssueAccess("user-1", nil)
	require.NoError(t, err)

	_, err = c.Decode(token+"x", TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsForeignSecret(t *testing.T) {
	other, err := NewTokenCodec(CodecConfig{
		Secret:     []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:     "cadence-api",
		Audience:   "cadence",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)

	token, _, err := other.IssueAccess("user-1", nil)
	require.NoError(t, err)

	c := testCodec(t, nil)
	_, err = c.Decode(token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsWrongIssuer(t *testing.T) {
	other, err := NewTokenCodec(CodecConfig{
		Secret:     testSecret,
		Issuer:     "someone-else",
		Audience:   "cadence",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)

	token, _, err := other.IssueAccess("user-1", nil)
	require.NoError(t, err)

	c := testCodec(t, nil)
	_, err = c.Decode(token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	c := testCodec(t, nil)
	_, _, err := c.IssueAccess("", nil)
	require.Error(t, err)
}

func TestExtraClaimsCannotShadowRegistered(t *testing.T) {
	c := testCodec(t, nil)

	token, _, err := c.IssueAccess("user-1", map[string]any{"sub": "attacker", "typ": TokenTypeRefresh})
	require.NoError(t, err)

	claims, err := c.Decode(token, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestRefreshTokenCarriesJTI(t *testing.T) {
	c := testCodec(t, nil)

	token, jti, _, err := c.IssueRefresh("user-1")
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := c.Decode(token, TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, jti, claims.ID)
}
