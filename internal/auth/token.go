package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenTypeAccess marks short-lived bearer credentials.
	TokenTypeAccess = "access"
	// TokenTypeRefresh marks the long-lived single-use rotation credential.
	TokenTypeRefresh = "refresh"

	defaultLeeway = 10 * time.Second
)

// Claims are the verified JWT claims used across the service.
type Claims struct {
	Typ string `json:"typ"`
	jwt.RegisteredClaims
}

// CodecConfig configures the token codec. Secret and algorithm are
// process-wide configuration, never per-request.
type CodecConfig struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	Now        func() time.Time
}

// TokenCodec issues and validates signed bearer tokens with typed claims.
// HS256 only; the signing key never leaves the process.
type TokenCodec struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// NewTokenCodec validates the configuration and builds a codec.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("issuer and audience are required")
	}
	c := &TokenCodec{
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		leeway:     cfg.Leeway,
		now:        cfg.Now,
	}
	if c.leeway <= 0 {
		c.leeway = defaultLeeway
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// AccessTTL reports the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs an access token for the subject. Extra claims may not
// shadow registered claim names.
func (c *TokenCodec) IssueAccess(sub string, extra map[string]any) (string, time.Time, error) {
	return c.issue(sub, TokenTypeAccess, c.accessTTL, uuid.NewString(), extra)
}

// IssueRefresh signs a refresh token and returns its jti for server-side
// session tracking.
func (c *TokenCodec) IssueRefresh(sub string) (token, jti string, expiresAt time.Time, err error) {
	jti = uuid.NewString()
	token, expiresAt, err = c.issue(sub, TokenTypeRefresh, c.refreshTTL, jti, nil)
	return token, jti, expiresAt, err
}

func (c *TokenCodec) issue(sub, typ string, ttl time.Duration, jti string, extra map[string]any) (string, time.Time, error) {
	if strings.TrimSpace(sub) == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"iss": c.issuer,
		"aud": c.audience,
		"iat": jwt.NewNumericDate(now),
		"nbf": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(exp),
		"jti": jti,
		"sub": sub,
		"typ": typ,
	}
	for k, v := range extra {
		if _, reserved := claims[k]; reserved {
			continue
		}
		claims[k] = v
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Decode verifies signature, issuer, audience, expiry, and not-before with a
// small clock leeway. When expectTyp is non-empty the typ claim must match.
func (c *TokenCodec) Decode(token, expectTyp string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithLeeway(c.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if expectTyp != "" && claims.Typ != expectTyp {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
