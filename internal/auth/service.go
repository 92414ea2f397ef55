package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cadencehq/cadence/internal/ids"
	"github.com/cadencehq/cadence/internal/mail"
	"github.com/cadencehq/cadence/internal/obs"
)

const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = time.Hour
)

// MailQueue enqueues outbound mail durably. Enqueue failures are logged and
// never roll back the user-visible outcome; the resend endpoint covers the
// gap.
type MailQueue interface {
	Enqueue(ctx context.Context, msg mail.Message) error
}

// Service orchestrates registration, verification, login, refresh, and
// password reset over the credential store, the session manager, and the
// mailer.
type Service struct {
	store       Store
	sessions    *SessionManager
	outbox      MailQueue
	frontendURL string
	now         func() time.Time

	// dummyHash is verified against when the account does not exist so the
	// failure path costs the same as a real password check.
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source for tests.
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the authentication pipeline.
func NewService(store Store, sessions *SessionManager, outbox MailQueue, frontendURL string, opts ...ServiceOption) (*Service, error) {
	if store == nil || sessions == nil || outbox == nil {
		return nil, errors.New("store, session manager, and mail queue are required")
	}
	dummy, err := HashPassword("decoy-" + ids.New())
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:       store,
		sessions:    sessions,
		outbox:      outbox,
		frontendURL: frontendURL,
		now:         time.Now,
		dummyHash:   dummy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Username      string
	Email         string
	Password      string
	AcceptedTerms bool
}

// Register creates an unverified account and emits a verification mail.
// Registering an email that belongs to an existing verified account returns
// ErrConflict; an existing unverified account gets a fresh token instead.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if !in.AcceptedTerms {
		return nil, fmt.Errorf("%w: terms must be accepted", ErrInvalidInput)
	}
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	if existing, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		if existing.IsVerified {
			return nil, ErrConflict
		}
		// Unverified re-registration re-issues the token; the abuse guard
		// rate-limits how often this can be driven.
		if err := s.issueVerification(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := s.store.Users().FindByUsername(ctx, in.Username); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           ids.New(),
		Email:        email,
		Username:     in.Username,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   false,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.issueVerification(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) issueVerification(ctx context.Context, user *User) error {
	token, err := NewOpaqueToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	row := &ActionToken{
		ID:        ids.New(),
		Token:     token,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(verificationTokenTTL),
	}
	if err := s.store.Tokens().CreateVerification(ctx, row); err != nil {
		return err
	}
	s.enqueueMail(ctx, mail.Message{
		To:      user.Email,
		Kind:    "verification",
		Subject: "Verify your Cadence account",
		Body: fmt.Sprintf("Confirm your email address:\n\n%s/verify-email?token=%s&email=%s\n\nThe link expires in 24 hours.",
			s.frontendURL, url.QueryEscape(token), url.QueryEscape(user.Email)),
	})
	return nil
}

func (s *Service) enqueueMail(ctx context.Context, msg mail.Message) {
	if err := s.outbox.Enqueue(ctx, msg); err != nil {
		// The state change already committed; the user can drive a resend.
		obs.Error("auth.mail.enqueue_failed", err, map[string]any{"kind": msg.Kind})
	}
}

// VerifyEmail redeems a verification token. Redemption is atomic with the
// is_verified flip. Already-verified accounts get a benign success.
func (s *Service) VerifyEmail(ctx context.Context, email, token string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	err = s.store.Tokens().RedeemVerification(ctx, user.ID, token)
	if errors.Is(err, ErrTokenUsed) && user.IsVerified {
		return nil
	}
	return err
}

// ResendVerification re-issues the verification token. The response is the
// same whether or not the email exists.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if user.IsVerified {
		return nil
	}
	return s.issueVerification(ctx, user)
}

// LoginInput is the login request.
type LoginInput struct {
	Email       string
	Password    string
	DeviceLabel string
	IP          string
	UserAgent   string
}

// Login verifies credentials and account state, then issues a token pair.
// Unknown accounts and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (TokenPair, *User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Equalize timing with a real verification.
			_ = VerifyPassword(s.dummyHash, in.Password)
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}
	if err := VerifyPassword(user.PasswordHash, in.Password); err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return TokenPair{}, nil, ErrAccountDisabled
	}
	if !user.IsVerified {
		return TokenPair{}, nil, ErrUnverified
	}

	userAgent := in.UserAgent
	if in.DeviceLabel != "" {
		userAgent = in.DeviceLabel
	}
	pair, err := s.sessions.Issue(ctx, user.ID, in.IP, userAgent)
	if err != nil {
		return TokenPair{}, nil, err
	}
	now := s.now().UTC()
	if err := s.store.Users().TouchLogin(ctx, user.ID, now); err != nil {
		obs.Error("auth.login.touch_failed", err, map[string]any{"user_id": user.ID})
	}
	user.LastLoginAt = &now
	return pair, user, nil
}

// RequestPasswordReset issues a reset token when the account exists. The
// caller always receives the same generic outcome.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	token, err := NewOpaqueToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	row := &ActionToken{
		ID:        ids.New(),
		Token:     token,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(resetTokenTTL),
	}
	if err := s.store.Tokens().CreateReset(ctx, row); err != nil {
		return err
	}
	s.enqueueMail(ctx, mail.Message{
		To:      user.Email,
		Kind:    "password_reset",
		Subject: "Reset your Cadence password",
		Body: fmt.Sprintf("Reset your password:\n\n%s/reset-password?token=%s&email=%s\n\nThe link expires in 1 hour.",
			s.frontendURL, url.QueryEscape(token), url.QueryEscape(user.Email)),
	})
	return nil
}

// ConfirmPasswordReset redeems the token, replaces the password, and revokes
// every refresh session of the user in one transaction.
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, token, newPassword string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return ErrInvalidToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.store.Tokens().RedeemReset(ctx, user.ID, token, hash)
}

// Profile loads the minimal user profile for an authenticated principal.
func (s *Service) Profile(ctx context.Context, userID string) (*User, error) {
	return s.store.Users().Find(ctx, userID)
}

// Sessions exposes the session manager for the HTTP layer.
func (s *Service) Sessions() *SessionManager { return s.sessions }
