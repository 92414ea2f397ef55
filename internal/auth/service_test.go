package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/internal/mail"
)

type memStore struct {
	users    *memUsers
	tokens   *memTokens
	sessions *memSessions
}

func newMemStore() *memStore {
	users := &memUsers{byID: make(map[string]*User)}
	return &memStore{
		users:    users,
		tokens:   &memTokens{users: users},
		sessions: newMemSessions(),
	}
}

func (s *memStore) Users() UserStore       { return s.users }
func (s *memStore) Tokens() TokenStore     { return s.tokens }
func (s *memStore) Sessions() SessionStore { return s.sessions }

type memUsers struct {
	mu   sync.Mutex
	byID map[string]*User
}

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == u.Email || existing.Username == u.Username {
			return ErrConflict
		}
	}
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) TouchLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

type memTokens struct {
	mu            sync.Mutex
	users         *memUsers
	verifications []*ActionToken
	resets        []*ActionToken
}

func (m *memTokens) CreateVerification(_ context.Context, t *ActionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.verifications = append(m.verifications, &cp)
	return nil
}

func (m *memTokens) CreateReset(_ context.Context, t *ActionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.resets = append(m.resets, &cp)
	return nil
}

func (m *memTokens) redeem(rows []*ActionToken, userID, token string) (*ActionToken, error) {
	for _, row := range rows {
		if row.UserID != userID || row.Token != token {
			continue
		}
		if row.UsedAt != nil {
			return nil, ErrTokenUsed
		}
		if time.Now().After(row.ExpiresAt) {
			return nil, ErrTokenExpired
		}
		now := time.Now().UTC()
		row.UsedAt = &now
		return row, nil
	}
	return nil, ErrInvalidToken
}

func (m *memTokens) RedeemVerification(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.redeem(m.verifications, userID, token); err != nil {
		return err
	}
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	if u, ok := m.users.byID[userID]; ok {
		u.IsVerified = true
	}
	return nil
}

func (m *memTokens) RedeemReset(_ context.Context, userID, token, newPasswordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.redeem(m.resets, userID, token); err != nil {
		return err
	}
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	if u, ok := m.users.byID[userID]; ok {
		u.PasswordHash = newPasswordHash
	}
	return nil
}

type recordingOutbox struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (r *recordingOutbox) Enqueue(_ context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingOutbox) last(t *testing.T) mail.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.messages)
	return r.messages[len(r.messages)-1]
}

func testService(t *testing.T) (*Service, *memStore, *recordingOutbox) {
	t.Helper()
	store := newMemStore()
	sessions, err := NewSessionManager(testCodec(t, nil), store.sessions, nil)
	require.NoError(t, err)
	outbox := &recordingOutbox{}
	svc, err := NewService(store, sessions, outbox, "https://app.cadence.test")
	require.NoError(t, err)
	return svc, store, outbox
}

func register(t *testing.T, svc *Service) *User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterInput{
		Username:      "casey",
		Email:         "casey@example.com",
		Password:      "Sup3r-secret!",
		AcceptedTerms: true,
	})
	require.NoError(t, err)
	return user
}

func verifiedUser(t *testing.T, svc *Service, store *memStore, outbox *recordingOutbox) *User {
	t.Helper()
	user := register(t, svc)
	token := store.tokens.verifications[len(store.tokens.verifications)-1].Token
	require.NoError(t, svc.VerifyEmail(context.Background(), user.Email, token))
	fresh, err := store.users.Find(context.Background(), user.ID)
	require.NoError(t, err)
	return fresh
}

func TestRegisterCreatesUnverifiedUser(t *testing.T) {
	svc, store, outbox := testService(t)

	user := register(t, svc)
	assert.False(t, user.IsVerified)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "Sup3r-secret!", user.PasswordHash)

	msg := outbox.last(t)
	assert.Equal(t, "verification", msg.Kind)
	assert.Equal(t, "casey@example.com", msg.To)
	assert.Contains(t, msg.Body, "https://app.cadence.test/verify-email?token=")

	require.Len(t, store.tokens.verifications, 1)
	assert.Contains(t, msg.Body, store.tokens.verifications[0].Token)
}

func TestMailLinksEscapeQueryValues(t *testing.T) {
	svc, store, outbox := testService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{
		Username:      "casey",
		Email:         "casey+tag@example.com",
		Password:      "Sup3r-secret!",
		AcceptedTerms: true,
	})
	require.NoError(t, err)

	// The plus sign must survive the query string, not round-trip as a space.
	msg := outbox.last(t)
	assert.Contains(t, msg.Body, "email=casey%2Btag%40example.com")
	assert.NotContains(t, msg.Body, "email=casey+tag@example.com")
	assert.Contains(t, msg.Body, "token="+store.tokens.verifications[0].Token)

	token := store.tokens.verifications[0].Token
	require.NoError(t, svc.VerifyEmail(ctx, user.Email, token))
	require.NoError(t, svc.RequestPasswordReset(ctx, user.Email))

	msg = outbox.last(t)
	assert.Contains(t, msg.Body, "email=casey%2Btag%40example.com")
	assert.Contains(t, msg.Body, "token="+store.tokens.resets[0].Token)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"terms not accepted", RegisterInput{Username: "casey", Email: "c@example.com", Password: "Sup3r-secret!"}},
		{"short username", RegisterInput{Username: "ab", Email: "c@example.com", Password: "Sup3r-secret!", AcceptedTerms: true}},
		{"bad username chars", RegisterInput{Username: "ca sey", Email: "c@example.com", Password: "Sup3r-secret!", AcceptedTerms: true}},
		{"reserved username", RegisterInput{Username: "admin", Email: "c@example.com", Password: "Sup3r-secret!", AcceptedTerms: true}},
		{"bad email", RegisterInput{Username: "casey", Email: "not-an-email", Password: "Sup3r-secret!", AcceptedTerms: true}},
		{"weak password", RegisterInput{Username: "casey", Email: "c@example.com", Password: "alllowercase1", AcceptedTerms: true}},
		{"short password", RegisterInput{Username: "casey", Email: "c@example.com", Password: "Ab1!", AcceptedTerms: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegisterDuplicateVerifiedEmail(t *testing.T) {
	svc, store, outbox := testService(t)
	verifiedUser(t, svc, store, outbox)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username:      "casey2",
		Email:         "casey@example.com",
		Password:      "Sup3r-secret!",
		AcceptedTerms: true,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRegisterUnverifiedEmailReissuesToken(t *testing.T) {
	svc, store, _ := testService(t)
	first := register(t, svc)

	again, err := svc.Register(context.Background(), RegisterInput{
		Username:      "other",
		Email:         "casey@example.com",
		Password:      "An0ther-pass!",
		AcceptedTerms: true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, store.tokens.verifications, 2)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _, _ := testService(t)
	register(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username:      "casey",
		Email:         "other@example.com",
		Password:      "Sup3r-secret!",
		AcceptedTerms: true,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestVerifyEmail(t *testing.T) {
	svc, store, _ := testService(t)
	user := register(t, svc)
	ctx := context.Background()
	token := store.tokens.verifications[0].Token

	require.NoError(t, svc.VerifyEmail(ctx, user.Email, token))

	fresh, err := store.users.Find(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, fresh.IsVerified)

	// Second redemption of the same token is benign for a verified account.
	require.NoError(t, svc.VerifyEmail(ctx, user.Email, token))

	assert.ErrorIs(t, svc.VerifyEmail(ctx, user.Email, "bogus"), ErrInvalidToken)
	assert.ErrorIs(t, svc.VerifyEmail(ctx, "nobody@example.com", token), ErrInvalidToken)
}

func TestResendVerification(t *testing.T) {
	svc, store, _ := testService(t)
	user := register(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.ResendVerification(ctx, user.Email))
	assert.Len(t, store.tokens.verifications, 2)

	// Unknown email gets the same silent success.
	require.NoError(t, svc.ResendVerification(ctx, "nobody@example.com"))
	assert.Len(t, store.tokens.verifications, 2)

	// Verified accounts are not re-mailed.
	token := store.tokens.verifications[1].Token
	require.NoError(t, svc.VerifyEmail(ctx, user.Email, token))
	require.NoError(t, svc.ResendVerification(ctx, user.Email))
	assert.Len(t, store.tokens.verifications, 2)
}

func TestLogin(t *testing.T) {
	svc, store, outbox := testService(t)
	user := verifiedUser(t, svc, store, outbox)
	ctx := context.Background()

	pair, loggedIn, err := svc.Login(ctx, LoginInput{
		Email:    user.Email,
		Password: "Sup3r-secret!",
		IP:       "203.0.113.9",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	require.NotNil(t, loggedIn.LastLoginAt)

	stored, err := store.users.Find(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLoginGenericFailures(t *testing.T) {
	svc, store, outbox := testService(t)
	user := verifiedUser(t, svc, store, outbox)
	ctx := context.Background()

	// Wrong password and unknown account are the same error.
	_, _, err := svc.Login(ctx, LoginInput{Email: user.Email, Password: "Wr0ng-pass!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "Sup3r-secret!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, LoginInput{Email: "not-an-email", Password: "Sup3r-secret!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnverifiedAccount(t *testing.T) {
	svc, _, _ := testService(t)
	user := register(t, svc)

	_, _, err := svc.Login(context.Background(), LoginInput{Email: user.Email, Password: "Sup3r-secret!"})
	assert.ErrorIs(t, err, ErrUnverified)
}

func TestLoginDisabledAccount(t *testing.T) {
	svc, store, outbox := testService(t)
	user := verifiedUser(t, svc, store, outbox)

	store.users.mu.Lock()
	store.users.byID[user.ID].IsActive = false
	store.users.mu.Unlock()

	_, _, err := svc.Login(context.Background(), LoginInput{Email: user.Email, Password: "Sup3r-secret!"})
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, store, outbox := testService(t)
	user := verifiedUser(t, svc, store, outbox)
	ctx := context.Background()

	require.NoError(t, svc.RequestPasswordReset(ctx, user.Email))
	msg := outbox.last(t)
	assert.Equal(t, "password_reset", msg.Kind)
	require.Len(t, store.tokens.resets, 1)
	token := store.tokens.resets[0].Token

	require.NoError(t, svc.ConfirmPasswordReset(ctx, user.Email, token, "N3w-password!"))

	_, _, err := svc.Login(ctx, LoginInput{Email: user.Email, Password: "Sup3r-secret!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, LoginInput{Email: user.Email, Password: "N3w-password!"})
	require.NoError(t, err)

	// Single use.
	err = svc.ConfirmPasswordReset(ctx, user.Email, token, "Y3t-another!")
	assert.ErrorIs(t, err, ErrTokenUsed)
}

func TestPasswordResetIsEnumerationSafe(t *testing.T) {
	svc, store, _ := testService(t)

	require.NoError(t, svc.RequestPasswordReset(context.Background(), "nobody@example.com"))
	require.NoError(t, svc.RequestPasswordReset(context.Background(), "not-an-email"))
	assert.Empty(t, store.tokens.resets)
}

func TestConfirmPasswordResetValidation(t *testing.T) {
	svc, store, outbox := testService(t)
	user := verifiedUser(t, svc, store, outbox)
	ctx := context.Background()

	require.NoError(t, svc.RequestPasswordReset(ctx, user.Email))
	token := store.tokens.resets[0].Token

	assert.ErrorIs(t, svc.ConfirmPasswordReset(ctx, user.Email, token, "weak"), ErrInvalidInput)
	assert.ErrorIs(t, svc.ConfirmPasswordReset(ctx, user.Email, "bogus", "N3w-password!"), ErrInvalidToken)
	assert.ErrorIs(t, svc.ConfirmPasswordReset(ctx, "nobody@example.com", token, "N3w-password!"), ErrInvalidToken)
}
