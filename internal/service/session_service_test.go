package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/storefront/authsession/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeUsers struct {
	byID map[string]*models.User
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return f.byID[id], nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

type fakeTokenStore struct {
	mu      sync.Mutex
	records map[string]models.RefreshTokenData

	// beforeRevoke runs once, just before the next MarkRevoked.
	beforeRevoke func()
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{records: map[string]models.RefreshTokenData{}}
}

func (f *fakeTokenStore) Store(ctx context.Context, data models.RefreshTokenData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[data.JTI] = data
	return nil
}

func (f *fakeTokenStore) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[jti]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &rec, nil
}

func (f *fakeTokenStore) MarkRevoked(ctx context.Context, jti string, revokedAt time.Time, replacedBy string) error {
	if hook := f.beforeRevoke; hook != nil {
		f.beforeRevoke = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[jti]
	if !ok {
		return ErrTokenNotFound
	}
	if rec.Revoked {
		return ErrTokenRevoked
	}
	rec.Revoked = true
	rec.RevokedAt = &revokedAt
	rec.ReplacedBy = replacedBy
	f.records[jti] = rec
	return nil
}

func (f *fakeTokenStore) RevokeFamily(ctx context.Context, familyID string, revokedAt time.Time) ([]models.RefreshTokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var revoked []models.RefreshTokenData
	for jti, rec := range f.records {
		if rec.FamilyID != familyID || rec.Revoked {
			continue
		}
		rec.Revoked = true
		rec.RevokedAt = &revokedAt
		f.records[jti] = rec
		revoked = append(revoked, rec)
	}
	return revoked, nil
}

func (f *fakeTokenStore) get(jti string) models.RefreshTokenData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[jti]
}

type fakeRevocations struct {
	revoked map[string]time.Duration
	err     error
}

func (f *fakeRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.revoked[jti] = ttl
	return nil
}

func (f *fakeRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.revoked[jti]
	return ok, nil
}

type sessionFixture struct {
	svc         *SessionService
	tokens      *fakeTokenStore
	revocations *fakeRevocations
	user        *models.User
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		ID:           "user-1",
		Email:        "a@test.com",
		PasswordHash: string(hash),
		Role:         models.RoleEditor,
		FirstName:    "Ada",
	}

	clock := func() time.Time { return frozenNow }
	signer := newTestSigner(testJWTConfig(), clock)
	tokens := newFakeTokenStore()
	revocations := &fakeRevocations{revoked: map[string]time.Duration{}}

	svc := NewSessionService(
		signer,
		&fakeUsers{byID: map[string]*models.User{user.ID: user}},
		tokens,
		revocations,
		BcryptVerifier{},
		testLogger(),
	)
	svc.now = clock

	return &sessionFixture{svc: svc, tokens: tokens, revocations: revocations, user: user}
}

func TestSessionService_Login(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.svc.Login(ctx, "a@test.com", "correct horse", ClientInfo{IP: "10.0.0.1", UserAgent: "test-agent"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer", session.Tokens.TokenType)
	assert.Equal(t, int64(10), session.Tokens.ExpiresIn)
	assert.Equal(t, frozenNow.Add(10*time.Second), session.Tokens.AccessTokenExpiresAt)
	assert.Equal(t, frozenNow.Add(2*time.Hour), session.Tokens.RefreshTokenExpiresAt)
	assert.Equal(t, "user-1", session.User.ID)

	claims, err := f.svc.signer.VerifyRefresh(session.Tokens.RefreshToken)
	require.NoError(t, err)

	rec, err := f.tokens.Get(ctx, claims.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "10.0.0.1", rec.IP)
	assert.Equal(t, "test-agent", rec.UserAgent)
	assert.Equal(t, hashToken(session.Tokens.RefreshToken), rec.TokenHash)
	assert.NotContains(t, rec.TokenHash, session.Tokens.RefreshToken)
	assert.False(t, rec.Revoked)

	access, err := f.svc.signer.VerifyAccess(session.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, access.Role)
}

func TestSessionService_LoginRejected(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "a@test.com", "wrong", ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody@test.com", "correct horse", ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.Empty(t, f.tokens.records)
}

func TestSessionService_RefreshRotates(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)
	oldClaims, err := f.svc.signer.VerifyRefresh(first.Tokens.RefreshToken)
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken, ClientInfo{IP: "10.0.0.2"})
	require.NoError(t, err)
	newClaims, err := f.svc.signer.VerifyRefresh(second.Tokens.RefreshToken)
	require.NoError(t, err)

	old, err := f.tokens.Get(ctx, oldClaims.ID)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	assert.Equal(t, newClaims.ID, old.ReplacedBy)
	assert.Equal(t, 2*time.Hour, f.revocations.revoked[oldClaims.ID])

	// reuse of the rotated token is refused
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestSessionService_RefreshFallsBackWhenCacheDown(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken, ClientInfo{})
	require.NoError(t, err)

	f.revocations.err = errors.New("connection refused")

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestSessionService_RefreshRejectsUnknownAndAccessTokens(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, session.Tokens.AccessToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidToken)

	orphan, err := f.svc.signer.SignRefresh(f.user.ID)
	require.NoError(t, err)
	_, err = f.svc.Refresh(ctx, orphan.Token, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestSessionService_Logout(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, session.Tokens.RefreshToken))
	// idempotent
	require.NoError(t, f.svc.Logout(ctx, session.Tokens.RefreshToken))

	_, err = f.svc.Refresh(ctx, session.Tokens.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	assert.ErrorIs(t, f.svc.Logout(ctx, "garbage"), ErrInvalidToken)
}

func TestSessionService_RefreshKeepsFamily(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)
	second, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken, ClientInfo{})
	require.NoError(t, err)

	a, err := f.svc.signer.VerifyRefresh(first.Tokens.RefreshToken)
	require.NoError(t, err)
	b, err := f.svc.signer.VerifyRefresh(second.Tokens.RefreshToken)
	require.NoError(t, err)

	assert.NotEmpty(t, f.tokens.get(a.ID).FamilyID)
	assert.Equal(t, f.tokens.get(a.ID).FamilyID, f.tokens.get(b.ID).FamilyID)

	other, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)
	c, err := f.svc.signer.VerifyRefresh(other.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, f.tokens.get(a.ID).FamilyID, f.tokens.get(c.ID).FamilyID)
}

func TestSessionService_ReuseRevokesFamily(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)
	second, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	unrelated, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)

	// the rotated-away token comes back, e.g. from a stolen copy
	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	descendant, err := f.svc.signer.VerifyRefresh(second.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.True(t, f.tokens.get(descendant.ID).Revoked)
	assert.Contains(t, f.revocations.revoked, descendant.ID)

	_, err = f.svc.Refresh(ctx, second.Tokens.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = f.svc.Refresh(ctx, unrelated.Tokens.RefreshToken, ClientInfo{})
	assert.NoError(t, err)
}

func TestSessionService_ConcurrentRotationHasOneWinner(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, f.user, ClientInfo{})
	require.NoError(t, err)
	claims, err := f.svc.signer.VerifyRefresh(first.Tokens.RefreshToken)
	require.NoError(t, err)

	// another rotation of the same token lands between lookup and revoke
	f.tokens.beforeRevoke = func() {
		require.NoError(t, f.tokens.MarkRevoked(ctx, claims.ID, frozenNow, "winner"))
	}

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	assert.Equal(t, "winner", f.tokens.get(claims.ID).ReplacedBy)
	assert.Len(t, f.tokens.records, 1, "losing rotation must not persist a new record")
}
