package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-establishment-auth/internal/config"
	"github.com/go-establishment-auth/internal/domain"
	jwtinfra "github.com/go-establishment-auth/internal/infrastructure/jwt"
	pkgtoken "github.com/go-establishment-auth/internal/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

// memStore mirrors the conditional semantics of the DynamoDB repo.
type memStore struct {
	mu          sync.Mutex
	records     map[string]*domain.RefreshToken
	revokeAlls  int
	rotateErr   error
	beforeWrite func() // runs inside Rotate before the condition check
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*domain.RefreshToken{}}
}

func (m *memStore) Issue(_ context.Context, t *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[t.TokenHash]; ok {
		return domain.ErrConflict
	}
	cp := *t
	m.records[t.TokenHash] = &cp
	return nil
}

func (m *memStore) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.records[hash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) FindActiveByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	t, err := m.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if t.IsRevoked {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (m *memStore) Revoke(_ context.Context, t *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[t.TokenHash]; ok {
		r.IsRevoked = true
	}
	return nil
}

func (m *memStore) RevokeAll(_ context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeAlls++
	n := 0
	for _, r := range m.records {
		if r.AccountID == accountID && !r.IsRevoked {
			r.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) Rotate(_ context.Context, old, next *domain.RefreshToken) error {
	if m.beforeWrite != nil {
		m.beforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotateErr != nil {
		return m.rotateErr
	}
	r, ok := m.records[old.TokenHash]
	if !ok || r.IsRevoked {
		return domain.ErrConflict
	}
	if _, exists := m.records[next.TokenHash]; exists {
		return domain.ErrConflict
	}
	r.IsRevoked = true
	cp := *next
	m.records[next.TokenHash] = &cp
	return nil
}

func (m *memStore) active(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.AccountID == accountID && !r.IsRevoked {
			n++
		}
	}
	return n
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

// --- builder ---

func newProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jwtinfra.NewProviderFromKey(key, &config.Config{
		AccessTokenTTL:  15 * time.Minute,
		Pre2FATokenTTL:  10 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
}

type fixture struct {
	store    *memStore
	users    *mockUserStore
	provider *jwtinfra.Provider
	now      time.Time
	svc      Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), users: &mockUserStore{}, provider: newProvider(t), now: time.Now()}
	f.svc = NewService(ServiceDeps{
		RefreshTokens: f.store,
		Users:         f.users,
		Tokens:        f.provider,
		Now:           func() time.Time { return f.now },
	})
	return f
}

func activeUser() *domain.User {
	return &domain.User{UserID: "acc-1", Username: "ada", FirstName: "Ada", LastName: "Lovelace", Enable: 1}
}

var rc = domain.RequestContext{UserAgent: "test-agent", IPAddress: "203.0.113.7"}

// --- IssuePair ---

func TestIssuePair_StoresHashedRecord(t *testing.T) {
	f := newFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), activeUser(), rc)
	require.NoError(t, err)

	claims, err := f.provider.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", claims.Name)

	rec, err := f.store.GetByHash(context.Background(), pkgtoken.Hash(pair.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, "acc-1", rec.AccountID)
	assert.Equal(t, "test-agent", rec.UserAgent)
	assert.Equal(t, "203.0.113.7", rec.IPAddress)
	assert.False(t, rec.IsRevoked)
	assert.NotEmpty(t, rec.ID)
	assert.NotEqual(t, pair.RefreshToken, rec.TokenHash)
	assert.WithinDuration(t, f.now.Add(7*24*time.Hour), rec.ExpiresAt, time.Second)
}

func TestIssuePair_StoreFailure(t *testing.T) {
	f := newFixture(t)
	svc := NewService(ServiceDeps{RefreshTokens: &failingIssueStore{memStore: f.store}, Users: f.users, Tokens: f.provider})
	_, err := svc.IssuePair(context.Background(), activeUser(), rc)
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
}

type failingIssueStore struct{ *memStore }

func (f *failingIssueStore) Issue(context.Context, *domain.RefreshToken) error {
	return errors.New("ddb unavailable")
}

// --- Rotate ---

func TestRotate_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.users.On("Get", mock.Anything, "acc-1").Return(activeUser(), nil)
	r1, err := f.svc.IssuePair(context.Background(), activeUser(), rc)
	require.NoError(t, err)

	r2, err := f.svc.Rotate(context.Background(), r1.RefreshToken, rc)
	require.NoError(t, err)
	assert.NotEqual(t, r1.RefreshToken, r2.RefreshToken)

	old, _ := f.store.GetByHash(context.Background(), pkgtoken.Hash(r1.RefreshToken))
	assert.True(t, old.IsRevoked)
	assert.Equal(t, 1, f.store.active("acc-1"))
}

func TestRotate_ReuseRevokesEverything(t *testing.T) {
	f := newFixture(t)
	f.users.On("Get", mock.Anything, "acc-1").Return(activeUser(), nil)
	ctx := context.Background()

	r1, err := f.svc.IssuePair(ctx, activeUser(), rc)
	require.NoError(t, err)
	r2, err := f.svc.Rotate(ctx, r1.RefreshToken, rc)
	require.NoError(t, err)

	// Replaying the rotated token is a reuse signal.
	_, err = f.svc.Rotate(ctx, r1.RefreshToken, rc)
	assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	assert.Equal(t, 1, f.store.revokeAlls)
	assert.Equal(t, 0, f.store.active("acc-1"))

	// The legitimate successor is now dead too.
	_, err = f.svc.Rotate(ctx, r2.RefreshToken, rc)
	assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
}

func TestRotate_ConcurrentLoserTreatedAsReuse(t *testing.T) {
	f := newFixture(t)
	f.users.On("Get", mock.Anything, "acc-1").Return(activeUser(), nil)
	ctx := context.Background()
	r1, err := f.svc.IssuePair(ctx, activeUser(), rc)
	require.NoError(t, err)

	// Simulate a competing request revoking the record after our read.
	f.store.beforeWrite = func() {
		f.store.beforeWrite = nil
		_ = f.store.Revoke(ctx, &domain.RefreshToken{TokenHash: pkgtoken.Hash(r1.RefreshToken)})
	}
	_, err = f.svc.Rotate(ctx, r1.RefreshToken, rc)
	assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	assert.Equal(t, 1, f.store.revokeAlls)
}

func TestRotate_ExpiredRecordRevokedWithoutMassRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1, err := f.svc.IssuePair(ctx, activeUser(), rc)
	require.NoError(t, err)
	other, err := f.svc.IssuePair(ctx, activeUser(), rc)
	require.NoError(t, err)

	// The service clock is past the record's expiry while the JWT, checked
	// against the wall clock, still verifies.
	f.now = f.now.Add(7*24*time.Hour + time.Minute)

	_, err = f.svc.Rotate(ctx, r1.RefreshToken, rc)
	assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	assert.Equal(t, 0, f.store.revokeAlls)
	after, _ := f.store.GetByHash(ctx, pkgtoken.Hash(r1.RefreshToken))
	assert.True(t, after.IsRevoked)
	sibling, _ := f.store.GetByHash(ctx, pkgtoken.Hash(other.RefreshToken))
	assert.False(t, sibling.IsRevoked)
}

func TestRotate_UnknownToken(t *testing.T) {
	f := newFixture(t)
	tok, err := f.provider.SignRefresh("acc-1", "never-stored")
	require.NoError(t, err)

	_, err = f.svc.Rotate(context.Background(), tok, rc)
	assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	assert.Equal(t, 0, f.store.revokeAlls)
}

func TestRotate_BadSignatureOrPurpose(t *testing.T) {
	f := newFixture(t)
	access, err := f.provider.SignAccess("acc-1", "Ada")
	require.NoError(t, err)

	_, err = f.svc.Rotate(context.Background(), access, rc)
	assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
	_, err = f.svc.Rotate(context.Background(), "garbage", rc)
	assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
}

func TestRotate_InactiveAccount(t *testing.T) {
	f := newFixture(t)
	inactive := activeUser()
	inactive.Enable = 0
	f.users.On("Get", mock.Anything, "acc-1").Return(inactive, nil)
	r1, err := f.svc.IssuePair(context.Background(), activeUser(), rc)
	require.NoError(t, err)

	_, err = f.svc.Rotate(context.Background(), r1.RefreshToken, rc)
	assert.ErrorIs(t, err, domain.ErrInvalidRefreshToken)
}

func TestRotate_StorageErrorOnRotate(t *testing.T) {
	f := newFixture(t)
	f.users.On("Get", mock.Anything, "acc-1").Return(activeUser(), nil)
	r1, err := f.svc.IssuePair(context.Background(), activeUser(), rc)
	require.NoError(t, err)
	f.store.rotateErr = errors.New("throttled")

	_, err = f.svc.Rotate(context.Background(), r1.RefreshToken, rc)
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.Equal(t, 0, f.store.revokeAlls)
}

// --- Revoke ---

func TestRevoke_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1, err := f.svc.IssuePair(ctx, activeUser(), rc)
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, r1.RefreshToken))
	assert.Equal(t, 0, f.store.active("acc-1"))
	assert.NoError(t, f.svc.Revoke(ctx, r1.RefreshToken))
	assert.NoError(t, f.svc.Revoke(ctx, "not-a-token"))
	assert.NoError(t, f.svc.Revoke(ctx, ""))
}
