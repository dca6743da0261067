package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidestore/tidestore/internal/models"
	"github.com/tidestore/tidestore/internal/ratelimit"
	"github.com/tidestore/tidestore/internal/store"
)

// fakeSecretStore is an in-memory store.SecretStore for resolver tests.
type fakeSecretStore struct {
	mu      sync.Mutex
	byHash  map[string]*models.PinningSecret
	touched []string
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{byHash: make(map[string]*models.PinningSecret)}
}

func (f *fakeSecretStore) Create(_ context.Context, s *models.PinningSecret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[s.SecretHash] = s
	return nil
}

func (f *fakeSecretStore) Get(_ context.Context, id string) (*models.PinningSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byHash {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeSecretStore) GetActiveByHash(_ context.Context, hash string) (*models.PinningSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byHash[hash]
	if !ok || !s.IsActive {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeSecretStore) ListByOwner(_ context.Context, _ string) ([]*models.PinningSecret, error) {
	return nil, nil
}

func (f *fakeSecretStore) Revoke(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byHash {
		if s.ID == id {
			s.IsActive = false
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeSecretStore) TouchLastUsed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeSecretStore) AddUsedQuota(_ context.Context, _ string, _ int64) error { return nil }

func (f *fakeSecretStore) DeleteByOwner(_ context.Context, _ string) error { return nil }

// fakeVerifier records whether bearer verification was attempted.
type fakeVerifier struct {
	called bool
	claims *TokenClaims
	err    error
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (*TokenClaims, error) {
	f.called = true
	return f.claims, f.err
}

func newTestResolver(t *testing.T, verifier TokenVerifier, secrets store.SecretStore) *Resolver {
	t.Helper()
	limiter := ratelimit.New(60, time.Minute, 0)
	r := NewResolver(verifier, secrets, limiter, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
		limiter.Close()
	})
	return r
}

func storedSecret(raw string) *models.PinningSecret {
	return &models.PinningSecret{
		ID:                 "sec-1",
		OwnerID:            "user-1",
		Prefix:             DisplayPrefix(raw),
		SecretHash:         HashSecret(raw),
		Scopes:             []string{models.ScopeDownload},
		RateLimitPerMinute: 60,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestPrefixDispatchNeverFallsThrough(t *testing.T) {
	raw, err := GenerateSecret()
	require.NoError(t, err)

	secrets := newFakeSecretStore()
	require.NoError(t, secrets.Create(context.Background(), storedSecret(raw)))

	verifier := &fakeVerifier{claims: &TokenClaims{Subject: "user-2"}}
	r := newTestResolver(t, verifier, secrets)

	identity, info, err := r.Resolve(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.IsType(t, SecretIdentity{}, identity)
	assert.False(t, verifier.called, "a prefixed credential must never reach the token verifier")

	// An unknown prefixed credential fails as a secret, still without touching
	// the verifier.
	_, _, err = r.Resolve(context.Background(), SecretPrefix+"unknown")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.False(t, verifier.called)
}

func TestBearerPathNeverHitsSecretStore(t *testing.T) {
	secrets := newFakeSecretStore()
	verifier := &fakeVerifier{claims: &TokenClaims{Subject: "user-2", Email: "u@example.com"}}
	r := newTestResolver(t, verifier, secrets)

	identity, info, err := r.Resolve(context.Background(), "some.jwt.token")
	require.NoError(t, err)
	assert.Nil(t, info, "bearer path leaves IP limiting to the gate")

	jwtID, ok := identity.(JWTIdentity)
	require.True(t, ok)
	assert.Equal(t, "user-2", jwtID.SubjectID)
	assert.Equal(t, "u@example.com", jwtID.Email)
	assert.True(t, verifier.called)
}

func TestRevokedSecretFailsResolution(t *testing.T) {
	raw, err := GenerateSecret()
	require.NoError(t, err)

	secrets := newFakeSecretStore()
	sec := storedSecret(raw)
	require.NoError(t, secrets.Create(context.Background(), sec))
	require.NoError(t, secrets.Revoke(context.Background(), sec.ID, sec.OwnerID))

	r := newTestResolver(t, &fakeVerifier{}, secrets)

	_, _, err = r.Resolve(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidCredential, "a revoked secret fails even though its hash still matches")
}

func TestSecretRateLimitDenial(t *testing.T) {
	raw, err := GenerateSecret()
	require.NoError(t, err)

	secrets := newFakeSecretStore()
	sec := storedSecret(raw)
	sec.RateLimitPerMinute = 2
	require.NoError(t, secrets.Create(context.Background(), sec))

	r := newTestResolver(t, &fakeVerifier{}, secrets)

	for i := 0; i < 2; i++ {
		_, _, err := r.Resolve(context.Background(), raw)
		require.NoError(t, err)
	}

	_, _, err = r.Resolve(context.Background(), raw)
	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 2, rle.Info.Limit)
	assert.Equal(t, 0, rle.Info.Remaining)
}

func TestMissingCredential(t *testing.T) {
	r := newTestResolver(t, &fakeVerifier{}, newFakeSecretStore())

	_, _, err := r.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestUpstreamVerificationFailure(t *testing.T) {
	verifier := &fakeVerifier{err: errors.New("provider unreachable")}
	r := newTestResolver(t, verifier, newFakeSecretStore())

	_, _, err := r.Resolve(context.Background(), "some.jwt.token")
	assert.ErrorIs(t, err, ErrUpstreamVerification)
}

func TestInvalidTokenIsInvalidCredential(t *testing.T) {
	verifier := &fakeVerifier{err: ErrTokenInvalid}
	r := newTestResolver(t, verifier, newFakeSecretStore())

	_, _, err := r.Resolve(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestLastUsedUpdateIsBestEffort(t *testing.T) {
	raw, err := GenerateSecret()
	require.NoError(t, err)

	secrets := newFakeSecretStore()
	sec := storedSecret(raw)
	require.NoError(t, secrets.Create(context.Background(), sec))

	r := newTestResolver(t, &fakeVerifier{}, secrets)

	_, _, err = r.Resolve(context.Background(), raw)
	require.NoError(t, err)

	// Draining the worker via Shutdown guarantees the touch was processed.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	secrets.mu.Lock()
	defer secrets.mu.Unlock()
	assert.Equal(t, []string{sec.ID}, secrets.touched)
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearerToken("bearer abc"))
	assert.Equal(t, "", ExtractBearerToken(""))
	assert.Equal(t, "", ExtractBearerToken("Basic abc"))
	assert.Equal(t, "", ExtractBearerToken("Bearer"))
}
