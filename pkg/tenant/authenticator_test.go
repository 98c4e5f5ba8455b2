package tenant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hornet-soc/hornet/pkg/models"
)

type fakeSource struct {
	mu      sync.Mutex
	key     *models.APIKey
	ten     *models.Tenant
	lookups int
	touches int
}

func (f *fakeSource) LookupAPIKey(ctx context.Context, hash string) (*models.APIKey, *models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.key == nil || f.key.KeyHash != hash {
		return nil, nil, ErrKeyNotFound
	}
	return f.key, f.ten, nil
}

func (f *fakeSource) TouchAPIKey(ctx context.Context, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

func (f *fakeSource) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func newFakeSource(clear string) *fakeSource {
	return &fakeSource{
		key: &models.APIKey{ID: "k-1", TenantID: "t-1", KeyHash: HashKey(clear)},
		ten: &models.Tenant{
			ID:               "t-1",
			Name:             "acme",
			IsActive:         true,
			SubscriptionTier: models.TierEnterprise,
		},
	}
}

func TestAuthenticateResolvesIdentity(t *testing.T) {
	const clear = "hsk_0123456789abcdef"
	src := newFakeSource(clear)
	a := NewAuthenticator(src)

	id, err := a.Authenticate(context.Background(), clear)
	require.NoError(t, err)
	assert.Equal(t, "t-1", id.TenantID)
	assert.Equal(t, "acme", id.TenantName)
	assert.Equal(t, models.TierEnterprise, id.Tier)
	assert.Equal(t, "k-1", id.KeyID)
}

func TestAuthenticateCachesByHash(t *testing.T) {
	const clear = "hsk_cache_me"
	src := newFakeSource(clear)
	a := NewAuthenticator(src)

	for i := 0; i < 3; i++ {
		_, err := a.Authenticate(context.Background(), clear)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.lookupCount())

	a.Invalidate(clear)
	_, err := a.Authenticate(context.Background(), clear)
	require.NoError(t, err)
	assert.Equal(t, 2, src.lookupCount())
}

func TestAuthenticateCacheExpires(t *testing.T) {
	const clear = "hsk_expiring_cache"
	src := newFakeSource(clear)
	a := NewAuthenticator(src)

	now := time.Now()
	a.now = func() time.Time { return now }

	_, err := a.Authenticate(context.Background(), clear)
	require.NoError(t, err)

	now = now.Add(cacheTTL + time.Second)
	_, err = a.Authenticate(context.Background(), clear)
	require.NoError(t, err)
	assert.Equal(t, 2, src.lookupCount())
}

func TestAuthenticateFailures(t *testing.T) {
	const clear = "hsk_valid"
	src := newFakeSource(clear)
	a := NewAuthenticator(src)

	tests := []struct {
		name      string
		presented string
		mutate    func()
		wantErr   error
	}{
		{"empty credential", "", nil, ErrNoCredential},
		{"missing prefix", "sk_other_vendor", nil, ErrInvalidKey},
		{"unknown key", "hsk_never_issued", nil, ErrInvalidKey},
		{"expired key", clear, func() {
			past := time.Now().Add(-time.Hour)
			src.key.ExpiresAt = &past
		}, ErrKeyExpired},
		{"disabled tenant", clear, func() {
			src.key.ExpiresAt = nil
			src.ten.IsActive = false
		}, ErrTenantDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mutate != nil {
				tt.mutate()
			}
			_, err := a.Authenticate(context.Background(), tt.presented)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	id := &Identity{TenantID: "t-9", TenantName: "nine"}
	ctx := NewContext(context.Background(), id)

	got, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "t-9", IDFromContext(ctx))

	_, err = FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.Empty(t, IDFromContext(context.Background()))
}
