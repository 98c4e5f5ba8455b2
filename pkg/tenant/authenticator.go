package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hornet-soc/hornet/pkg/models"
)

// KeyPrefix is the vendor prefix every HORNET API key starts with.
const KeyPrefix = "hsk_"

// cacheTTL bounds how long a resolved identity may be served without a
// fresh database lookup.
const cacheTTL = 5 * time.Minute

// Authentication failure sentinels. All map to 401 at the API layer.
var (
	ErrNoCredential   = errors.New("no credential presented")
	ErrInvalidKey     = errors.New("invalid API key")
	ErrKeyExpired     = errors.New("API key expired")
	ErrTenantDisabled = errors.New("tenant is disabled")
)

// KeySource looks up API keys in storage. Implemented by storage.TenantStore.
type KeySource interface {
	// LookupAPIKey returns the key and its tenant for a key hash, or
	// ErrInvalidKey-compatible failure when no such key exists.
	LookupAPIKey(ctx context.Context, keyHash string) (*models.APIKey, *models.Tenant, error)

	// TouchAPIKey advances last_used_at. Best-effort.
	TouchAPIKey(ctx context.Context, keyID string) error
}

// ErrKeyNotFound is returned by KeySource implementations when no key
// matches the hash.
var ErrKeyNotFound = errors.New("api key not found")

type cacheEntry struct {
	identity *Identity
	expires  time.Time
}

// Authenticator validates presented API keys against storage, with a
// bounded-TTL cache keyed by key hash.
type Authenticator struct {
	source KeySource

	mu    sync.RWMutex
	cache map[string]cacheEntry

	now func() time.Time
}

// NewAuthenticator creates an Authenticator backed by the given key source.
func NewAuthenticator(source KeySource) *Authenticator {
	return &Authenticator{
		source: source,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// HashKey returns the hex SHA-256 of a clear API key. The clear key is
// never persisted.
func HashKey(clear string) string {
	sum := sha256.Sum256([]byte(clear))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves a presented credential to a tenant identity.
// Fail-fast on absent or malformed credentials; a cache hit skips the
// database round-trip.
func (a *Authenticator) Authenticate(ctx context.Context, presented string) (*Identity, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, ErrNoCredential
	}
	if !strings.HasPrefix(presented, KeyPrefix) {
		return nil, ErrInvalidKey
	}

	hash := HashKey(presented)

	if id := a.cached(hash); id != nil {
		a.touchAsync(id.KeyID)
		return id, nil
	}

	key, ten, err := a.source.LookupAPIKey(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidKey
		}
		// Infrastructure failure: transient, caller may retry.
		return nil, fmt.Errorf("api key lookup: %w", err)
	}
	if key.Expired(a.now()) {
		return nil, ErrKeyExpired
	}
	if !ten.IsActive {
		return nil, ErrTenantDisabled
	}

	id := &Identity{
		TenantID:   ten.ID,
		TenantName: ten.Name,
		Tier:       ten.SubscriptionTier,
		KeyID:      key.ID,
		Scopes:     key.Scopes,
	}

	a.mu.Lock()
	a.cache[hash] = cacheEntry{identity: id, expires: a.now().Add(cacheTTL)}
	a.mu.Unlock()

	a.touchAsync(key.ID)
	return id, nil
}

// Invalidate drops a cached identity (e.g. after key revocation).
func (a *Authenticator) Invalidate(presented string) {
	a.mu.Lock()
	delete(a.cache, HashKey(presented))
	a.mu.Unlock()
}

func (a *Authenticator) cached(hash string) *Identity {
	a.mu.RLock()
	entry, ok := a.cache[hash]
	a.mu.RUnlock()
	if !ok || a.now().After(entry.expires) {
		return nil
	}
	return entry.identity
}

// touchAsync advances last_used_at without blocking the request path.
func (a *Authenticator) touchAsync(keyID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.source.TouchAPIKey(ctx, keyID); err != nil {
			slog.Debug("Failed to update api key last_used_at", "key_id", keyID, "error", err)
		}
	}()
}
