package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// TenantStore manages tenants and API keys. Tenant rows are not under
// row-level security (they are the anchor the policies reference); API key
// reads happen pre-authentication, writes are tenant-scoped.
type TenantStore struct {
	s *Store
}

var _ tenant.KeySource = (*TenantStore)(nil)

// LookupAPIKey resolves a key hash to the key and its tenant. Runs on the
// raw pool: authentication happens before any tenant identity exists, and
// the api_keys select policy permits it.
func (st *TenantStore) LookupAPIKey(ctx context.Context, keyHash string) (*models.APIKey, *models.Tenant, error) {
	var (
		key models.APIKey
		ten models.Tenant
	)
	err := st.s.rawPool().QueryRow(ctx, `
		SELECT k.id, k.tenant_id, k.key_hash, k.scopes, k.expires_at, k.last_used_at, k.created_at,
			t.id, t.name, t.is_active, t.subscription_tier, t.created_at
		FROM api_keys k
		JOIN tenants t ON t.id = k.tenant_id
		WHERE k.key_hash = $1`, keyHash).Scan(
		&key.ID, &key.TenantID, &key.KeyHash, &key.Scopes, &key.ExpiresAt, &key.LastUsedAt, &key.CreatedAt,
		&ten.ID, &ten.Name, &ten.IsActive, &ten.SubscriptionTier, &ten.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, tenant.ErrKeyNotFound
		}
		return nil, nil, fmt.Errorf("lookup api key: %w", err)
	}
	return &key, &ten, nil
}

// TouchAPIKey advances last_used_at. The key's tenant is resolved first so
// the write runs under that tenant's scope.
func (st *TenantStore) TouchAPIKey(ctx context.Context, keyID string) error {
	var tenantID string
	err := st.s.rawPool().QueryRow(ctx,
		"SELECT tenant_id FROM api_keys WHERE id = $1", keyID).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenant.ErrKeyNotFound
		}
		return fmt.Errorf("resolve key tenant: %w", err)
	}
	return st.s.withTenantID(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"UPDATE api_keys SET last_used_at = now() WHERE id = $1", keyID)
		if err != nil {
			return fmt.Errorf("touch api key: %w", err)
		}
		return nil
	})
}

// CreateTenant provisions a tenant. Out-of-band operation (CLI, operator
// tooling), not reachable from the request path.
func (st *TenantStore) CreateTenant(ctx context.Context, name, tier string) (*models.Tenant, error) {
	if name == "" {
		return nil, NewValidationError("name", "tenant name is required")
	}
	switch tier {
	case models.TierFree, models.TierStandard, models.TierEnterprise:
	case "":
		tier = models.TierStandard
	default:
		return nil, NewValidationError("subscription_tier", "unknown tier: "+tier)
	}
	ten := &models.Tenant{
		ID:               uuid.New().String(),
		Name:             name,
		IsActive:         true,
		SubscriptionTier: tier,
	}
	err := st.s.rawPool().QueryRow(ctx, `
		INSERT INTO tenants (id, name, is_active, subscription_tier)
		VALUES ($1, $2, TRUE, $3)
		RETURNING created_at`,
		ten.ID, ten.Name, ten.SubscriptionTier).Scan(&ten.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return ten, nil
}

// GetTenant returns one tenant by id.
func (st *TenantStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var ten models.Tenant
	err := st.s.rawPool().QueryRow(ctx, `
		SELECT id, name, is_active, subscription_tier, created_at
		FROM tenants WHERE id = $1`, tenantID).Scan(
		&ten.ID, &ten.Name, &ten.IsActive, &ten.SubscriptionTier, &ten.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &ten, nil
}

// ListTenants returns all tenants, oldest first. Operator tooling only.
func (st *TenantStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := st.s.rawPool().Query(ctx, `
		SELECT id, name, is_active, subscription_tier, created_at
		FROM tenants ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()
	var out []*models.Tenant
	for rows.Next() {
		var ten models.Tenant
		if err := rows.Scan(&ten.ID, &ten.Name, &ten.IsActive, &ten.SubscriptionTier, &ten.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, &ten)
	}
	return out, rows.Err()
}

// SetTenantActive enables or disables a tenant. Disabling takes effect on
// the next authentication (cached identities age out within the cache TTL).
func (st *TenantStore) SetTenantActive(ctx context.Context, tenantID string, active bool) error {
	tag, err := st.s.rawPool().Exec(ctx,
		"UPDATE tenants SET is_active = $2 WHERE id = $1", tenantID, active)
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAPIKey stores a new key for a tenant. keyHash is the hex SHA-256
// of the clear key; the clear key never reaches storage.
func (st *TenantStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.TenantID == "" {
		return NewValidationError("tenant_id", "tenant id is required")
	}
	if key.KeyHash == "" {
		return NewValidationError("key_hash", "key hash is required")
	}
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	return st.s.withTenantID(ctx, key.TenantID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO api_keys (id, tenant_id, key_hash, scopes, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at`,
			key.ID, key.TenantID, key.KeyHash, key.Scopes, key.ExpiresAt,
		).Scan(&key.CreatedAt)
		if err != nil {
			return fmt.Errorf("create api key: %w", err)
		}
		return nil
	})
}

// RevokeAPIKey deletes a key under its tenant's scope.
func (st *TenantStore) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	return st.s.withTenantID(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM api_keys WHERE id = $1", keyID)
		if err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
