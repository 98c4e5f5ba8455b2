package models

import "time"

// Tenant is the unit of isolation. Created out-of-band; every persisted
// row in every other table carries a tenant id.
type Tenant struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	IsActive         bool      `json:"is_active"`
	SubscriptionTier string    `json:"subscription_tier"`
	CreatedAt        time.Time `json:"created_at"`
}

// Subscription tiers, used to parameterize rate limits.
const (
	TierFree       = "free"
	TierStandard   = "standard"
	TierEnterprise = "enterprise"
)

// APIKey is a hashed tenant credential. The clear key is never persisted.
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	KeyHash    string     `json:"-"`
	Scopes     []string   `json:"scopes,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// AuditLogEntry is an insert-only audit record. Signature is an HMAC over
// the serialized entry using a process secret; storage policy rejects
// updates and deletes.
type AuditLogEntry struct {
	ID           int64          `json:"id,omitempty"`
	TenantID     string         `json:"tenant_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Signature    string         `json:"signature,omitempty"`
}
