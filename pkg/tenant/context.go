// Package tenant resolves API credentials to tenant identities and carries
// the identity through request-scoped contexts.
package tenant

import (
	"context"
	"errors"
)

// Identity is the resolved tenant identity attached to every authenticated
// operation.
type Identity struct {
	TenantID   string
	TenantName string
	Tier       string
	KeyID      string
	Scopes     []string
}

// HasScope reports whether the identity carries the named scope. An empty
// scope list grants everything (legacy keys).
func (id *Identity) HasScope(scope string) bool {
	if len(id.Scopes) == 0 {
		return true
	}
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey struct{}

// ErrNoIdentity indicates the context carries no tenant identity.
var ErrNoIdentity = errors.New("no tenant identity in context")

// NewContext returns a child context carrying the identity. The identity is
// a per-request value; it is never stored in a process global.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the tenant identity from the context.
func FromContext(ctx context.Context) (*Identity, error) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	if !ok || id == nil {
		return nil, ErrNoIdentity
	}
	return id, nil
}

// IDFromContext returns just the tenant id, or "" when absent.
func IDFromContext(ctx context.Context) string {
	if id, err := FromContext(ctx); err == nil {
		return id.TenantID
	}
	return ""
}
