// Package storage provides typed, tenant-scoped access to the persistent
// schema. Every read and write runs inside a transaction that attaches the
// caller's tenant identity as a session setting; the database's row-level
// policies do the actual filtering.
package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hornet-soc/hornet/pkg/tenant"
)

// Store aggregates the per-entity stores over one connection pool.
type Store struct {
	pool *pgxpool.Pool

	Incidents *IncidentStore
	Findings  *FindingStore
	Entities  *EntityStore
	Links     *LinkStore
	Actions   *ActionStore
	Retry     *RetryStore
	Audit     *AuditStore
	Tenants   *TenantStore
	Edge      *EdgeStore
}

// New creates a Store over the pool. auditSecret signs audit log entries.
func New(pool *pgxpool.Pool, auditSecret string) *Store {
	s := &Store{pool: pool}
	s.Incidents = &IncidentStore{s: s}
	s.Findings = &FindingStore{s: s}
	s.Entities = &EntityStore{s: s}
	s.Links = &LinkStore{s: s}
	s.Actions = &ActionStore{s: s}
	s.Retry = &RetryStore{s: s}
	s.Audit = &AuditStore{s: s, secret: []byte(auditSecret)}
	s.Tenants = &TenantStore{s: s}
	s.Edge = &EdgeStore{s: s}
	return s
}

// withTenant runs fn inside a transaction with the caller's tenant identity
// attached via SET LOCAL. The setting cannot leak: it dies with the
// transaction, and the identity is read from the context per operation,
// never from a process global.
//
// The tenant id is interpolated into the SET statement (session settings do
// not accept bind parameters), so it is first validated as a UUID and
// re-serialized from the parsed value.
func (s *Store) withTenant(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tenantID := tenant.IDFromContext(ctx)
	if tenantID == "" {
		return ErrNoTenant
	}
	return s.withTenantID(ctx, tenantID, fn)
}

func (s *Store) withTenantID(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
	parsed, err := uuid.Parse(tenantID)
	if err != nil {
		return NewValidationError("tenant_id", "not a valid UUID")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET LOCAL scopes the setting to this transaction only.
	if _, err := tx.Exec(ctx, "SET LOCAL hornet.tenant_id = '"+parsed.String()+"'"); err != nil {
		return fmt.Errorf("set tenant session variable: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// withSystem runs fn with the system scope '*', which the row-level
// policies on maintenance tables (retry_jobs, edge_agents, edge_actions)
// accept. Reserved for background processors that legitimately span
// tenants; request-path code never reaches it.
func (s *Store) withSystem(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SET LOCAL hornet.tenant_id = '*'"); err != nil {
		return fmt.Errorf("set system scope: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pool exposes the raw pool for pre-authentication lookups (api_keys are
// readable before a tenant identity exists).
func (s *Store) rawPool() *pgxpool.Pool { return s.pool }
