package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// AuditStore writes and reads the insert-only audit log. Each entry carries
// an HMAC-SHA256 signature over its canonical serialization; the table's
// policies permit only SELECT and INSERT, so recorded entries cannot be
// altered through the application role.
type AuditStore struct {
	s      *Store
	secret []byte
}

// auditPayload is the signed subset of an entry, serialized with a fixed
// field order. The row id is excluded (unknown at signing time).
type auditPayload struct {
	TenantID     string         `json:"tenant_id"`
	Timestamp    string         `json:"timestamp"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details"`
	IPAddress    string         `json:"ip_address"`
}

func (st *AuditStore) sign(e *models.AuditLogEntry) (string, error) {
	payload, err := json.Marshal(auditPayload{
		TenantID:     e.TenantID,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:        e.Actor,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Details:      e.Details,
		IPAddress:    e.IPAddress,
	})
	if err != nil {
		return "", fmt.Errorf("marshal audit payload: %w", err)
	}
	mac := hmac.New(sha256.New, st.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Record inserts one audit entry for the calling tenant. The timestamp is
// assigned here so the signature covers the stored value.
func (st *AuditStore) Record(ctx context.Context, e *models.AuditLogEntry) error {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return ErrNoTenant
	}
	if e.Action == "" || e.ResourceType == "" {
		return NewValidationError("action", "action and resource_type are required")
	}
	e.TenantID = id.TenantID
	e.Timestamp = time.Now().UTC()

	sig, err := st.sign(e)
	if err != nil {
		return err
	}
	e.Signature = sig

	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO audit_log (tenant_id, ts, actor, action, resource_type,
				resource_id, details, ip_address, signature)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			e.TenantID, e.Timestamp, e.Actor, e.Action, e.ResourceType,
			nullIfEmpty(e.ResourceID), e.Details, nullIfEmpty(e.IPAddress), e.Signature,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
}

// AuditFilter narrows a List call. Zero values mean no constraint.
type AuditFilter struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Since        time.Time
	Limit        int
}

// List returns audit entries for the calling tenant, newest first.
func (st *AuditStore) List(ctx context.Context, f AuditFilter) ([]*models.AuditLogEntry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	query := `
		SELECT id, tenant_id, ts, actor, action, resource_type,
			COALESCE(resource_id, ''), details, COALESCE(ip_address, ''), signature
		FROM audit_log WHERE TRUE`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if f.Actor != "" {
		add("actor =", f.Actor)
	}
	if f.Action != "" {
		add("action =", f.Action)
	}
	if f.ResourceType != "" {
		add("resource_type =", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id =", f.ResourceID)
	}
	if !f.Since.IsZero() {
		add("ts >=", f.Since)
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args))

	var out []*models.AuditLogEntry
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list audit entries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e models.AuditLogEntry
			if err := rows.Scan(&e.ID, &e.TenantID, &e.Timestamp, &e.Actor, &e.Action,
				&e.ResourceType, &e.ResourceID, &e.Details, &e.IPAddress, &e.Signature); err != nil {
				return fmt.Errorf("scan audit entry: %w", err)
			}
			out = append(out, &e)
		}
		return rows.Err()
	})
	return out, err
}

// Verify recomputes an entry's signature and compares in constant time.
// Used by the integrity check endpoint and operator tooling.
func (st *AuditStore) Verify(e *models.AuditLogEntry) (bool, error) {
	expected, err := st.sign(e)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(e.Signature)), nil
}
