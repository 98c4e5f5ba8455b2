package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// FindingStore persists agent findings. Findings are append-only per
// incident; there is no update path.
type FindingStore struct {
	s *Store
}

// Add appends a finding to an incident and returns its id.
func (st *FindingStore) Add(ctx context.Context, f *models.Finding) (string, error) {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return "", ErrNoTenant
	}
	if f.IncidentID == "" {
		return "", NewValidationError("incident_id", "incident id is required")
	}
	if f.Agent == "" {
		return "", NewValidationError("agent", "agent name is required")
	}
	f.ID = uuid.New().String()
	f.TenantID = id.TenantID

	err = st.s.withTenant(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO findings (id, incident_id, tenant_id, agent, finding_type,
				confidence, severity, content, reasoning, tokens_consumed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			f.ID, f.IncidentID, f.TenantID, f.Agent, f.FindingType,
			f.Confidence, nullIfEmpty(string(f.Severity)), f.Content, f.Reasoning,
			f.TokensConsumed,
		)
		if err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

// ListByIncident returns an incident's findings in creation order.
func (st *FindingStore) ListByIncident(ctx context.Context, incidentID string) ([]*models.Finding, error) {
	var out []*models.Finding
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, incident_id, tenant_id, agent, finding_type, confidence,
				COALESCE(severity, ''), content, COALESCE(reasoning, ''),
				tokens_consumed, created_at
			FROM findings WHERE incident_id = $1
			ORDER BY created_at ASC`, incidentID)
		if err != nil {
			return fmt.Errorf("list findings: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var f models.Finding
			if err := rows.Scan(
				&f.ID, &f.IncidentID, &f.TenantID, &f.Agent, &f.FindingType,
				&f.Confidence, &f.Severity, &f.Content, &f.Reasoning,
				&f.TokensConsumed, &f.CreatedAt,
			); err != nil {
				return fmt.Errorf("scan finding: %w", err)
			}
			out = append(out, &f)
		}
		return rows.Err()
	})
	return out, err
}

// CountByType returns the number of findings of one type for an incident.
func (st *FindingStore) CountByType(ctx context.Context, incidentID, findingType string) (int, error) {
	var n int
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			"SELECT count(*) FROM findings WHERE incident_id = $1 AND finding_type = $2",
			incidentID, findingType).Scan(&n)
	})
	return n, err
}
