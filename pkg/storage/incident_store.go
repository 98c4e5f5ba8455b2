package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// IncidentStore persists incidents.
type IncidentStore struct {
	s *Store
}

const incidentColumns = `id, tenant_id, state, severity, confidence, summary,
	created_at, updated_at, closed_at, outcome, tokens_used, token_budget,
	escalation_reason, campaign_id, event_data`

// Create inserts a new incident in DETECTION state, indexing its entities.
// Idempotent on id: returns (false, nil) when the incident already exists,
// so at-least-once event delivery cannot produce duplicates.
func (st *IncidentStore) Create(ctx context.Context, inc *models.Incident, entities []models.Entity) (bool, error) {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return false, ErrNoTenant
	}
	inc.TenantID = id.TenantID

	var created bool
	err = st.s.withTenant(ctx, func(tx pgx.Tx) error {
		budget := inc.TokenBudget
		if budget <= 0 {
			budget = models.DefaultTokenBudget
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO incidents (id, tenant_id, state, severity, confidence, token_budget, event_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			inc.ID, inc.TenantID, models.StateDetection, nullIfEmpty(string(inc.Severity)),
			inc.Confidence, budget, inc.EventData,
		)
		if err != nil {
			return fmt.Errorf("insert incident: %w", err)
		}
		created = tag.RowsAffected() > 0
		if !created {
			return nil
		}
		for _, e := range entities {
			if _, err := tx.Exec(ctx, `
				INSERT INTO incident_entities (incident_id, tenant_id, entity_type, entity_value)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING`,
				inc.ID, inc.TenantID, e.Type, e.Value,
			); err != nil {
				return fmt.Errorf("index incident entity: %w", err)
			}
		}
		return nil
	})
	return created, err
}

// IncidentUpdate is a partial incident mutation. Nil fields are untouched.
type IncidentUpdate struct {
	State            *models.State
	Severity         *models.Severity
	Confidence       *float64
	Summary          *string
	TokensUsed       *int
	Outcome          *string
	EscalationReason *string
	CampaignID       *string
	Closed           bool // sets closed_at = now() exactly once
}

// Update applies a partial mutation to an incident.
func (st *IncidentStore) Update(ctx context.Context, incidentID string, u IncidentUpdate) error {
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		set := "updated_at = now()"
		args := []any{incidentID}
		add := func(col string, v any) {
			args = append(args, v)
			set += fmt.Sprintf(", %s = $%d", col, len(args))
		}
		if u.State != nil {
			add("state", string(*u.State))
		}
		if u.Severity != nil {
			add("severity", string(*u.Severity))
		}
		if u.Confidence != nil {
			add("confidence", *u.Confidence)
		}
		if u.Summary != nil {
			add("summary", *u.Summary)
		}
		if u.TokensUsed != nil {
			add("tokens_used", *u.TokensUsed)
		}
		if u.Outcome != nil {
			add("outcome", *u.Outcome)
		}
		if u.EscalationReason != nil {
			add("escalation_reason", *u.EscalationReason)
		}
		if u.CampaignID != nil {
			add("campaign_id", *u.CampaignID)
		}
		if u.Closed {
			set += ", closed_at = COALESCE(closed_at, now())"
		}

		tag, err := tx.Exec(ctx, "UPDATE incidents SET "+set+" WHERE id = $1", args...)
		if err != nil {
			return fmt.Errorf("update incident: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Get returns one incident, or ErrNotFound (including cross-tenant misses).
func (st *IncidentStore) Get(ctx context.Context, incidentID string) (*models.Incident, error) {
	var inc *models.Incident
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, "SELECT "+incidentColumns+" FROM incidents WHERE id = $1", incidentID)
		var err error
		inc, err = scanIncident(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inc, nil
}

// ListFilter narrows a List call.
type ListFilter struct {
	State    models.State
	Severity models.Severity
	Limit    int
	Offset   int
}

// List returns incidents for the calling tenant, newest first.
func (st *IncidentStore) List(ctx context.Context, f ListFilter) ([]*models.Incident, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	var out []*models.Incident
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		q := "SELECT " + incidentColumns + " FROM incidents WHERE 1=1"
		args := []any{}
		if f.State != "" {
			args = append(args, string(f.State))
			q += fmt.Sprintf(" AND state = $%d", len(args))
		}
		if f.Severity != "" {
			args = append(args, string(f.Severity))
			q += fmt.Sprintf(" AND severity = $%d", len(args))
		}
		args = append(args, f.Limit)
		q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))

		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("list incidents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			inc, err := scanIncident(rows)
			if err != nil {
				return err
			}
			out = append(out, inc)
		}
		return rows.Err()
	})
	return out, err
}

// AddTokens atomically adds n to tokens_used and returns the new total.
func (st *IncidentStore) AddTokens(ctx context.Context, incidentID string, n int) (int, error) {
	var total int
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			"UPDATE incidents SET tokens_used = tokens_used + $2, updated_at = now() WHERE id = $1 RETURNING tokens_used",
			incidentID, n)
		if err := row.Scan(&total); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("add tokens: %w", err)
		}
		return nil
	})
	return total, err
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc              models.Incident
		severity         *string
		summary          *string
		closedAt         *time.Time
		outcome          *string
		escalationReason *string
		campaignID       *string
	)
	err := row.Scan(
		&inc.ID, &inc.TenantID, &inc.State, &severity, &inc.Confidence, &summary,
		&inc.CreatedAt, &inc.UpdatedAt, &closedAt, &outcome, &inc.TokensUsed,
		&inc.TokenBudget, &escalationReason, &campaignID, &inc.EventData,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	if severity != nil {
		inc.Severity = models.Severity(*severity)
	}
	if summary != nil {
		inc.Summary = *summary
	}
	inc.ClosedAt = closedAt
	if outcome != nil {
		inc.Outcome = *outcome
	}
	if escalationReason != nil {
		inc.EscalationReason = *escalationReason
	}
	if campaignID != nil {
		inc.CampaignID = *campaignID
	}
	return &inc, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
