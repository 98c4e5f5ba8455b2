package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
)

// EntityStore queries the incident entity index.
type EntityStore struct {
	s *Store
}

// FindIncidentsByEntity returns incidents (newest first) sharing one entity
// within the lookback window, excluding excludeID if non-empty.
func (st *EntityStore) FindIncidentsByEntity(ctx context.Context, entityType, entityValue string, minutesBack int, excludeID string) ([]*models.Incident, error) {
	if minutesBack <= 0 {
		minutesBack = 60
	}
	var out []*models.Incident
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+incidentColumns+`
			FROM incidents
			WHERE id IN (
				SELECT incident_id FROM incident_entities
				WHERE entity_type = $1 AND entity_value = $2
				  AND created_at > now() - make_interval(mins => $3)
			)
			AND ($4 = '' OR id::text <> $4)
			ORDER BY created_at DESC`,
			entityType, entityValue, minutesBack, excludeID)
		if err != nil {
			return fmt.Errorf("find incidents by entity: %w", err)
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

// ListByIncident returns the indexed entities of an incident.
func (st *EntityStore) ListByIncident(ctx context.Context, incidentID string) ([]models.Entity, error) {
	var out []models.Entity
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT entity_type, entity_value FROM incident_entities WHERE incident_id = $1",
			incidentID)
		if err != nil {
			return fmt.Errorf("list incident entities: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e models.Entity
			if err := rows.Scan(&e.Type, &e.Value); err != nil {
				return fmt.Errorf("scan entity: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// EntityTimelineEntry is one incident touching an entity, in time order.
type EntityTimelineEntry struct {
	models.IncidentSummary
	FirstSeen time.Time `json:"first_seen"`
}

// Timeline returns the incidents that touched an entity within hoursBack,
// oldest first.
func (st *EntityStore) Timeline(ctx context.Context, entityType, entityValue string, hoursBack int) ([]EntityTimelineEntry, error) {
	if hoursBack <= 0 || hoursBack > 24*30 {
		hoursBack = 24
	}
	var out []EntityTimelineEntry
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT i.id, i.state, COALESCE(i.severity, ''), i.confidence,
				COALESCE(i.summary, ''), i.created_at, e.created_at
			FROM incident_entities e
			JOIN incidents i ON i.id = e.incident_id
			WHERE e.entity_type = $1 AND e.entity_value = $2
			  AND e.created_at > now() - make_interval(hours => $3)
			ORDER BY e.created_at ASC`,
			entityType, entityValue, hoursBack)
		if err != nil {
			return fmt.Errorf("entity timeline: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var entry EntityTimelineEntry
			if err := rows.Scan(
				&entry.ID, &entry.State, &entry.Severity, &entry.Confidence,
				&entry.Summary, &entry.CreatedAt, &entry.FirstSeen,
			); err != nil {
				return fmt.Errorf("scan timeline entry: %w", err)
			}
			out = append(out, entry)
		}
		return rows.Err()
	})
	return out, err
}
