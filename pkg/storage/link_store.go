package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// maxCampaignDepth bounds recursive traversal of the link graph. The graph
// can form cycles across time; the traversal also tracks visited nodes.
const maxCampaignDepth = 10

// LinkStore persists the undirected incident link graph and campaign
// groupings.
type LinkStore struct {
	s *Store
}

// Link inserts an undirected link between two incidents. The pair is
// stored once under canonical (lexicographic) ordering; re-inserting the
// same pair (in either direction) is a no-op returning false.
func (st *LinkStore) Link(ctx context.Context, link *models.IncidentLink) (bool, error) {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return false, ErrNoTenant
	}
	if link.IncidentA == link.IncidentB {
		return false, NewValidationError("incident_b", "cannot link an incident to itself")
	}
	a, b := models.CanonicalPair(link.IncidentA, link.IncidentB)

	var created bool
	err = st.s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO incident_links (incident_a, incident_b, tenant_id, link_type,
				confidence, shared_entities, link_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (incident_a, incident_b) DO NOTHING`,
			a, b, id.TenantID, link.LinkType, link.Confidence,
			link.SharedEntities, link.LinkReason,
		)
		if err != nil {
			return fmt.Errorf("insert incident link: %w", err)
		}
		created = tag.RowsAffected() > 0
		return nil
	})
	return created, err
}

// CreateCampaign assigns a fresh campaign id to every listed incident and
// writes pairwise links between all members. Returns the campaign id.
func (st *LinkStore) CreateCampaign(ctx context.Context, incidentIDs []string) (string, error) {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return "", ErrNoTenant
	}
	if len(incidentIDs) < 2 {
		return "", NewValidationError("incident_ids", "a campaign needs at least two incidents")
	}
	campaignID := uuid.New().String()

	err = st.s.withTenant(ctx, func(tx pgx.Tx) error {
		for _, incID := range incidentIDs {
			if _, err := tx.Exec(ctx,
				"UPDATE incidents SET campaign_id = $2, updated_at = now() WHERE id = $1",
				incID, campaignID,
			); err != nil {
				return fmt.Errorf("assign campaign id: %w", err)
			}
		}
		for i := 0; i < len(incidentIDs); i++ {
			for j := i + 1; j < len(incidentIDs); j++ {
				a, b := models.CanonicalPair(incidentIDs[i], incidentIDs[j])
				if _, err := tx.Exec(ctx, `
					INSERT INTO incident_links (incident_a, incident_b, tenant_id,
						link_type, confidence, link_reason)
					VALUES ($1, $2, $3, 'campaign_member', 1.0, 'campaign grouping')
					ON CONFLICT (incident_a, incident_b) DO NOTHING`,
					a, b, id.TenantID,
				); err != nil {
					return fmt.Errorf("insert campaign link: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return campaignID, nil
}

// CampaignIncidents returns all incidents reachable from incidentID through
// the link graph, traversal bounded to maxCampaignDepth hops.
func (st *LinkStore) CampaignIncidents(ctx context.Context, incidentID string) ([]*models.Incident, error) {
	var out []*models.Incident
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			WITH RECURSIVE reachable (id, depth) AS (
				SELECT $1::uuid, 0
				UNION
				SELECT CASE WHEN l.incident_a = r.id THEN l.incident_b ELSE l.incident_a END,
					r.depth + 1
				FROM incident_links l
				JOIN reachable r ON r.id IN (l.incident_a, l.incident_b)
				WHERE r.depth < $2
			)
			SELECT `+incidentColumns+`
			FROM incidents
			WHERE id IN (SELECT DISTINCT id FROM reachable)
			ORDER BY created_at ASC`,
			incidentID, maxCampaignDepth)
		if err != nil {
			return fmt.Errorf("campaign incidents: %w", err)
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

// GraphNode is an incident vertex in the campaign graph response.
type GraphNode struct {
	ID         string          `json:"id"`
	State      models.State    `json:"state"`
	Severity   models.Severity `json:"severity,omitempty"`
	Confidence float64         `json:"confidence"`
	CampaignID string          `json:"campaign_id,omitempty"`
}

// GraphEdge is a link edge in the campaign graph response.
type GraphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	LinkType   string  `json:"link_type"`
	Confidence float64 `json:"confidence"`
}

// Graph returns the node-and-edge view of recent incidents and their links.
func (st *LinkStore) Graph(ctx context.Context, hoursBack int) ([]GraphNode, []GraphEdge, error) {
	if hoursBack <= 0 || hoursBack > 168 {
		hoursBack = 24
	}
	var nodes []GraphNode
	var edges []GraphEdge
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, state, COALESCE(severity, ''), confidence, COALESCE(campaign_id::text, '')
			FROM incidents
			WHERE created_at > now() - make_interval(hours => $1)`, hoursBack)
		if err != nil {
			return fmt.Errorf("graph nodes: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var n GraphNode
			if err := rows.Scan(&n.ID, &n.State, &n.Severity, &n.Confidence, &n.CampaignID); err != nil {
				return fmt.Errorf("scan graph node: %w", err)
			}
			nodes = append(nodes, n)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		rows, err = tx.Query(ctx, `
			SELECT incident_a, incident_b, link_type, confidence
			FROM incident_links
			WHERE created_at > now() - make_interval(hours => $1)`, hoursBack)
		if err != nil {
			return fmt.Errorf("graph edges: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e GraphEdge
			if err := rows.Scan(&e.Source, &e.Target, &e.LinkType, &e.Confidence); err != nil {
				return fmt.Errorf("scan graph edge: %w", err)
			}
			edges = append(edges, e)
		}
		return rows.Err()
	})
	return nodes, edges, err
}

// Stats aggregates link and entity counts for the calling tenant.
type Stats struct {
	TotalLinks     int            `json:"total_links"`
	TotalCampaigns int            `json:"total_campaigns"`
	LinksByType    map[string]int `json:"links_by_type"`
	EntitiesByType map[string]int `json:"entities_by_type"`
}

// Stats returns link and entity aggregates.
func (st *LinkStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		LinksByType:    map[string]int{},
		EntitiesByType: map[string]int{},
	}
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, "SELECT count(*) FROM incident_links").Scan(&stats.TotalLinks); err != nil {
			return fmt.Errorf("count links: %w", err)
		}
		if err := tx.QueryRow(ctx,
			"SELECT count(DISTINCT campaign_id) FROM incidents WHERE campaign_id IS NOT NULL",
		).Scan(&stats.TotalCampaigns); err != nil {
			return fmt.Errorf("count campaigns: %w", err)
		}

		rows, err := tx.Query(ctx, "SELECT link_type, count(*) FROM incident_links GROUP BY link_type")
		if err != nil {
			return fmt.Errorf("links by type: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t string
			var n int
			if err := rows.Scan(&t, &n); err != nil {
				return err
			}
			stats.LinksByType[t] = n
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		rows, err = tx.Query(ctx, "SELECT entity_type, count(*) FROM incident_entities GROUP BY entity_type")
		if err != nil {
			return fmt.Errorf("entities by type: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var t string
			var n int
			if err := rows.Scan(&t, &n); err != nil {
				return err
			}
			stats.EntitiesByType[t] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
