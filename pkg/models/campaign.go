package models

import "time"

// IncidentLink joins two incidents that share entities. Undirected:
// IncidentA < IncidentB lexicographically (canonical ordering), so each
// pair is stored exactly once.
type IncidentLink struct {
	IncidentA      string    `json:"incident_a"`
	IncidentB      string    `json:"incident_b"`
	TenantID       string    `json:"tenant_id"`
	LinkType       string    `json:"link_type"`
	Confidence     float64   `json:"confidence"`
	SharedEntities []Entity  `json:"shared_entities,omitempty"`
	LinkReason     string    `json:"link_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CanonicalPair orders two incident ids lexicographically for link storage.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// RelatedIncident is one incident related to another through shared entities.
type RelatedIncident struct {
	Incident       *Incident `json:"incident"`
	SharedEntities []Entity  `json:"shared_entities"`
}

// CorrelationResult is the outcome of a campaign correlation pass.
type CorrelationResult struct {
	Related       []RelatedIncident `json:"related"`
	CampaignScore float64           `json:"campaign_score"`
	IsCampaign    bool              `json:"is_campaign"`
	CampaignID    string            `json:"campaign_id,omitempty"`
	LinksCreated  int               `json:"links_created"`
}

// IncidentSummary is a compact incident view for timeline responses.
type IncidentSummary struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Severity   Severity  `json:"severity,omitempty"`
	Confidence float64   `json:"confidence"`
	Summary    string    `json:"summary,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
