// Package correlator joins incidents that share entities inside a sliding
// time window, scores the group as a possible campaign, and persists links
// and campaign assignments.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/metrics"
	"github.com/hornet-soc/hornet/pkg/models"
)

// Store is the persistence surface the correlator needs.
type Store interface {
	FindIncidentsByEntity(ctx context.Context, entityType, entityValue string, minutesBack int, excludeID string) ([]*models.Incident, error)
	LinkIncidents(ctx context.Context, link *models.IncidentLink) (bool, error)
	CreateCampaign(ctx context.Context, incidentIDs []string) (string, error)
}

// Correlator scores shared-entity relationships between incidents.
type Correlator struct {
	cfg    *config.CorrelatorConfig
	store  Store
	logger *slog.Logger
}

// New creates a Correlator.
func New(cfg *config.CorrelatorConfig, store Store) *Correlator {
	return &Correlator{
		cfg:    cfg,
		store:  store,
		logger: slog.Default().With("component", "correlator"),
	}
}

// clamp01 bounds a factor to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the campaign score from the three weighted factors.
func Score(relatedCount, distinctEntityTypes, maxEntityOccurrences int) float64 {
	incidentFactor := clamp01(float64(relatedCount) / 5)
	diversityFactor := clamp01(float64(distinctEntityTypes) / 3)
	frequencyFactor := clamp01(float64(maxEntityOccurrences) / 3)
	return 0.4*incidentFactor + 0.3*diversityFactor + 0.3*frequencyFactor
}

// Correlate runs a correlation pass for incidentID over its entities,
// persisting links (and a campaign grouping when warranted). The context
// must carry the incident's tenant identity.
func (c *Correlator) Correlate(ctx context.Context, incidentID string, entities []models.Entity) (*models.CorrelationResult, error) {
	// Per related incident: which entities it shares, and per entity: how
	// many related incidents it appears in.
	shared := map[string][]models.Entity{}
	related := map[string]*models.Incident{}
	entityHits := map[string]int{}

	for _, e := range entities {
		incidents, err := c.store.FindIncidentsByEntity(ctx, e.Type, e.Value, c.cfg.WindowMinutes, incidentID)
		if err != nil {
			return nil, fmt.Errorf("find incidents sharing %s:%s: %w", e.Type, e.Value, err)
		}
		entityHits[e.Type+":"+e.Value] = len(incidents)
		for _, inc := range incidents {
			related[inc.ID] = inc
			shared[inc.ID] = append(shared[inc.ID], e)
		}
	}

	distinctTypes := map[string]bool{}
	maxOccurrences := 0
	for _, list := range shared {
		for _, e := range list {
			distinctTypes[e.Type] = true
		}
	}
	for _, n := range entityHits {
		if n > maxOccurrences {
			maxOccurrences = n
		}
	}

	result := &models.CorrelationResult{
		CampaignScore: Score(len(related), len(distinctTypes), maxOccurrences),
	}
	result.IsCampaign = result.CampaignScore >= c.cfg.CampaignScoreThreshold ||
		len(related) >= c.cfg.CampaignCreateCount

	// Stable iteration keeps link creation deterministic.
	ids := make([]string, 0, len(related))
	for id := range related {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		result.Related = append(result.Related, models.RelatedIncident{
			Incident:       related[id],
			SharedEntities: shared[id],
		})
	}

	if !result.IsCampaign {
		return result, nil
	}

	for _, id := range ids {
		created, err := c.store.LinkIncidents(ctx, &models.IncidentLink{
			IncidentA:      incidentID,
			IncidentB:      id,
			LinkType:       dominantLinkType(shared[id]),
			Confidence:     result.CampaignScore,
			SharedEntities: shared[id],
			LinkReason:     fmt.Sprintf("shares %d entities within %dm window", len(shared[id]), c.cfg.WindowMinutes),
		})
		if err != nil {
			return nil, fmt.Errorf("link incidents %s and %s: %w", incidentID, id, err)
		}
		if created {
			result.LinksCreated++
		}
	}

	if len(related) >= c.cfg.CampaignCreateCount && result.CampaignScore >= c.cfg.CampaignCreateScore {
		campaignID, err := c.store.CreateCampaign(ctx, append(ids, incidentID))
		if err != nil {
			return nil, fmt.Errorf("create campaign: %w", err)
		}
		result.CampaignID = campaignID
		metrics.CampaignsDetected.Inc()
		c.logger.Info("Campaign created",
			"campaign_id", campaignID, "incident_id", incidentID,
			"members", len(ids)+1, "score", result.CampaignScore)
	}

	return result, nil
}

// dominantLinkType derives the link type from the most frequent shared
// entity class.
func dominantLinkType(entities []models.Entity) string {
	counts := map[string]int{}
	for _, e := range entities {
		counts[e.Type]++
	}
	best, bestN := "shared_entity", 0
	// Ties resolve alphabetically for determinism.
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if counts[t] > bestN {
			best, bestN = "shared_"+t, counts[t]
		}
	}
	return best
}
