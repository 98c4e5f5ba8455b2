package storage

import (
	"context"

	"github.com/hornet-soc/hornet/pkg/models"
)

// Convenience delegations for callers that hold a *Store and need one
// operation without reaching into the substores. These also let the engine
// packages depend on narrow interfaces satisfied by *Store.

// CreateIncident delegates to Incidents.Create.
func (s *Store) CreateIncident(ctx context.Context, inc *models.Incident, entities []models.Entity) (bool, error) {
	return s.Incidents.Create(ctx, inc, entities)
}

// AddFinding delegates to Findings.Add.
func (s *Store) AddFinding(ctx context.Context, f *models.Finding) (string, error) {
	return s.Findings.Add(ctx, f)
}

// AddIncidentTokens delegates to Incidents.AddTokens.
func (s *Store) AddIncidentTokens(ctx context.Context, incidentID string, n int) (int, error) {
	return s.Incidents.AddTokens(ctx, incidentID, n)
}

// RecordAudit delegates to Audit.Record.
func (s *Store) RecordAudit(ctx context.Context, e *models.AuditLogEntry) error {
	return s.Audit.Record(ctx, e)
}

// GetIncident delegates to Incidents.Get.
func (s *Store) GetIncident(ctx context.Context, incidentID string) (*models.Incident, error) {
	return s.Incidents.Get(ctx, incidentID)
}

// UpdateIncident delegates to Incidents.Update.
func (s *Store) UpdateIncident(ctx context.Context, incidentID string, u IncidentUpdate) error {
	return s.Incidents.Update(ctx, incidentID, u)
}

// ListFindings delegates to Findings.ListByIncident.
func (s *Store) ListFindings(ctx context.Context, incidentID string) ([]*models.Finding, error) {
	return s.Findings.ListByIncident(ctx, incidentID)
}

// CreateActions delegates to Actions.Create.
func (s *Store) CreateActions(ctx context.Context, incidentID string, actions []*models.Action) error {
	return s.Actions.Create(ctx, incidentID, actions)
}

// UpdateActionStatus delegates to Actions.UpdateStatus.
func (s *Store) UpdateActionStatus(ctx context.Context, actionID string, to models.ActionStatus, u StatusUpdate) error {
	return s.Actions.UpdateStatus(ctx, actionID, to, u)
}

// CompletedActionsInReverse delegates to Actions.CompletedInReverse.
func (s *Store) CompletedActionsInReverse(ctx context.Context, incidentID string) ([]*models.Action, error) {
	return s.Actions.CompletedInReverse(ctx, incidentID)
}

// ListEntities delegates to Entities.ListByIncident.
func (s *Store) ListEntities(ctx context.Context, incidentID string) ([]models.Entity, error) {
	return s.Entities.ListByIncident(ctx, incidentID)
}

// FindIncidentsByEntity delegates to Entities.FindIncidentsByEntity.
func (s *Store) FindIncidentsByEntity(ctx context.Context, entityType, entityValue string, minutesBack int, excludeID string) ([]*models.Incident, error) {
	return s.Entities.FindIncidentsByEntity(ctx, entityType, entityValue, minutesBack, excludeID)
}

// LinkIncidents delegates to Links.Link.
func (s *Store) LinkIncidents(ctx context.Context, link *models.IncidentLink) (bool, error) {
	return s.Links.Link(ctx, link)
}

// CreateCampaign delegates to Links.CreateCampaign.
func (s *Store) CreateCampaign(ctx context.Context, incidentIDs []string) (string, error) {
	return s.Links.CreateCampaign(ctx, incidentIDs)
}
