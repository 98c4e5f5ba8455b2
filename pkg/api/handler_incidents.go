package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/storage"
)

// IncidentDetail is the full incident view returned by GET
// /api/v1/incidents/:id.
type IncidentDetail struct {
	Incident *models.Incident  `json:"incident"`
	Findings []*models.Finding `json:"findings"`
	Actions  []*models.Action  `json:"actions"`
	Entities []models.Entity   `json:"entities"`
}

// ActionResponseRequest is the body of POST /api/v1/incidents/:id/action:
// a human decision on an escalated incident.
type ActionResponseRequest struct {
	// ResponseType is one of approve, reject, or investigate.
	ResponseType  string `json:"response_type"`
	Justification string `json:"justification"`

	// Modifications optionally overrides individual action statuses before
	// the incident resumes: action id to "approve" or "reject".
	Modifications map[string]string `json:"modifications,omitempty"`
}

// listIncidentsHandler handles GET /api/v1/incidents.
func (s *Server) listIncidentsHandler(c *echo.Context) error {
	var f storage.ListFilter

	if v := c.QueryParam("state"); v != "" {
		state := models.State(v)
		if !models.ValidState(state) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid state: "+v)
		}
		f.State = state
	}
	if v := c.QueryParam("severity"); v != "" {
		sev := models.Severity(v)
		if !models.ValidSeverity(sev) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid severity: "+v)
		}
		f.Severity = sev
	}
	var err error
	if f.Limit, err = intParam(c, "limit", 0); err != nil {
		return err
	}
	if f.Offset, err = intParam(c, "offset", 0); err != nil {
		return err
	}

	incidents, err := s.store.Incidents.List(c.Request().Context(), f)
	if err != nil {
		return mapStoreError(err)
	}
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	return c.JSON(http.StatusOK, incidents)
}

// getIncidentHandler handles GET /api/v1/incidents/:id. A missing or
// cross-tenant id is a 404 either way.
func (s *Server) getIncidentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "incident id is required")
	}
	ctx := c.Request().Context()

	inc, err := s.store.Incidents.Get(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	findings, err := s.store.Findings.ListByIncident(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	actions, err := s.store.Actions.ListByIncident(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	entities, err := s.store.Entities.ListByIncident(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, &IncidentDetail{
		Incident: inc,
		Findings: findings,
		Actions:  actions,
		Entities: entities,
	})
}

// incidentActionHandler handles POST /api/v1/incidents/:id/action. Valid
// only for escalated incidents: approve closes as resolved, reject closes
// as dismissed, investigate re-enters analysis. Action modifications apply
// before the incident resumes. Any other state returns 409.
func (s *Server) incidentActionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "incident id is required")
	}
	var req ActionResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Justification == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "justification is required")
	}

	var reopen bool
	var outcome string
	switch req.ResponseType {
	case "approve":
		outcome = models.OutcomeResolved
	case "reject":
		outcome = models.OutcomeDismissed
	case "investigate":
		reopen = true
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid response_type: "+req.ResponseType)
	}

	ctx := c.Request().Context()
	for actionID, decision := range req.Modifications {
		var to models.ActionStatus
		switch decision {
		case "approve":
			to = models.ActionApproved
		case "reject":
			to = models.ActionRejected
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid modification: "+decision)
		}
		if err := s.store.Actions.UpdateStatus(ctx, actionID, to, storage.StatusUpdate{}); err != nil {
			return mapStoreError(err)
		}
	}

	if s.resumer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "coordinator not available")
	}
	if err := s.resumer.Resume(ctx, id, reopen, outcome); err != nil {
		return mapStoreError(err)
	}

	entry := &models.AuditLogEntry{
		Actor:        "api_key:" + identityFrom(c).KeyID,
		Action:       "incident_response",
		ResourceType: "incident",
		ResourceID:   id,
		Details: map[string]any{
			"response_type": req.ResponseType,
			"justification": req.Justification,
			"modifications": len(req.Modifications),
		},
	}
	if err := s.store.RecordAudit(ctx, entry); err != nil {
		s.logger.Warn("Audit record failed", "incident_id", id, "error", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"incident_id":   id,
		"response_type": req.ResponseType,
	})
}

// intParam parses a non-negative integer query parameter.
func intParam(c *echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}
