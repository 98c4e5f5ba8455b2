package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/dispatch"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// maxBatchSize caps a single batch ingest call.
const maxBatchSize = 100

// IngestResponse is returned by POST /api/v1/events.
type IngestResponse struct {
	ID string `json:"id"`

	// IncidentID is the id the incident will carry if detection promotes
	// this event. Derivation is deterministic, so clients can poll it.
	IncidentID string `json:"incident_id,omitempty"`
}

// BatchIngestResponse is returned by POST /api/v1/events/batch.
type BatchIngestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	IDs      []string `json:"ids"`
}

// ingestEventHandler handles POST /api/v1/events.
func (s *Server) ingestEventHandler(c *echo.Context) error {
	var ev models.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.normalizeEvent(c, &ev); err != nil {
		return err
	}

	if err := s.publishEvent(c, &ev); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, &IngestResponse{
		ID:         ev.ID,
		IncidentID: dispatch.IncidentID(ev.ID),
	})
}

// ingestBatchHandler handles POST /api/v1/events/batch. The whole batch is
// validated before anything is published, so a bad entry rejects the call
// instead of half-ingesting.
func (s *Server) ingestBatchHandler(c *echo.Context) error {
	var events []models.Event
	if err := c.Bind(&events); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(events) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "batch is empty")
	}
	if len(events) > maxBatchSize {
		return echo.NewHTTPError(http.StatusBadRequest, "batch exceeds 100 events")
	}
	for i := range events {
		if err := s.normalizeEvent(c, &events[i]); err != nil {
			return err
		}
	}

	resp := &BatchIngestResponse{IDs: make([]string, 0, len(events))}
	for i := range events {
		if err := s.publishEvent(c, &events[i]); err != nil {
			resp.Rejected++
			continue
		}
		resp.Accepted++
		resp.IDs = append(resp.IDs, events[i].ID)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// normalizeEvent validates and fills defaults. The tenant id always comes
// from the authenticated identity, never from the request body.
func (s *Server) normalizeEvent(c *echo.Context, ev *models.Event) error {
	if ev.EventType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event_type is required")
	}
	if ev.Severity != "" && !models.ValidSeverity(ev.Severity) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid severity")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = "api"
	}
	ev.TenantID = tenant.IDFromContext(c.Request().Context())
	return nil
}

func (s *Server) publishEvent(c *echo.Context, ev *models.Event) error {
	values, err := bus.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if _, err := s.bus.PublishEvent(c.Request().Context(), values); err != nil {
		return err
	}
	return nil
}
