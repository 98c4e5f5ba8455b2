package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/retry"
)

// maxWebhookBody caps a webhook envelope.
const maxWebhookBody = 1 << 20

// webhookHandler handles POST /api/v1/webhooks/:tenant_id/:source.
//
// Two acceptable credentials: a tenant API key, or an HMAC signature over
// the raw body in X-HORNET-Signature. A key must resolve to the tenant in
// the path; a mismatch reads as 404 so the path cannot be used to confirm
// tenant ids.
func (s *Server) webhookHandler(c *echo.Context) error {
	tenantID := c.Param("tenant_id")
	source := c.Param("source")
	if _, err := uuid.Parse(tenantID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source is required")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if err := s.authorizeWebhook(c, tenantID, body); err != nil {
		return err
	}

	ev, err := normalizeWebhook(source, body)
	if err != nil {
		return err
	}
	ev.TenantID = tenantID

	values, err := bus.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if _, err := s.bus.PublishEvent(c.Request().Context(), values); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, &IngestResponse{ID: ev.ID})
}

func (s *Server) authorizeWebhook(c *echo.Context, tenantID string, body []byte) error {
	if key := credential(c); key != "" {
		if s.auth == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
		}
		id, err := s.auth.Authenticate(c.Request().Context(), key)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
		}
		if id.TenantID != tenantID {
			return echo.NewHTTPError(http.StatusNotFound, "resource not found")
		}
		return nil
	}

	sig := c.Request().Header.Get(retry.SignatureHeader)
	if sig == "" || s.cfg.SigningSecret == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	}
	if !retry.VerifyBody([]byte(s.cfg.SigningSecret), body, sig) {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	}
	return nil
}

// normalizeWebhook maps a source-specific envelope onto the event schema.
// Recognized top-level fields are lifted; the whole envelope is preserved
// as the raw payload.
func normalizeWebhook(source string, body []byte) (*models.Event, error) {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "body is not valid JSON")
	}

	ev := &models.Event{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Source:     "webhook:" + source,
		SourceType: "webhook",
		EventType:  source + "_event",
		RawPayload: envelope,
	}
	if v, ok := envelope["event_type"].(string); ok && v != "" {
		ev.EventType = v
	}
	if v, ok := envelope["severity"].(string); ok && models.ValidSeverity(models.Severity(v)) {
		ev.Severity = models.Severity(v)
	}
	if raw, ok := envelope["entities"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			t, _ := m["type"].(string)
			v, _ := m["value"].(string)
			if t != "" && v != "" {
				ev.Entities = append(ev.Entities, models.Entity{Type: t, Value: v})
			}
		}
	}
	return ev, nil
}
