package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/storage"
)

// listAuditHandler handles GET /api/v1/audit with optional actor, action,
// resource_type, resource_id, since (RFC3339) and limit filters.
func (s *Server) listAuditHandler(c *echo.Context) error {
	f := storage.AuditFilter{
		Actor:        c.QueryParam("actor"),
		Action:       c.QueryParam("action"),
		ResourceType: c.QueryParam("resource_type"),
		ResourceID:   c.QueryParam("resource_id"),
	}
	var err error
	if f.Limit, err = intParam(c, "limit", 0); err != nil {
		return err
	}
	if v := c.QueryParam("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		f.Since = since
	}

	entries, err := s.store.Audit.List(c.Request().Context(), f)
	if err != nil {
		return mapStoreError(err)
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
