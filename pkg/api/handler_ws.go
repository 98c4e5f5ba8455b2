package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// wsDashboardHandler handles GET /api/v1/ws/:tenant_id. The path tenant
// must match the authenticated tenant; a mismatch reads as 404 so the URL
// cannot be used to confirm tenant ids.
func (s *Server) wsDashboardHandler(c *echo.Context) error {
	if s.dashboard == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "realtime channel not available")
	}
	id := identityFrom(c)
	if id == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	}
	if c.Param("tenant_id") != id.TenantID {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	// Serve blocks until the socket closes.
	return s.dashboard.Serve(c.Response(), c.Request(), id)
}

// wsEdgeHandler handles GET /api/v1/edge/connect for on-premises edge
// agents.
func (s *Server) wsEdgeHandler(c *echo.Context) error {
	if s.edge == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "edge channel not available")
	}
	id := identityFrom(c)
	if id == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	}
	return s.edge.Serve(c.Response(), c.Request(), id)
}
