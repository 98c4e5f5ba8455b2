package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/storage"
)

// CampaignGraphResponse is returned by GET /api/v1/campaigns/graph.
type CampaignGraphResponse struct {
	Nodes []storage.GraphNode `json:"nodes"`
	Edges []storage.GraphEdge `json:"edges"`
}

// campaignGraphHandler handles GET /api/v1/campaigns/graph?hours_back=N.
func (s *Server) campaignGraphHandler(c *echo.Context) error {
	hoursBack, err := intParam(c, "hours_back", 24)
	if err != nil {
		return err
	}
	if hoursBack > 168 {
		return echo.NewHTTPError(http.StatusBadRequest, "hours_back exceeds 168")
	}

	nodes, edges, err := s.store.Links.Graph(c.Request().Context(), hoursBack)
	if err != nil {
		return mapStoreError(err)
	}
	if nodes == nil {
		nodes = []storage.GraphNode{}
	}
	if edges == nil {
		edges = []storage.GraphEdge{}
	}
	return c.JSON(http.StatusOK, &CampaignGraphResponse{Nodes: nodes, Edges: edges})
}

// campaignStatsHandler handles GET /api/v1/campaigns/stats.
func (s *Server) campaignStatsHandler(c *echo.Context) error {
	stats, err := s.store.Links.Stats(c.Request().Context())
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// campaignRelatedHandler handles GET /api/v1/campaigns/:id/related, where
// :id is an incident id. Returns the incidents sharing its campaign.
func (s *Server) campaignRelatedHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "incident id is required")
	}
	related, err := s.store.Links.CampaignIncidents(c.Request().Context(), id)
	if err != nil {
		return mapStoreError(err)
	}
	if related == nil {
		related = []*models.Incident{}
	}
	return c.JSON(http.StatusOK, related)
}
