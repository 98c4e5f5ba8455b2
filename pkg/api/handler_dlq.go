package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/models"
)

// ReplayResponse is returned by POST /api/v1/dlq/:id/replay.
type ReplayResponse struct {
	Success bool `json:"success"`
}

// listDLQHandler handles GET /api/v1/dlq.
func (s *Server) listDLQHandler(c *echo.Context) error {
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return err
	}
	jobs, err := s.store.Retry.ListDLQ(c.Request().Context(), limit)
	if err != nil {
		return mapStoreError(err)
	}
	if jobs == nil {
		jobs = []*models.RetryJob{}
	}
	return c.JSON(http.StatusOK, jobs)
}

// replayDLQHandler handles POST /api/v1/dlq/:id/replay: the job returns to
// PENDING with a fresh attempt budget and is picked up on the next
// processor tick.
func (s *Server) replayDLQHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job id is required")
	}
	if err := s.store.Retry.Replay(c.Request().Context(), id); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &ReplayResponse{Success: true})
}
