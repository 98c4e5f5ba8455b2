package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/config"
)

// ThresholdsResponse is returned by GET and PUT /api/v1/config/thresholds.
type ThresholdsResponse struct {
	Threshold float64 `json:"threshold"`
	Floor     float64 `json:"floor"`
	Ceil      float64 `json:"ceil"`
}

// UpdateThresholdsRequest is the body of PUT /api/v1/config/thresholds.
type UpdateThresholdsRequest struct {
	Threshold *float64 `json:"threshold"`
}

// getThresholdsHandler handles GET /api/v1/config/thresholds.
func (s *Server) getThresholdsHandler(c *echo.Context) error {
	if s.dispatcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "dispatcher not available")
	}
	return c.JSON(http.StatusOK, &ThresholdsResponse{
		Threshold: s.dispatcher.Threshold(),
		Floor:     s.cfg.Detection.ThresholdFloor,
		Ceil:      s.cfg.Detection.ThresholdCeil,
	})
}

// putThresholdsHandler handles PUT /api/v1/config/thresholds. The value is
// bounded to [0,1] here and clamped to the configured floor and ceiling by
// the dispatcher.
func (s *Server) putThresholdsHandler(c *echo.Context) error {
	if s.dispatcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "dispatcher not available")
	}
	var req UpdateThresholdsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Threshold == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "threshold is required")
	}
	if *req.Threshold < 0 || *req.Threshold > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "threshold must be in [0,1]")
	}

	applied := s.dispatcher.SetThreshold(*req.Threshold)
	s.logger.Info("Detection threshold updated",
		"requested", *req.Threshold, "applied", applied,
		"request_id", requestIDFrom(c))
	return c.JSON(http.StatusOK, &ThresholdsResponse{
		Threshold: applied,
		Floor:     s.cfg.Detection.ThresholdFloor,
		Ceil:      s.cfg.Detection.ThresholdCeil,
	})
}

// listPlaybooksHandler handles GET /api/v1/config/playbooks.
func (s *Server) listPlaybooksHandler(c *echo.Context) error {
	playbooks := s.cfg.Playbooks
	if playbooks == nil {
		playbooks = []config.PlaybookConfig{}
	}
	return c.JSON(http.StatusOK, playbooks)
}
