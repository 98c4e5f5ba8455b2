package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one dependency's state in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health and /health/ready.
type HealthResponse struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime"`
	Checks map[string]HealthCheck `json:"checks"`
}

// AgentsHealthResponse is returned by GET /health/agents. It describes the
// process's own detection squad and connectors, not tenant resources.
type AgentsHealthResponse struct {
	Agents     []string          `json:"agents"`
	Connectors map[string]string `json:"connectors"`
}

// healthHandler handles GET /health: overall state of the process's own
// dependencies, safe for unauthenticated access.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.db != nil {
		dbHealth := s.db.Health(reqCtx)
		if dbHealth.Reachable {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		} else {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: dbHealth.Error}
		}
	}
	if s.bus != nil {
		if err := s.bus.Ping(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks["bus"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["bus"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{
		Status: status,
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Checks: checks,
	})
}

// healthLiveHandler handles GET /health/live: the process is up.
func (s *Server) healthLiveHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": healthStatusHealthy})
}

// healthReadyHandler handles GET /health/ready: dependencies are reachable
// and the process can serve traffic.
func (s *Server) healthReadyHandler(c *echo.Context) error {
	return s.healthHandler(c)
}

// healthAgentsHandler handles GET /health/agents: the registered agent
// roster and live connector probe results.
func (s *Server) healthAgentsHandler(c *echo.Context) error {
	resp := &AgentsHealthResponse{
		Agents:     []string{},
		Connectors: map[string]string{},
	}
	if s.agents != nil {
		resp.Agents = s.agents.Names()
	}
	if s.connectors != nil {
		reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		failures := s.connectors.HealthCheckAll(reqCtx)
		for _, t := range s.connectors.Types() {
			if err, failed := failures[t]; failed {
				resp.Connectors[t] = err.Error()
			} else {
				resp.Connectors[t] = healthStatusHealthy
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// metricsHandler serves the Prometheus registry.
func metricsHandler(c *echo.Context) error {
	promhttp.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
