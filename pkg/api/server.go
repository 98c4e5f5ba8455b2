// Package api exposes the HTTP and WebSocket surface: event ingest,
// incident queries, campaign views, configuration, the DLQ, health probes,
// and the realtime channels. Every tenant-scoped route runs behind the
// authentication middleware; storage row-level policies enforce isolation
// underneath.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/hornet-soc/hornet/pkg/agent"
	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/database"
	"github.com/hornet-soc/hornet/pkg/dispatch"
	"github.com/hornet-soc/hornet/pkg/executor"
	"github.com/hornet-soc/hornet/pkg/storage"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// ThresholdController is the dispatcher surface the config endpoints need.
type ThresholdController interface {
	Threshold() float64
	SetThreshold(t float64) float64
	GetStats() dispatch.Stats
}

// Resumer resumes escalated incidents on human decisions. Implemented by
// coordinator.Coordinator.
type Resumer interface {
	Resume(ctx context.Context, incidentID string, reopen bool, outcome string) error
}

// Channel serves one WebSocket connection for an authenticated tenant.
// Implemented by realtime.Hub and realtime.EdgeHub.
type Channel interface {
	Serve(w http.ResponseWriter, r *http.Request, id *tenant.Identity) error
}

// Server wires the HTTP surface to the engine components.
type Server struct {
	cfg        *config.Config
	store      *storage.Store
	db         *database.Client
	bus        *bus.Client
	limiter    *bus.RateLimiter
	auth       *tenant.Authenticator
	dispatcher ThresholdController
	resumer    Resumer
	agents     *agent.Registry
	connectors *executor.ConnectorRegistry
	dashboard  Channel
	edge       Channel
	logger     *slog.Logger

	started time.Time
}

// NewServer creates a Server. Nil optional components disable the routes
// that need them.
func NewServer(
	cfg *config.Config,
	store *storage.Store,
	db *database.Client,
	b *bus.Client,
	auth *tenant.Authenticator,
	dispatcher ThresholdController,
	resumer Resumer,
	agents *agent.Registry,
	connectors *executor.ConnectorRegistry,
	dashboard, edge Channel,
) *Server {
	var limiter *bus.RateLimiter
	if b != nil {
		limiter = bus.NewRateLimiter(b)
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		db:         db,
		bus:        b,
		limiter:    limiter,
		auth:       auth,
		dispatcher: dispatcher,
		resumer:    resumer,
		agents:     agents,
		connectors: connectors,
		dashboard:  dashboard,
		edge:       edge,
		logger:     slog.Default().With("component", "api"),
		started:    time.Now(),
	}
}

// Echo builds the router with all middleware and routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()

	e.Use(requestID())
	e.Use(s.errorEnvelope())
	e.Use(s.requestLogging())
	e.Use(securityHeaders())

	// Unauthenticated probes.
	e.GET("/health", s.healthHandler)
	e.GET("/health/live", s.healthLiveHandler)
	e.GET("/health/ready", s.healthReadyHandler)
	e.GET("/health/agents", s.healthAgentsHandler)
	e.GET("/metrics", metricsHandler)

	// Webhook ingest authenticates by body signature or API key inside the
	// handler, so it sits outside the auth middleware.
	e.POST("/api/v1/webhooks/:tenant_id/:source", s.webhookHandler)

	v1 := e.Group("/api/v1")
	v1.Use(s.authenticate())
	v1.Use(s.rateLimit())
	v1.Use(s.auditMutations())

	v1.POST("/events", s.ingestEventHandler)
	v1.POST("/events/batch", s.ingestBatchHandler)

	v1.GET("/incidents", s.listIncidentsHandler)
	v1.GET("/incidents/:id", s.getIncidentHandler)
	v1.POST("/incidents/:id/action", s.incidentActionHandler)

	v1.GET("/campaigns/graph", s.campaignGraphHandler)
	v1.GET("/campaigns/stats", s.campaignStatsHandler)
	v1.GET("/campaigns/:id/related", s.campaignRelatedHandler)

	v1.GET("/config/thresholds", s.getThresholdsHandler)
	v1.PUT("/config/thresholds", s.putThresholdsHandler)
	v1.GET("/config/playbooks", s.listPlaybooksHandler)

	v1.GET("/dlq", s.listDLQHandler)
	v1.POST("/dlq/:id/replay", s.replayDLQHandler)

	v1.GET("/audit", s.listAuditHandler)

	v1.GET("/ws/:tenant_id", s.wsDashboardHandler)
	v1.GET("/edge/connect", s.wsEdgeHandler)

	return e
}

// Start runs the HTTP listener until ctx is cancelled, then drains
// connections within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Echo(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
