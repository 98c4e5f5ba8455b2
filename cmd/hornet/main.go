// HORNET server: ingests security events, runs the detection squad,
// coordinates incident response, and serves the HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/hornet-soc/hornet/pkg/agent"
	"github.com/hornet-soc/hornet/pkg/api"
	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/coordinator"
	"github.com/hornet-soc/hornet/pkg/correlator"
	"github.com/hornet-soc/hornet/pkg/database"
	"github.com/hornet-soc/hornet/pkg/dispatch"
	"github.com/hornet-soc/hornet/pkg/executor"
	"github.com/hornet-soc/hornet/pkg/jobs"
	"github.com/hornet-soc/hornet/pkg/realtime"
	"github.com/hornet-soc/hornet/pkg/retry"
	"github.com/hornet-soc/hornet/pkg/storage"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveConsumerID determines the stream consumer name for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local"
func resolveConsumerID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	consumerID := resolveConsumerID()
	slog.Info("Starting HORNET", "consumer_id", consumerID, "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs migrations on connect)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Event bus
	busClient, err := bus.NewClient(ctx, bus.ConfigFromEnv())
	if err != nil {
		slog.Error("Failed to connect to event bus", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := busClient.Close(); err != nil {
			slog.Error("Error closing bus client", "error", err)
		}
	}()
	slog.Info("Connected to event bus")

	// 4. Storage and agent roster
	store := storage.New(dbClient.Pool(), cfg.AuditSecret)

	registry := agent.NewRegistry()
	if err := agent.RegisterBuiltins(registry, cfg.Detection.Squad,
		cfg.Coordinator.RouterAgent, cfg.Coordinator.IntelAgent,
		cfg.Coordinator.AnalystAgent, cfg.Coordinator.ResponderAgent,
		cfg.Coordinator.OversightAgent); err != nil {
		slog.Error("Failed to register agents", "error", err)
		os.Exit(1)
	}

	// 5. Realtime channels
	signer := realtime.NewSigner(cfg.SigningSecret)
	dashHub := realtime.NewHub(cfg.Realtime, busClient)
	edgeHub := realtime.NewEdgeHub(cfg.Realtime, busClient, store.Edge, signer)

	// 6. Connectors and the response pipeline
	connectors := executor.NewConnectorRegistry()
	for _, c := range []executor.Connector{
		&webhookNotifyConnector{jobs: store.Retry},
		&edgeHostConnector{hub: edgeHub},
	} {
		if err := connectors.Register(c); err != nil {
			slog.Error("Failed to register connector", "type", c.Type(), "error", err)
			os.Exit(1)
		}
	}

	corr := correlator.New(cfg.Correlator, store)
	exec := executor.New(cfg.Executor, store, connectors)
	coord := coordinator.New(cfg.Coordinator, busClient, store, registry, corr, exec)
	dispatcher := dispatch.New(cfg.Detection, busClient, store, registry, coord, consumerID)

	// 7. Retry queue
	processor := retry.NewProcessor(cfg.Retry, store.Retry)
	processor.Register(retry.JobTypeWebhook,
		retry.NewWebhookDeliverer(cfg.SigningSecret).Handler())

	// 8. Periodic jobs
	scheduler := jobs.New(cfg, store.Retry, store.Edge, dispatcher, connectors)
	if err := scheduler.Start(ctx); err != nil {
		slog.Error("Failed to start job scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	// 9. HTTP server
	auth := tenant.NewAuthenticator(store.Tenants)
	server := api.NewServer(cfg, store, dbClient, busClient, auth,
		dispatcher, coord, registry, connectors, dashHub, edgeHub)

	// 10. Run until a signal or the first component failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return processor.Run(gctx) })
	g.Go(func() error { return dashHub.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	slog.Info("HORNET started",
		"consumer_id", consumerID,
		"addr", cfg.Server.Addr,
		"squad", cfg.Detection.Squad)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Component failure triggered shutdown", "error", err)
	}

	// Let in-flight incident runs finish before the pools close underneath
	// them.
	coord.Wait()
	slog.Info("HORNET stopped")
}
