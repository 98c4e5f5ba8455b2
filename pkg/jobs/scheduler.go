// Package jobs runs the periodic maintenance work: DLQ aging, detection
// threshold tuning, stale pending-message recovery, edge liveness sweeps,
// and connector health probes.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/dispatch"
	"github.com/hornet-soc/hornet/pkg/metrics"
)

// staleMessageIdle is how long a claimed stream message may sit unacked
// before the scan hands it to a live consumer.
const staleMessageIdle = time.Minute

// RetryMaintenance is the DLQ surface the aging job needs.
type RetryMaintenance interface {
	PurgeDLQ(ctx context.Context, retention time.Duration) (int, error)
	CountDLQ(ctx context.Context) (int, error)
}

// EdgeMaintenance is the edge surface the liveness sweep needs.
type EdgeMaintenance interface {
	SweepStale(ctx context.Context, staleAfter time.Duration) (int, error)
	ExpireActions(ctx context.Context) (int, error)
}

// DispatcherControl is the dispatcher surface the tuning and recovery
// jobs need.
type DispatcherControl interface {
	Threshold() float64
	SetThreshold(t float64) float64
	GetStats() dispatch.Stats
	ReclaimStale(ctx context.Context, minIdle time.Duration) (int, error)
}

// ConnectorProber probes integration connectors.
type ConnectorProber interface {
	HealthCheckAll(ctx context.Context) map[string]error
}

// Scheduler owns the cron runner and the job implementations.
type Scheduler struct {
	cfg        *config.Config
	retry      RetryMaintenance
	edge       EdgeMaintenance
	dispatcher DispatcherControl
	connectors ConnectorProber
	cron       *cron.Cron
	logger     *slog.Logger

	ctx context.Context

	// window is the stats snapshot the tuning job diffs against.
	mu     sync.Mutex
	window dispatch.Stats
}

// New creates a Scheduler. Any nil dependency disables the jobs that need
// it.
func New(cfg *config.Config, retry RetryMaintenance, edge EdgeMaintenance, dispatcher DispatcherControl, connectors ConnectorProber) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		retry:      retry,
		edge:       edge,
		dispatcher: dispatcher,
		connectors: connectors,
		cron:       cron.New(),
		logger:     slog.Default().With("component", "jobs"),
	}
}

// Start registers the configured schedules and starts the runner. Jobs run
// under ctx; cancelling it aborts in-flight work at the next blocking call.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	js := s.cfg.Jobs

	type entry struct {
		name string
		spec string
		run  func(context.Context)
		need bool
	}
	entries := []entry{
		{"dlq_aging", js.DLQAging, s.runDLQAging, s.retry != nil},
		{"threshold_tuning", js.ThresholdTuning, s.runThresholdTuning, s.dispatcher != nil},
		{"stale_pending_scan", js.StalePendingScan, s.runStalePendingScan, s.dispatcher != nil},
		{"edge_liveness_sweep", js.EdgeLivenessSweep, s.runEdgeLivenessSweep, s.edge != nil},
		{"connector_probes", js.ConnectorProbes, s.runConnectorProbes, s.connectors != nil},
		{"baseline_recompute", js.BaselineRecompute, s.runBaselineRecompute, s.dispatcher != nil},
	}
	for _, e := range entries {
		if e.spec == "" || !e.need {
			s.logger.Info("Periodic job disabled", "job", e.name)
			continue
		}
		run := e.run
		if _, err := s.cron.AddFunc(e.spec, func() { run(s.ctx) }); err != nil {
			return err
		}
		s.logger.Info("Periodic job scheduled", "job", e.name, "schedule", e.spec)
	}

	if s.dispatcher != nil {
		s.mu.Lock()
		s.window = s.dispatcher.GetStats()
		s.mu.Unlock()
	}
	s.cron.Start()
	return nil
}

// Stop halts the runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// runDLQAging purges aged-out dead-lettered jobs and refreshes the depth
// gauge.
func (s *Scheduler) runDLQAging(ctx context.Context) {
	purged, err := s.retry.PurgeDLQ(ctx, s.cfg.Retry.DLQRetention)
	if err != nil {
		s.logger.Error("DLQ purge failed", "error", err)
		return
	}
	depth, err := s.retry.CountDLQ(ctx)
	if err != nil {
		s.logger.Error("DLQ depth count failed", "error", err)
		return
	}
	metrics.DLQDepth.Set(float64(depth))
	if purged > 0 {
		s.logger.Info("DLQ aged out", "purged", purged, "remaining", depth)
	}
}

// Tuning bounds: outside this promotion-rate band the threshold moves one
// step. A window with too few decisions is skipped.
const (
	tuningMinSample     = 20
	tuningPromoteHigh   = 0.50
	tuningPromoteLow    = 0.05
	tuningThresholdStep = 0.05
)

// runThresholdTuning nudges the promotion threshold against the promote
// rate observed since the previous run.
func (s *Scheduler) runThresholdTuning(ctx context.Context) {
	current := s.dispatcher.GetStats()

	s.mu.Lock()
	processed := current.Processed - s.window.Processed
	promoted := current.Promoted - s.window.Promoted
	s.window = current
	s.mu.Unlock()

	if processed < tuningMinSample {
		return
	}
	rate := float64(promoted) / float64(processed)
	threshold := s.dispatcher.Threshold()
	switch {
	case rate > tuningPromoteHigh:
		threshold = s.dispatcher.SetThreshold(threshold + tuningThresholdStep)
	case rate < tuningPromoteLow:
		threshold = s.dispatcher.SetThreshold(threshold - tuningThresholdStep)
	default:
		return
	}
	s.logger.Info("Detection threshold tuned",
		"promote_rate", rate, "window", processed, "threshold", threshold)
}

// runStalePendingScan recovers stream messages stuck with dead consumers.
func (s *Scheduler) runStalePendingScan(ctx context.Context) {
	n, err := s.dispatcher.ReclaimStale(ctx, staleMessageIdle)
	if err != nil {
		s.logger.Error("Stale pending scan failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Stale pending messages reclaimed", "count", n)
	}
}

// runEdgeLivenessSweep flips silent agents offline and expires overdue
// in-flight actions.
func (s *Scheduler) runEdgeLivenessSweep(ctx context.Context) {
	swept, err := s.edge.SweepStale(ctx, s.cfg.Realtime.HeartbeatStale)
	if err != nil {
		s.logger.Error("Edge liveness sweep failed", "error", err)
		return
	}
	expired, err := s.edge.ExpireActions(ctx)
	if err != nil {
		s.logger.Error("Edge action expiry failed", "error", err)
		return
	}
	if swept > 0 || expired > 0 {
		s.logger.Info("Edge liveness sweep", "agents_offline", swept, "actions_expired", expired)
	}
}

// runConnectorProbes health-checks every registered connector.
func (s *Scheduler) runConnectorProbes(ctx context.Context) {
	failures := s.connectors.HealthCheckAll(ctx)
	for connector, err := range failures {
		s.logger.Warn("Connector health check failed", "connector", connector, "error", err)
	}
}

// runBaselineRecompute recenters the tuned threshold halfway back toward
// the configured baseline, so short-lived traffic bursts do not pin it at
// a bound forever.
func (s *Scheduler) runBaselineRecompute(ctx context.Context) {
	baseline := s.cfg.Detection.Threshold
	current := s.dispatcher.Threshold()
	if current == baseline {
		return
	}
	next := s.dispatcher.SetThreshold(current + (baseline-current)/2)
	s.logger.Info("Detection threshold recentered",
		"from", current, "to", next, "baseline", baseline)
}
