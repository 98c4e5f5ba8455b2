// Package dispatch consumes the ingress event stream and decides, per
// event, whether to promote it to an incident. It is the sole member of
// its consumer group; scaling out adds consumers to the same group, never
// a second group over the same stream.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hornet-soc/hornet/pkg/agent"
	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/metrics"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// incidentNamespace seeds deterministic incident ids: the same event id
// always maps to the same incident id, making promotion idempotent under
// at-least-once delivery.
var incidentNamespace = uuid.MustParse("8c5c19e4-3f1a-4a6d-9b62-0d5d9e2b7a41")

// IncidentID derives the deterministic incident id for an event id.
func IncidentID(eventID string) string {
	return uuid.NewSHA1(incidentNamespace, []byte(eventID)).String()
}

// Store is the persistence surface the dispatcher needs.
type Store interface {
	CreateIncident(ctx context.Context, inc *models.Incident, entities []models.Entity) (bool, error)
	AddFinding(ctx context.Context, f *models.Finding) (string, error)
	AddIncidentTokens(ctx context.Context, incidentID string, n int) (int, error)
	RecordAudit(ctx context.Context, e *models.AuditLogEntry) error
}

// Launcher starts an FSM run for a freshly promoted incident. Launch must
// not block; the coordinator owns the incident from there.
type Launcher interface {
	Launch(ctx context.Context, incidentID string)
}

// Stats is a snapshot of the dispatcher's decision counters.
type Stats struct {
	Processed     int64 `json:"processed"`
	Promoted      int64 `json:"promoted"`
	Dismissed     int64 `json:"dismissed"`
	AgentFailures int64 `json:"agent_failures"`
}

// Dispatcher pulls event batches and runs the detection squad on each.
type Dispatcher struct {
	cfg      *config.DetectionConfig
	bus      *bus.Client
	store    Store
	registry *agent.Registry
	launcher Launcher
	consumer string
	logger   *slog.Logger

	processed     atomic.Int64
	promoted      atomic.Int64
	dismissed     atomic.Int64
	agentFailures atomic.Int64

	// threshold is read per event and adjustable by the tuning job.
	thresholdMu sync.RWMutex
	threshold   float64
}

// New creates a Dispatcher. consumer names this process inside the group;
// two processes with distinct names divide the stream.
func New(cfg *config.DetectionConfig, b *bus.Client, store Store, registry *agent.Registry, launcher Launcher, consumer string) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		bus:       b,
		store:     store,
		registry:  registry,
		launcher:  launcher,
		consumer:  consumer,
		logger:    slog.Default().With("component", "dispatcher", "consumer", consumer),
		threshold: cfg.Threshold,
	}
}

// Run consumes until ctx is cancelled. Consume errors are logged and
// retried after a short pause rather than tearing the loop down.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher starting",
		"group", bus.GroupDispatcher, "batch", d.cfg.BatchSize, "threshold", d.Threshold())
	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("Dispatcher stopping", "reason", context.Cause(ctx))
			return nil
		}
		msgs, err := d.bus.Consume(ctx, bus.GroupDispatcher, d.consumer,
			int64(d.cfg.BatchSize), d.cfg.BlockDuration)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			d.logger.Error("Event stream read failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		for _, msg := range msgs {
			d.handle(ctx, msg)
		}
	}
}

// Threshold returns the current promotion threshold.
func (d *Dispatcher) Threshold() float64 {
	d.thresholdMu.RLock()
	defer d.thresholdMu.RUnlock()
	return d.threshold
}

// SetThreshold adjusts the promotion threshold, clamped to the configured
// floor and ceiling. Used by the periodic tuning job.
func (d *Dispatcher) SetThreshold(t float64) float64 {
	if t < d.cfg.ThresholdFloor {
		t = d.cfg.ThresholdFloor
	}
	if t > d.cfg.ThresholdCeil {
		t = d.cfg.ThresholdCeil
	}
	d.thresholdMu.Lock()
	d.threshold = t
	d.thresholdMu.Unlock()
	return t
}

// ReclaimStale takes over messages another consumer claimed but never
// acked (crashed mid-decision) and re-decides them. Promotion is
// idempotent on the deterministic incident id, so a message that was
// half-processed re-enters cleanly. Returns the number reclaimed.
func (d *Dispatcher) ReclaimStale(ctx context.Context, minIdle time.Duration) (int, error) {
	msgs, err := d.bus.AutoClaim(ctx, bus.GroupDispatcher, d.consumer, minIdle, int64(d.cfg.BatchSize))
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		d.logger.Info("Reprocessing stale pending message", "msg_id", msg.ID)
		d.handle(ctx, msg)
	}
	return len(msgs), nil
}

// GetStats returns a snapshot of the decision counters.
func (d *Dispatcher) GetStats() Stats {
	return Stats{
		Processed:     d.processed.Load(),
		Promoted:      d.promoted.Load(),
		Dismissed:     d.dismissed.Load(),
		AgentFailures: d.agentFailures.Load(),
	}
}

// handle decides one message and acks it. The ack only happens after the
// decision (including persistence for the promoted case) is recorded;
// failure before that leaves the message pending for redelivery.
func (d *Dispatcher) handle(ctx context.Context, msg bus.Message) {
	ev, err := bus.DecodeEvent(msg.Values)
	if err != nil {
		// Undecodable messages can never succeed; ack and count them.
		d.logger.Error("Dropping undecodable event", "msg_id", msg.ID, "error", err)
		metrics.EventsProcessed.WithLabelValues("undecodable").Inc()
		d.ack(ctx, msg.ID)
		return
	}
	if ev.TenantID == "" {
		d.logger.Error("Dropping event without tenant", "msg_id", msg.ID, "event_id", ev.ID)
		metrics.EventsProcessed.WithLabelValues("undecodable").Inc()
		d.ack(ctx, msg.ID)
		return
	}

	tctx := tenant.NewContext(ctx, &tenant.Identity{TenantID: ev.TenantID})
	if err := d.processEvent(tctx, ev); err != nil {
		// Decision not recorded; leave unacked for redelivery.
		d.logger.Error("Event processing failed, leaving pending",
			"msg_id", msg.ID, "event_id", ev.ID, "error", err)
		return
	}
	d.ack(ctx, msg.ID)
}

func (d *Dispatcher) ack(ctx context.Context, msgID string) {
	if err := d.bus.Ack(ctx, bus.GroupDispatcher, msgID); err != nil {
		d.logger.Error("Ack failed", "msg_id", msgID, "error", err)
	}
}

// squadResult is one completed detection agent invocation.
type squadResult struct {
	output *agent.Output
}

func (d *Dispatcher) processEvent(ctx context.Context, ev *models.Event) error {
	d.processed.Add(1)

	results := d.runSquad(ctx, ev)

	maxConfidence := 0.0
	var triggering *agent.Output
	for _, r := range results {
		if r.output != nil && r.output.Confidence > maxConfidence {
			maxConfidence = r.output.Confidence
			triggering = r.output
		}
	}
	metrics.DetectionConfidence.Observe(maxConfidence)

	if maxConfidence < d.Threshold() || triggering == nil {
		d.dismissed.Add(1)
		metrics.EventsProcessed.WithLabelValues("dismissed").Inc()
		d.logger.Debug("Event dismissed",
			"event_id", ev.ID, "confidence", maxConfidence, "threshold", d.Threshold())
		return nil
	}

	if err := d.promote(ctx, ev, maxConfidence, triggering, results); err != nil {
		return err
	}
	d.promoted.Add(1)
	metrics.EventsProcessed.WithLabelValues("promoted").Inc()
	return nil
}

// runSquad fans the event out to the detection squad, each invocation
// under its own deadline. A failed or timed-out agent contributes nothing;
// it never fails the event.
func (d *Dispatcher) runSquad(ctx context.Context, ev *models.Event) []squadResult {
	ac := &agent.Context{
		IncidentID:  IncidentID(ev.ID),
		TenantID:    ev.TenantID,
		Event:       ev,
		Entities:    ev.Entities,
		TokenBudget: d.cfg.TokenBudget,
	}

	results := make([]squadResult, len(d.cfg.Squad))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range d.cfg.Squad {
		g.Go(func() error {
			a, err := d.registry.Get(name)
			if err != nil {
				d.agentFailure(name, err)
				return nil
			}
			callCtx, cancel := context.WithTimeout(gctx, d.cfg.AgentTimeout)
			defer cancel()
			out, err := a.Process(callCtx, ac)
			if err != nil {
				d.agentFailure(name, err)
				return nil
			}
			results[i] = squadResult{output: out}
			return nil
		})
	}
	_ = g.Wait() // goroutines swallow their own errors
	return results
}

func (d *Dispatcher) agentFailure(name string, err error) {
	d.agentFailures.Add(1)
	metrics.AgentFailures.WithLabelValues(name).Inc()
	d.logger.Warn("Detection agent failed", "agent", name, "error", err)
}

// promote creates the incident, persists the squad's findings, records the
// timeline entry, and announces the incident. Create is idempotent on the
// deterministic id, so a redelivered event re-enters cleanly.
func (d *Dispatcher) promote(ctx context.Context, ev *models.Event, confidence float64, triggering *agent.Output, results []squadResult) error {
	inc := &models.Incident{
		ID:          IncidentID(ev.ID),
		TenantID:    ev.TenantID,
		State:       models.StateDetection,
		Severity:    triggering.Severity,
		Confidence:  confidence,
		TokenBudget: d.cfg.TokenBudget,
		EventData: map[string]any{
			"event_id":   ev.ID,
			"event_type": ev.EventType,
			"source":     ev.Source,
			"severity":   string(ev.Severity),
			"timestamp":  ev.Timestamp.UTC().Format(time.RFC3339Nano),
			"entities":   entityMaps(ev.Entities),
			"raw":        ev.RawPayload,
		},
	}

	created, err := d.store.CreateIncident(ctx, inc, ev.Entities)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	if !created {
		// A crash between CreateIncident committing and Launch leaves the
		// incident parked in DETECTION with no owner. Relaunch on every
		// redelivery; the coordinator's incident lock absorbs duplicates
		// and a terminal incident returns immediately.
		d.logger.Info("Incident already exists, relaunching on redelivery",
			"incident_id", inc.ID, "event_id", ev.ID)
		if d.launcher != nil {
			d.launcher.Launch(ctx, inc.ID)
		}
		return nil
	}

	tokens := 0
	for _, r := range results {
		if r.output == nil {
			continue
		}
		f := &models.Finding{
			IncidentID:     inc.ID,
			Agent:          r.output.AgentName,
			FindingType:    models.FindingTypeDetection,
			Confidence:     r.output.Confidence,
			Severity:       r.output.Severity,
			Content:        r.output.Content,
			Reasoning:      r.output.Reasoning,
			TokensConsumed: r.output.TokensUsed,
		}
		if _, err := d.store.AddFinding(ctx, f); err != nil {
			return fmt.Errorf("persist detection finding: %w", err)
		}
		tokens += r.output.TokensUsed
	}
	if tokens > 0 {
		if _, err := d.store.AddIncidentTokens(ctx, inc.ID, tokens); err != nil {
			return fmt.Errorf("charge detection tokens: %w", err)
		}
		if _, err := d.bus.IncrTokens(ctx, inc.ID, int64(tokens)); err != nil {
			d.logger.Warn("Live token counter update failed", "incident_id", inc.ID, "error", err)
		}
		metrics.TokensConsumed.Add(float64(tokens))
	}

	if err := d.store.RecordAudit(ctx, &models.AuditLogEntry{
		Actor:        "dispatcher",
		Action:       "detection_triggered",
		ResourceType: "incident",
		ResourceID:   inc.ID,
		Details: map[string]any{
			"event_id":         ev.ID,
			"confidence":       confidence,
			"triggering_agent": triggering.AgentName,
		},
	}); err != nil {
		return fmt.Errorf("record detection audit entry: %w", err)
	}

	// Best-effort announce; correctness never depends on pub/sub.
	if err := d.bus.PublishRealtime(ctx, "incident_created", ev.TenantID, map[string]any{
		"incident_id": inc.ID,
		"severity":    string(inc.Severity),
		"confidence":  confidence,
		"event_type":  ev.EventType,
	}); err != nil {
		d.logger.Warn("Realtime publish failed", "incident_id", inc.ID, "error", err)
	}

	d.logger.Info("Incident promoted",
		"incident_id", inc.ID, "event_id", ev.ID,
		"confidence", confidence, "triggering_agent", triggering.AgentName)

	if d.launcher != nil {
		d.launcher.Launch(ctx, inc.ID)
	}
	return nil
}

func entityMaps(entities []models.Entity) []map[string]string {
	out := make([]map[string]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, map[string]string{"type": e.Type, "value": e.Value})
	}
	return out
}
