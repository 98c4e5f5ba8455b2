// Package coordinator drives the per-incident state machine: one run per
// incident, guarded by a distributed lock, advancing through enrichment,
// analysis, proposal, oversight, and execution, with per-phase deadlines
// and a shared token budget.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hornet-soc/hornet/pkg/agent"
	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/executor"
	"github.com/hornet-soc/hornet/pkg/metrics"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/storage"
)

// Store is the persistence surface a coordinator run needs.
type Store interface {
	GetIncident(ctx context.Context, incidentID string) (*models.Incident, error)
	UpdateIncident(ctx context.Context, incidentID string, u storage.IncidentUpdate) error
	AddFinding(ctx context.Context, f *models.Finding) (string, error)
	ListFindings(ctx context.Context, incidentID string) ([]*models.Finding, error)
	ListEntities(ctx context.Context, incidentID string) ([]models.Entity, error)
	AddIncidentTokens(ctx context.Context, incidentID string, n int) (int, error)
	CreateActions(ctx context.Context, incidentID string, actions []*models.Action) error
	UpdateActionStatus(ctx context.Context, actionID string, to models.ActionStatus, u storage.StatusUpdate) error
	RecordAudit(ctx context.Context, e *models.AuditLogEntry) error
}

// CorrelatorService runs campaign correlation during enrichment.
type CorrelatorService interface {
	Correlate(ctx context.Context, incidentID string, entities []models.Entity) (*models.CorrelationResult, error)
}

// ExecutorService runs the approved action plan during execution.
type ExecutorService interface {
	Execute(ctx context.Context, incidentID string, plan *executor.Plan) (*executor.Result, error)
}

// Coordinator owns FSM runs. One Coordinator serves the whole process;
// each incident run is a goroutine holding that incident's lock.
type Coordinator struct {
	cfg        *config.CoordinatorConfig
	bus        *bus.Client
	store      Store
	registry   *agent.Registry
	correlator CorrelatorService
	executor   ExecutorService
	logger     *slog.Logger

	wg sync.WaitGroup
}

// New creates a Coordinator.
func New(cfg *config.CoordinatorConfig, b *bus.Client, store Store, registry *agent.Registry, corr CorrelatorService, exec ExecutorService) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		bus:        b,
		store:      store,
		registry:   registry,
		correlator: corr,
		executor:   exec,
		logger:     slog.Default().With("component", "coordinator"),
	}
}

// Launch starts an FSM run for a promoted incident without blocking the
// caller. The run detaches from the caller's cancellation but keeps its
// values (the tenant identity in particular).
func (c *Coordinator) Launch(ctx context.Context, incidentID string) {
	runCtx := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Run(runCtx, incidentID); err != nil {
			c.logger.Error("Coordinator run failed", "incident_id", incidentID, "error", err)
		}
	}()
}

// Wait blocks until all launched runs finish. Used during shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// run carries the in-flight state one FSM pass accumulates.
type run struct {
	incident *models.Incident
	proposal *agent.Proposal
	approved []string
	logger   *slog.Logger
}

// Run executes the FSM for one incident until it parks (ESCALATED) or
// terminates (CLOSED). Returns nil without touching the incident when
// another run holds the lock.
func (c *Coordinator) Run(ctx context.Context, incidentID string) error {
	lock, err := c.bus.AcquireLock(ctx, "incident:"+incidentID, c.cfg.LockTTL())
	if err != nil {
		if errors.Is(err, bus.ErrLockHeld) {
			c.logger.Info("Incident already owned by another run", "incident_id", incidentID)
			return nil
		}
		return fmt.Errorf("acquire incident lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("Incident lock release failed", "incident_id", incidentID, "error", err)
		}
	}()

	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}
	r := &run{
		incident: inc,
		logger:   c.logger.With("incident_id", incidentID),
	}
	r.logger.Info("Coordinator run starting", "state", inc.State,
		"confidence", inc.Confidence, "budget", inc.TokenBudget)

	for {
		switch r.incident.State {
		case models.StateClosed:
			return nil
		case models.StateEscalated:
			r.logger.Info("Incident parked for human review",
				"escalation_reason", r.incident.EscalationReason)
			return nil
		case models.StateError:
			return c.close(ctx, r, models.OutcomeError)
		}

		switch status := CheckBudget(r.incident.TokensUsed, r.incident.TokenBudget); status {
		case BudgetCritical, BudgetForceTransition:
			r.logger.Warn("Token budget gate tripped", "status", status.String(),
				"used", r.incident.TokensUsed, "budget", r.incident.TokenBudget)
			c.audit(ctx, r, "budget_gate", map[string]any{
				"status": status.String(),
				"used":   r.incident.TokensUsed,
				"budget": r.incident.TokenBudget,
			})
			return c.close(ctx, r, models.OutcomeBudgetExhausted)
		case BudgetWarning:
			r.logger.Warn("Token budget warning",
				"used", r.incident.TokensUsed, "budget", r.incident.TokenBudget)
		}

		if err := c.runPhase(ctx, r); err != nil {
			return c.failPhase(ctx, r, err)
		}
	}
}

// runPhase executes the handler for the current state under its deadline.
func (c *Coordinator) runPhase(ctx context.Context, r *run) error {
	phase := r.incident.State
	deadline := c.phaseDeadline(phase)
	phaseCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	var err error
	switch phase {
	case models.StateDetection:
		err = c.handleDetection(phaseCtx, r)
	case models.StateEnrichment:
		err = c.handleEnrichment(phaseCtx, r)
	case models.StateAnalysis:
		err = c.handleAnalysis(phaseCtx, r)
	case models.StateProposal:
		err = c.handleProposal(phaseCtx, r)
	case models.StateOversight:
		err = c.handleOversight(phaseCtx, r)
	case models.StateExecution:
		err = c.handleExecution(phaseCtx, r)
	default:
		err = fmt.Errorf("no handler for state %s", phase)
	}
	metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
	return err
}

func (c *Coordinator) phaseDeadline(s models.State) time.Duration {
	switch s {
	case models.StateDetection:
		return c.cfg.DetectionDeadline
	case models.StateEnrichment:
		return c.cfg.EnrichmentDeadline
	case models.StateAnalysis:
		return c.cfg.AnalysisDeadline
	case models.StateProposal:
		return c.cfg.ProposalDeadline
	case models.StateOversight:
		return c.cfg.OversightDeadline
	case models.StateExecution:
		return c.cfg.ExecutionDeadline
	default:
		return c.cfg.EscalatedDeadline
	}
}

// failPhase routes a phase error: deadline expiry in the two early phases
// closes as timeout_low_confidence; everything else goes through ERROR.
func (c *Coordinator) failPhase(ctx context.Context, r *run, phaseErr error) error {
	phase := r.incident.State
	r.logger.Error("Phase failed", "phase", phase, "error", phaseErr)
	c.audit(ctx, r, "phase_failed", map[string]any{
		"phase": string(phase),
		"error": phaseErr.Error(),
	})

	if errors.Is(phaseErr, context.DeadlineExceeded) &&
		(phase == models.StateDetection || phase == models.StateEnrichment) {
		return c.close(ctx, r, models.OutcomeTimeoutLowConfidence)
	}

	if canFail(phase) {
		reason := fmt.Sprintf("%s: %v", phase, phaseErr)
		if err := c.transition(ctx, r, models.StateError, storage.IncidentUpdate{
			EscalationReason: &reason,
		}); err != nil {
			return err
		}
	}
	return c.close(ctx, r, models.OutcomeError)
}

// transition persists a state change, then publishes it. Persist comes
// first: observers reading storage must see transitions in order, and
// pub/sub is only a hint.
func (c *Coordinator) transition(ctx context.Context, r *run, to models.State, u storage.IncidentUpdate) error {
	from := r.incident.State
	if !CanTransition(from, to) && !(to == models.StateError && canFail(from)) {
		r.logger.Error("Illegal transition rejected", "from", from, "to", to)
		return fmt.Errorf("%w: %s → %s", storage.ErrInvalidTransition, from, to)
	}
	u.State = &to
	if err := c.store.UpdateIncident(ctx, r.incident.ID, u); err != nil {
		return fmt.Errorf("persist transition %s → %s: %w", from, to, err)
	}
	r.incident.State = to
	applyUpdate(r.incident, u)
	metrics.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
	r.logger.Info("State transition", "from", from, "to", to)

	c.publish(ctx, r, "state_changed", map[string]any{
		"incident_id": r.incident.ID,
		"from":        string(from),
		"to":          string(to),
	})
	return nil
}

// applyUpdate mirrors the persisted partial update onto the in-memory row.
func applyUpdate(inc *models.Incident, u storage.IncidentUpdate) {
	if u.Severity != nil {
		inc.Severity = *u.Severity
	}
	if u.Confidence != nil {
		inc.Confidence = *u.Confidence
	}
	if u.Summary != nil {
		inc.Summary = *u.Summary
	}
	if u.Outcome != nil {
		inc.Outcome = *u.Outcome
	}
	if u.EscalationReason != nil {
		inc.EscalationReason = *u.EscalationReason
	}
	if u.CampaignID != nil {
		inc.CampaignID = *u.CampaignID
	}
}

// close drives the incident to CLOSED with an outcome and clears its live
// token counter.
func (c *Coordinator) close(ctx context.Context, r *run, outcome string) error {
	if r.incident.State == models.StateClosed {
		return nil
	}
	if err := c.transition(ctx, r, models.StateClosed, storage.IncidentUpdate{
		Outcome: &outcome,
		Closed:  true,
	}); err != nil {
		return err
	}
	metrics.IncidentsClosed.WithLabelValues(outcome).Inc()
	if err := c.bus.ClearTokens(ctx, r.incident.ID); err != nil {
		r.logger.Warn("Live token counter cleanup failed", "error", err)
	}
	c.publish(ctx, r, "incident_closed", map[string]any{
		"incident_id": r.incident.ID,
		"outcome":     outcome,
	})
	r.logger.Info("Incident closed", "outcome", outcome,
		"tokens_used", r.incident.TokensUsed)
	return nil
}

// escalate parks the incident for human review.
func (c *Coordinator) escalate(ctx context.Context, r *run, reason string) error {
	if err := c.transition(ctx, r, models.StateEscalated, storage.IncidentUpdate{
		EscalationReason: &reason,
	}); err != nil {
		return err
	}
	c.publish(ctx, r, "incident_escalated", map[string]any{
		"incident_id": r.incident.ID,
		"reason":      reason,
	})
	return nil
}

// callAgent invokes a role agent, charges its tokens, and records its
// output as a finding.
func (c *Coordinator) callAgent(ctx context.Context, r *run, name, findingType string) (*agent.Output, error) {
	a, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}
	findings, err := c.store.ListFindings(ctx, r.incident.ID)
	if err != nil {
		return nil, fmt.Errorf("load findings for %s: %w", name, err)
	}
	entities, err := c.store.ListEntities(ctx, r.incident.ID)
	if err != nil {
		return nil, fmt.Errorf("load entities for %s: %w", name, err)
	}
	out, err := a.Process(ctx, &agent.Context{
		IncidentID:  r.incident.ID,
		TenantID:    r.incident.TenantID,
		Entities:    entities,
		Findings:    findings,
		TokenBudget: r.incident.TokenBudget - r.incident.TokensUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	if out.TokensUsed > 0 {
		total, err := c.store.AddIncidentTokens(ctx, r.incident.ID, out.TokensUsed)
		if err != nil {
			return nil, fmt.Errorf("charge tokens for %s: %w", name, err)
		}
		r.incident.TokensUsed = total
		if _, err := c.bus.IncrTokens(ctx, r.incident.ID, int64(out.TokensUsed)); err != nil {
			r.logger.Warn("Live token counter update failed", "error", err)
		}
		metrics.TokensConsumed.Add(float64(out.TokensUsed))
	}

	if _, err := c.store.AddFinding(ctx, &models.Finding{
		IncidentID:     r.incident.ID,
		Agent:          out.AgentName,
		FindingType:    findingType,
		Confidence:     out.Confidence,
		Severity:       out.Severity,
		Content:        out.Content,
		Reasoning:      out.Reasoning,
		TokensConsumed: out.TokensUsed,
	}); err != nil {
		return nil, fmt.Errorf("persist %s finding: %w", findingType, err)
	}
	c.publish(ctx, r, "finding_added", map[string]any{
		"incident_id":  r.incident.ID,
		"agent":        out.AgentName,
		"finding_type": findingType,
		"confidence":   out.Confidence,
	})
	return out, nil
}

// handleDetection recomputes the promotion gate with the router's view:
// the router names the activated specialists and an initial confidence,
// and the dismiss threshold gets one more chance to stop the run cheaply.
func (c *Coordinator) handleDetection(ctx context.Context, r *run) error {
	out, err := c.callAgent(ctx, r, c.cfg.RouterAgent, models.FindingTypeRouting)
	if err != nil {
		return err
	}

	confidence := r.incident.Confidence
	if ic, ok := numeric(out.Content["initial_confidence"]); ok && ic > confidence {
		confidence = ic
	}

	if confidence < c.cfg.ThresholdDismiss {
		r.logger.Info("Dismissed at detection gate",
			"confidence", confidence, "threshold", c.cfg.ThresholdDismiss)
		return c.close(ctx, r, models.OutcomeDismissed)
	}
	return c.transition(ctx, r, models.StateEnrichment, storage.IncidentUpdate{
		Confidence: &confidence,
	})
}

// handleEnrichment gathers external intel and runs campaign correlation.
func (c *Coordinator) handleEnrichment(ctx context.Context, r *run) error {
	if _, err := c.callAgent(ctx, r, c.cfg.IntelAgent, models.FindingTypeIntel); err != nil {
		return err
	}

	entities, err := c.store.ListEntities(ctx, r.incident.ID)
	if err != nil {
		return fmt.Errorf("load entities for correlation: %w", err)
	}
	corr, err := c.correlator.Correlate(ctx, r.incident.ID, entities)
	if err != nil {
		return fmt.Errorf("correlate: %w", err)
	}
	if _, err := c.store.AddFinding(ctx, &models.Finding{
		IncidentID:  r.incident.ID,
		Agent:       "correlator",
		FindingType: models.FindingTypeRelated,
		Confidence:  corr.CampaignScore,
		Content: map[string]any{
			"related_count":  len(corr.Related),
			"campaign_score": corr.CampaignScore,
			"is_campaign":    corr.IsCampaign,
			"campaign_id":    corr.CampaignID,
			"links_created":  corr.LinksCreated,
		},
		Reasoning: fmt.Sprintf("%d related incidents, score %.2f", len(corr.Related), corr.CampaignScore),
	}); err != nil {
		return fmt.Errorf("persist correlation finding: %w", err)
	}
	if corr.CampaignID != "" {
		r.incident.CampaignID = corr.CampaignID
	}

	return c.transition(ctx, r, models.StateAnalysis, storage.IncidentUpdate{})
}

// handleAnalysis runs the analyst and stores the verdict on the incident.
func (c *Coordinator) handleAnalysis(ctx context.Context, r *run) error {
	out, err := c.callAgent(ctx, r, c.cfg.AnalystAgent, models.FindingTypeVerdict)
	if err != nil {
		return err
	}
	verdict, err := agent.ParseVerdict(out)
	if err != nil {
		return fmt.Errorf("parse verdict: %w", err)
	}

	u := storage.IncidentUpdate{
		Confidence: &verdict.Confidence,
		Summary:    &verdict.Summary,
	}
	if verdict.Severity != "" {
		u.Severity = &verdict.Severity
	}

	if verdict.Verdict == agent.VerdictDismissed || verdict.Confidence < c.cfg.ThresholdInvestigate {
		if err := c.store.UpdateIncident(ctx, r.incident.ID, u); err != nil {
			return fmt.Errorf("persist verdict: %w", err)
		}
		applyUpdate(r.incident, u)
		r.logger.Info("Dismissed at analysis gate",
			"verdict", verdict.Verdict, "confidence", verdict.Confidence)
		return c.close(ctx, r, models.OutcomeDismissed)
	}
	return c.transition(ctx, r, models.StateProposal, u)
}

// handleProposal runs the responder and keeps the parsed plan for
// oversight and execution.
func (c *Coordinator) handleProposal(ctx context.Context, r *run) error {
	out, err := c.callAgent(ctx, r, c.cfg.ResponderAgent, models.FindingTypeProposal)
	if err != nil {
		return err
	}
	proposal, err := agent.ParseProposal(out)
	if err != nil {
		return fmt.Errorf("parse proposal: %w", err)
	}
	if len(proposal.Actions) == 0 {
		r.logger.Info("Responder proposed no actions")
		return c.close(ctx, r, models.OutcomeResolved)
	}
	r.proposal = proposal
	return c.transition(ctx, r, models.StateOversight, storage.IncidentUpdate{})
}

// handleOversight runs the overseer and persists the approved subset as
// actions. VETO and ESCALATE park the incident with the reason captured.
func (c *Coordinator) handleOversight(ctx context.Context, r *run) error {
	out, err := c.callAgent(ctx, r, c.cfg.OversightAgent, models.FindingTypeOversight)
	if err != nil {
		return err
	}
	decision, err := agent.ParseOversightDecision(out)
	if err != nil {
		return fmt.Errorf("parse oversight decision: %w", err)
	}
	c.audit(ctx, r, "oversight_decision", map[string]any{
		"decision": decision.Decision,
		"reason":   decision.Reason,
	})

	switch decision.Decision {
	case agent.DecisionVeto, agent.DecisionEscalate:
		return c.escalate(ctx, r, decision.Reason)
	}

	if r.proposal == nil {
		return errors.New("oversight approved but no proposal in run")
	}

	approvedSet := map[string]bool{}
	if decision.Decision == agent.DecisionApprove {
		for _, a := range r.proposal.Actions {
			approvedSet[a.ID] = true
		}
	} else {
		for _, id := range decision.ApprovedActionIDs {
			approvedSet[id] = true
		}
	}

	actions := make([]*models.Action, 0, len(r.proposal.Actions))
	for _, pa := range r.proposal.Actions {
		actions = append(actions, &models.Action{
			ID:         pa.ID,
			ActionType: pa.ActionType,
			Target:     pa.Target,
			Parameters: pa.Parameters,
			RiskLevel:  models.RiskLevel(pa.RiskLevel),
			Order:      pa.Order,
		})
	}
	if err := c.store.CreateActions(ctx, r.incident.ID, actions); err != nil {
		return fmt.Errorf("persist proposed actions: %w", err)
	}

	r.approved = r.approved[:0]
	for _, a := range actions {
		if approvedSet[a.ID] {
			if err := c.store.UpdateActionStatus(ctx, a.ID, models.ActionApproved, storage.StatusUpdate{}); err != nil {
				return fmt.Errorf("approve action %s: %w", a.ID, err)
			}
			r.approved = append(r.approved, a.ID)
		} else {
			if err := c.store.UpdateActionStatus(ctx, a.ID, models.ActionRejected, storage.StatusUpdate{}); err != nil {
				return fmt.Errorf("reject action %s: %w", a.ID, err)
			}
		}
	}
	if len(r.approved) == 0 {
		r.logger.Info("Oversight left no approved actions")
		return c.close(ctx, r, models.OutcomeResolved)
	}
	return c.transition(ctx, r, models.StateExecution, storage.IncidentUpdate{})
}

// handleExecution hands the approved plan to the executor and closes on
// its verdict.
func (c *Coordinator) handleExecution(ctx context.Context, r *run) error {
	if r.proposal == nil {
		return errors.New("execution reached without a proposal")
	}
	approvedSet := map[string]bool{}
	for _, id := range r.approved {
		approvedSet[id] = true
	}

	plan := &executor.Plan{Dependencies: map[string][]string{}}
	for _, pa := range r.proposal.Actions {
		if !approvedSet[pa.ID] {
			continue
		}
		plan.Actions = append(plan.Actions, &models.Action{
			ID:         pa.ID,
			IncidentID: r.incident.ID,
			ActionType: pa.ActionType,
			Target:     pa.Target,
			Parameters: pa.Parameters,
			RiskLevel:  models.RiskLevel(pa.RiskLevel),
			Status:     models.ActionApproved,
			Order:      pa.Order,
		})
	}
	// Groups and dependencies survive filtered to the approved subset.
	for _, group := range r.proposal.ParallelGroups {
		var g []string
		for _, id := range group {
			if approvedSet[id] {
				g = append(g, id)
			}
		}
		if len(g) > 0 {
			plan.ParallelGroups = append(plan.ParallelGroups, g)
		}
	}
	for id, preds := range r.proposal.Dependencies {
		if !approvedSet[id] {
			continue
		}
		var kept []string
		for _, p := range preds {
			if approvedSet[p] {
				kept = append(kept, p)
			}
		}
		if len(kept) > 0 {
			plan.Dependencies[id] = kept
		}
	}

	result, err := c.executor.Execute(ctx, r.incident.ID, plan)
	if err != nil {
		return fmt.Errorf("execute plan: %w", err)
	}
	c.audit(ctx, r, "plan_completed", map[string]any{
		"completed": len(result.Completed),
		"failed":    len(result.Failed),
		"blocked":   len(result.Blocked),
	})
	if result.AllSucceeded() {
		return c.close(ctx, r, models.OutcomeResolved)
	}
	return c.close(ctx, r, models.OutcomePartialFailure)
}

// Resume continues a parked ESCALATED incident on a human decision:
// reopen sends it back through ANALYSIS, otherwise it closes with the
// given outcome.
func (c *Coordinator) Resume(ctx context.Context, incidentID string, reopen bool, outcome string) error {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if inc.State != models.StateEscalated {
		return fmt.Errorf("%w: resume from %s", storage.ErrInvalidTransition, inc.State)
	}
	r := &run{incident: inc, logger: c.logger.With("incident_id", incidentID)}
	c.audit(ctx, r, "escalation_resumed", map[string]any{
		"reopen":  reopen,
		"outcome": outcome,
	})
	if !reopen {
		if outcome == "" {
			outcome = models.OutcomeResolved
		}
		return c.close(ctx, r, outcome)
	}
	if err := c.transition(ctx, r, models.StateAnalysis, storage.IncidentUpdate{}); err != nil {
		return err
	}
	c.Launch(ctx, incidentID)
	return nil
}

func (c *Coordinator) publish(ctx context.Context, r *run, eventType string, payload map[string]any) {
	if err := c.bus.PublishRealtime(ctx, eventType, r.incident.TenantID, payload); err != nil {
		r.logger.Warn("Realtime publish failed", "type", eventType, "error", err)
	}
}

func (c *Coordinator) audit(ctx context.Context, r *run, action string, details map[string]any) {
	if err := c.store.RecordAudit(ctx, &models.AuditLogEntry{
		Actor:        "coordinator",
		Action:       action,
		ResourceType: "incident",
		ResourceID:   r.incident.ID,
		Details:      details,
	}); err != nil {
		r.logger.Warn("Audit record failed", "action", action, "error", err)
	}
}

// numeric extracts a float from the loosely typed agent content values.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
