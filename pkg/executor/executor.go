package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/metrics"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/storage"
)

// Store is the persistence surface the executor needs.
type Store interface {
	UpdateActionStatus(ctx context.Context, actionID string, to models.ActionStatus, u storage.StatusUpdate) error
	CompletedActionsInReverse(ctx context.Context, incidentID string) ([]*models.Action, error)
	RecordAudit(ctx context.Context, e *models.AuditLogEntry) error
}

// Plan is an ordered execution request for one incident's approved
// actions. ParallelGroups are executed in slice order; within a group,
// actions run concurrently. Dependencies name predecessor action ids that
// must have completed successfully.
type Plan struct {
	Actions        []*models.Action
	ParallelGroups [][]string
	Dependencies   map[string][]string
}

// Result summarizes one plan run.
type Result struct {
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
	Blocked   []string `json:"blocked"`
}

// AllSucceeded reports whether every action completed.
func (r *Result) AllSucceeded() bool {
	return len(r.Failed) == 0 && len(r.Blocked) == 0
}

// Executor drives approved actions through connectors.
type Executor struct {
	cfg      *config.ExecutorConfig
	store    Store
	registry *ConnectorRegistry
	logger   *slog.Logger
}

// New creates an Executor.
func New(cfg *config.ExecutorConfig, store Store, registry *ConnectorRegistry) *Executor {
	return &Executor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		logger:   slog.Default().With("component", "executor"),
	}
}

// Execute runs a plan. Actions whose predecessors failed are skipped and
// recorded as blocked; a single action failure never cancels its peers in
// the same group.
func (e *Executor) Execute(ctx context.Context, incidentID string, plan *Plan) (*Result, error) {
	byID := make(map[string]*models.Action, len(plan.Actions))
	for _, a := range plan.Actions {
		byID[a.ID] = a
	}
	groups := plan.ParallelGroups
	if len(groups) == 0 {
		groups = sequentialGroups(plan.Actions)
	}

	var (
		mu        sync.Mutex
		completed = map[string]bool{}
		result    Result
	)

	for _, group := range groups {
		var runnable []*models.Action
		for _, id := range group {
			a, ok := byID[id]
			if !ok {
				continue
			}
			if blockedBy(plan.Dependencies[id], completed) {
				result.Blocked = append(result.Blocked, id)
				e.recordBlocked(ctx, a)
				continue
			}
			runnable = append(runnable, a)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, a := range runnable {
			g.Go(func() error {
				ok := e.executeOne(gctx, a)
				mu.Lock()
				if ok {
					completed[a.ID] = true
					result.Completed = append(result.Completed, a.ID)
				} else {
					result.Failed = append(result.Failed, a.ID)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return &result, err
		}
		if err := ctx.Err(); err != nil {
			return &result, err
		}
	}

	_ = e.store.RecordAudit(ctx, &models.AuditLogEntry{
		Actor:        "executor",
		Action:       "plan_executed",
		ResourceType: "incident",
		ResourceID:   incidentID,
		Details: map[string]any{
			"completed": len(result.Completed),
			"failed":    len(result.Failed),
			"blocked":   len(result.Blocked),
		},
	})
	return &result, nil
}

// executeOne drives one action through EXECUTING to a terminal status and
// reports success.
func (e *Executor) executeOne(ctx context.Context, a *models.Action) bool {
	log := e.logger.With("action_id", a.ID, "action_type", a.ActionType, "target", a.Target)

	if err := e.store.UpdateActionStatus(ctx, a.ID, models.ActionExecuting, storage.StatusUpdate{}); err != nil {
		log.Error("Could not mark action executing", "error", err)
		return false
	}

	conn, err := e.registry.Get(a.ActionType)
	if err != nil {
		if isNotification(a.ActionType) {
			// Notification-class actions complete without a connector.
			if err := e.store.UpdateActionStatus(ctx, a.ID, models.ActionCompleted, storage.StatusUpdate{
				Evidence: map[string]any{"delivered": "logged", "target": a.Target},
			}); err != nil {
				log.Error("Could not complete notification action", "error", err)
				return false
			}
			metrics.ActionsExecuted.WithLabelValues(string(models.ActionCompleted)).Inc()
			log.Info("Notification action completed without connector")
			return true
		}
		e.fail(ctx, a, fmt.Sprintf("no connector for action type %q", a.ActionType))
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	if err := conn.Validate(callCtx, a); err != nil {
		e.fail(ctx, a, fmt.Sprintf("validation failed: %v", err))
		return false
	}
	res, err := conn.Execute(callCtx, a)
	if err != nil {
		e.fail(ctx, a, fmt.Sprintf("execution failed: %v", err))
		return false
	}

	u := storage.StatusUpdate{}
	if res != nil {
		u.RollbackHandle = res.RollbackHandle
		u.Evidence = res.Evidence
	}
	if err := e.store.UpdateActionStatus(ctx, a.ID, models.ActionCompleted, u); err != nil {
		log.Error("Could not mark action completed", "error", err)
		return false
	}
	metrics.ActionsExecuted.WithLabelValues(string(models.ActionCompleted)).Inc()
	log.Info("Action completed", "rollback_handle", u.RollbackHandle != "")
	return true
}

func (e *Executor) fail(ctx context.Context, a *models.Action, reason string) {
	metrics.ActionsExecuted.WithLabelValues(string(models.ActionFailed)).Inc()
	e.logger.Warn("Action failed", "action_id", a.ID, "reason", reason)
	if err := e.store.UpdateActionStatus(ctx, a.ID, models.ActionFailed, storage.StatusUpdate{
		FailureReason: reason,
	}); err != nil {
		e.logger.Error("Could not mark action failed", "action_id", a.ID, "error", err)
	}
}

// recordBlocked marks a skipped action failed with its blocking reason.
// The ladder has no BLOCKED status; FAILED with a reason keeps the audit
// trail honest without widening the state space.
func (e *Executor) recordBlocked(ctx context.Context, a *models.Action) {
	e.logger.Warn("Action blocked by failed predecessor", "action_id", a.ID)
	if err := e.store.UpdateActionStatus(ctx, a.ID, models.ActionExecuting, storage.StatusUpdate{}); err != nil {
		e.logger.Error("Could not mark blocked action executing", "action_id", a.ID, "error", err)
		return
	}
	if err := e.store.UpdateActionStatus(ctx, a.ID, models.ActionFailed, storage.StatusUpdate{
		FailureReason: "blocked: predecessor did not complete",
	}); err != nil {
		e.logger.Error("Could not mark blocked action failed", "action_id", a.ID, "error", err)
	}
}

// RollbackIncident undoes an incident's completed actions in reverse
// execution order. Actions without a rollback handle are not returned by
// the store and are left untouched.
func (e *Executor) RollbackIncident(ctx context.Context, incidentID string) (int, error) {
	actions, err := e.store.CompletedActionsInReverse(ctx, incidentID)
	if err != nil {
		return 0, fmt.Errorf("load completed actions: %w", err)
	}

	rolled := 0
	for _, a := range actions {
		conn, err := e.registry.Get(a.ActionType)
		if err != nil {
			e.logger.Warn("No connector to roll back action",
				"action_id", a.ID, "action_type", a.ActionType)
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		err = conn.Rollback(callCtx, a.RollbackHandle, a)
		cancel()
		if err != nil {
			// Keep walking: a failed rollback must not strand the rest.
			e.logger.Error("Rollback failed", "action_id", a.ID, "error", err)
			continue
		}
		if err := e.store.UpdateActionStatus(ctx, a.ID, models.ActionRolledBack, storage.StatusUpdate{}); err != nil {
			e.logger.Error("Could not mark action rolled back", "action_id", a.ID, "error", err)
			continue
		}
		metrics.ActionsExecuted.WithLabelValues(string(models.ActionRolledBack)).Inc()
		rolled++
	}

	_ = e.store.RecordAudit(ctx, &models.AuditLogEntry{
		Actor:        "executor",
		Action:       "incident_rolled_back",
		ResourceType: "incident",
		ResourceID:   incidentID,
		Details:      map[string]any{"actions_rolled_back": rolled},
	})
	return rolled, nil
}

// blockedBy reports whether any predecessor has not completed.
func blockedBy(preds []string, completed map[string]bool) bool {
	for _, p := range preds {
		if !completed[p] {
			return true
		}
	}
	return false
}

// sequentialGroups derives singleton groups from proposal order when the
// proposal declared no parallel groups.
func sequentialGroups(actions []*models.Action) [][]string {
	sorted := append([]*models.Action(nil), actions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	out := make([][]string, 0, len(sorted))
	for _, a := range sorted {
		out = append(out, []string{a.ID})
	}
	return out
}
