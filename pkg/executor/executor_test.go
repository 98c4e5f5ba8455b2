package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/storage"
)

type actionRecord struct {
	status  models.ActionStatus
	update  storage.StatusUpdate
	history []models.ActionStatus
}

type memActionStore struct {
	mu      sync.Mutex
	actions map[string]*actionRecord
	reverse []*models.Action
	audit   []*models.AuditLogEntry
}

func newMemActionStore(ids ...string) *memActionStore {
	s := &memActionStore{actions: map[string]*actionRecord{}}
	for _, id := range ids {
		s.actions[id] = &actionRecord{status: models.ActionApproved}
	}
	return s
}

func (s *memActionStore) UpdateActionStatus(ctx context.Context, actionID string, to models.ActionStatus, u storage.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.actions[actionID]
	if !ok {
		return storage.ErrNotFound
	}
	if !models.CanTransitionAction(rec.status, to) {
		return storage.ErrInvalidTransition
	}
	rec.status = to
	rec.update = u
	rec.history = append(rec.history, to)
	return nil
}

func (s *memActionStore) CompletedActionsInReverse(ctx context.Context, incidentID string) ([]*models.Action, error) {
	return s.reverse, nil
}

func (s *memActionStore) RecordAudit(ctx context.Context, e *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *memActionStore) status(id string) models.ActionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actions[id].status
}

type fakeConnector struct {
	actionType string
	execErr    error
	handle     string

	mu         sync.Mutex
	executed   []string
	rolledBack []string
}

func (c *fakeConnector) Type() string { return c.actionType }

func (c *fakeConnector) Validate(ctx context.Context, a *models.Action) error { return nil }

func (c *fakeConnector) Execute(ctx context.Context, a *models.Action) (*ExecutionResult, error) {
	c.mu.Lock()
	c.executed = append(c.executed, a.ID)
	c.mu.Unlock()
	if c.execErr != nil {
		return nil, c.execErr
	}
	return &ExecutionResult{RollbackHandle: c.handle, Evidence: map[string]any{"ok": true}}, nil
}

func (c *fakeConnector) Rollback(ctx context.Context, handle string, a *models.Action) error {
	c.mu.Lock()
	c.rolledBack = append(c.rolledBack, a.ID)
	c.mu.Unlock()
	return nil
}

func (c *fakeConnector) HealthCheck(ctx context.Context) error { return nil }

func action(id, actionType string, order int) *models.Action {
	return &models.Action{
		ID:         id,
		ActionType: actionType,
		Status:     models.ActionApproved,
		Order:      order,
	}
}

func newExecutor(t *testing.T, store Store, connectors ...Connector) *Executor {
	t.Helper()
	reg := NewConnectorRegistry()
	for _, c := range connectors {
		require.NoError(t, reg.Register(c))
	}
	return New(config.DefaultExecutorConfig(), store, reg)
}

func TestExecutePlanRespectsGroupsAndDependencies(t *testing.T) {
	store := newMemActionStore("a-1", "a-2", "a-3")
	fw := &fakeConnector{actionType: "block_ip", handle: "fw-123"}
	ex := newExecutor(t, store, fw)

	plan := &Plan{
		Actions: []*models.Action{
			action("a-1", "block_ip", 0),
			action("a-2", "block_ip", 1),
			action("a-3", "notify", 2),
		},
		ParallelGroups: [][]string{{"a-1", "a-2"}, {"a-3"}},
		Dependencies:   map[string][]string{"a-3": {"a-1", "a-2"}},
	}

	res, err := ex.Execute(context.Background(), "inc-1", plan)
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded())
	assert.ElementsMatch(t, []string{"a-1", "a-2", "a-3"}, res.Completed)
	assert.Equal(t, models.ActionCompleted, store.status("a-1"))
	assert.Equal(t, models.ActionCompleted, store.status("a-3"))
	assert.Equal(t, "fw-123", store.actions["a-1"].update.RollbackHandle)
}

func TestFailedPredecessorBlocksDependents(t *testing.T) {
	store := newMemActionStore("a-1", "a-2")
	fw := &fakeConnector{actionType: "block_ip", execErr: errors.New("firewall unreachable")}
	ex := newExecutor(t, store, fw)

	plan := &Plan{
		Actions: []*models.Action{
			action("a-1", "block_ip", 0),
			action("a-2", "notify", 1),
		},
		ParallelGroups: [][]string{{"a-1"}, {"a-2"}},
		Dependencies:   map[string][]string{"a-2": {"a-1"}},
	}

	res, err := ex.Execute(context.Background(), "inc-1", plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1"}, res.Failed)
	assert.Equal(t, []string{"a-2"}, res.Blocked)
	assert.Equal(t, models.ActionFailed, store.status("a-1"))
	assert.Equal(t, models.ActionFailed, store.status("a-2"))
	assert.Contains(t, store.actions["a-2"].update.FailureReason, "blocked")
}

func TestPeerFailureDoesNotCancelGroup(t *testing.T) {
	store := newMemActionStore("bad", "good")
	ex := newExecutor(t, store,
		&fakeConnector{actionType: "isolate_host", execErr: errors.New("edr 500")},
		&fakeConnector{actionType: "block_ip", handle: "fw-1"},
	)

	plan := &Plan{
		Actions: []*models.Action{
			action("bad", "isolate_host", 0),
			action("good", "block_ip", 1),
		},
		ParallelGroups: [][]string{{"bad", "good"}},
	}

	res, err := ex.Execute(context.Background(), "inc-1", plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, res.Failed)
	assert.Equal(t, []string{"good"}, res.Completed)
}

func TestNotificationCompletesWithoutConnector(t *testing.T) {
	store := newMemActionStore("n-1")
	ex := newExecutor(t, store)

	res, err := ex.Execute(context.Background(), "inc-1", &Plan{
		Actions: []*models.Action{action("n-1", "notify", 0)},
	})
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded())
	assert.Equal(t, models.ActionCompleted, store.status("n-1"))
}

func TestNonNotificationWithoutConnectorFails(t *testing.T) {
	store := newMemActionStore("a-1")
	ex := newExecutor(t, store)

	res, err := ex.Execute(context.Background(), "inc-1", &Plan{
		Actions: []*models.Action{action("a-1", "detonate", 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-1"}, res.Failed)
	assert.Contains(t, store.actions["a-1"].update.FailureReason, "no connector")
}

func TestRollbackIncidentWalksReverse(t *testing.T) {
	store := newMemActionStore()
	store.actions["a-1"] = &actionRecord{status: models.ActionCompleted}
	store.actions["a-2"] = &actionRecord{status: models.ActionCompleted}
	// Reverse execution order: a-2 executed last, rolls back first.
	store.reverse = []*models.Action{
		{ID: "a-2", ActionType: "block_ip", RollbackHandle: "h-2", Status: models.ActionCompleted},
		{ID: "a-1", ActionType: "block_ip", RollbackHandle: "h-1", Status: models.ActionCompleted},
	}
	fw := &fakeConnector{actionType: "block_ip"}
	ex := newExecutor(t, store, fw)

	n, err := ex.RollbackIncident(context.Background(), "inc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a-2", "a-1"}, fw.rolledBack)
	assert.Equal(t, models.ActionRolledBack, store.status("a-1"))
	assert.Equal(t, models.ActionRolledBack, store.status("a-2"))
}
