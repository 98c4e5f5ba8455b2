// Package executor runs approved response actions through integration
// connectors, honoring declared ordering, parallel groups, and
// dependencies, and supports incident-level rollback in reverse order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hornet-soc/hornet/pkg/models"
)

// ErrConnectorNotFound is returned when no connector handles an action type.
var ErrConnectorNotFound = errors.New("no connector for action type")

// ExecutionResult is what a connector reports back from one action.
type ExecutionResult struct {
	// RollbackHandle, when non-empty, lets Rollback undo this action later.
	RollbackHandle string
	// Evidence is connector-specific proof of what happened.
	Evidence map[string]any
}

// Connector is one integration driver (firewall, identity, EDR, ...).
// Implementations live outside the core; the executor only needs these
// four operations.
type Connector interface {
	// Type is the action type this connector serves.
	Type() string
	// Validate rejects an action before any side effect happens.
	Validate(ctx context.Context, action *models.Action) error
	// Execute performs the action.
	Execute(ctx context.Context, action *models.Action) (*ExecutionResult, error)
	// Rollback undoes a previously executed action by its handle.
	Rollback(ctx context.Context, handle string, action *models.Action) error
	// HealthCheck probes the connector's upstream.
	HealthCheck(ctx context.Context) error
}

// ConnectorRegistry holds connectors by action type.
type ConnectorRegistry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewConnectorRegistry creates an empty registry.
func NewConnectorRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{connectors: make(map[string]Connector)}
}

// Register adds a connector for its action type.
func (r *ConnectorRegistry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := c.Type()
	if t == "" {
		return errors.New("connector has no action type")
	}
	if _, exists := r.connectors[t]; exists {
		return fmt.Errorf("connector for %q already registered", t)
	}
	r.connectors[t] = c
	return nil
}

// Get returns the connector for an action type.
func (r *ConnectorRegistry) Get(actionType string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectorNotFound, actionType)
	}
	return c, nil
}

// Types returns the registered action types, sorted.
func (r *ConnectorRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connectors))
	for t := range r.connectors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HealthCheckAll probes every connector and returns failures by type.
func (r *ConnectorRegistry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	connectors := make(map[string]Connector, len(r.connectors))
	for t, c := range r.connectors {
		connectors[t] = c
	}
	r.mu.RUnlock()

	failures := map[string]error{}
	for t, c := range connectors {
		if err := c.HealthCheck(ctx); err != nil {
			failures[t] = err
		}
	}
	return failures
}

// isNotification reports whether an action type is notification-class:
// pure messaging, allowed to complete without a configured connector.
func isNotification(actionType string) bool {
	return actionType == "notify" || strings.HasPrefix(actionType, "notify_")
}
