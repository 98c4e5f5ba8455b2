package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// ActionStore persists response actions. Status changes go through the
// legal ladder only; UpdateStatus rejects anything else.
type ActionStore struct {
	s *Store
}

const actionColumns = `id, incident_id, tenant_id, action_type, target,
	parameters, risk_level, status, execution_order, proposed_at, approved_at,
	executed_at, rollback_handle, evidence, failure_reason`

// Create inserts a batch of actions for an incident in PROPOSED status.
func (st *ActionStore) Create(ctx context.Context, incidentID string, actions []*models.Action) error {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return ErrNoTenant
	}
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		for _, a := range actions {
			if a.ID == "" {
				a.ID = uuid.New().String()
			}
			a.IncidentID = incidentID
			a.TenantID = id.TenantID
			a.Status = models.ActionProposed
			if _, err := tx.Exec(ctx, `
				INSERT INTO actions (id, incident_id, tenant_id, action_type, target,
					parameters, risk_level, status, execution_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				a.ID, a.IncidentID, a.TenantID, a.ActionType, a.Target,
				a.Parameters, string(a.RiskLevel), string(a.Status), a.Order,
			); err != nil {
				return fmt.Errorf("insert action: %w", err)
			}
		}
		return nil
	})
}

// StatusUpdate carries the optional fields of a status change.
type StatusUpdate struct {
	RollbackHandle string
	Evidence       map[string]any
	FailureReason  string
}

// UpdateStatus advances an action along the status ladder. The current
// status is read and checked inside the same transaction so concurrent
// updates cannot skip states.
func (st *ActionStore) UpdateStatus(ctx context.Context, actionID string, to models.ActionStatus, u StatusUpdate) error {
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		var current models.ActionStatus
		err := tx.QueryRow(ctx, "SELECT status FROM actions WHERE id = $1 FOR UPDATE", actionID).
			Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock action: %w", err)
		}
		if !models.CanTransitionAction(current, to) {
			return fmt.Errorf("%w: action %s → %s", ErrInvalidTransition, current, to)
		}

		set := "status = $2"
		args := []any{actionID, string(to)}
		add := func(col string, v any) {
			args = append(args, v)
			set += fmt.Sprintf(", %s = $%d", col, len(args))
		}
		switch to {
		case models.ActionApproved:
			set += ", approved_at = now()"
		case models.ActionExecuting:
			set += ", executed_at = now()"
		}
		if u.RollbackHandle != "" {
			add("rollback_handle", u.RollbackHandle)
		}
		if u.Evidence != nil {
			add("evidence", u.Evidence)
		}
		if u.FailureReason != "" {
			add("failure_reason", u.FailureReason)
		}

		if _, err := tx.Exec(ctx, "UPDATE actions SET "+set+" WHERE id = $1", args...); err != nil {
			return fmt.Errorf("update action status: %w", err)
		}
		return nil
	})
}

// Get returns one action.
func (st *ActionStore) Get(ctx context.Context, actionID string) (*models.Action, error) {
	var a *models.Action
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, "SELECT "+actionColumns+" FROM actions WHERE id = $1", actionID)
		var err error
		a, err = scanAction(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByIncident returns an incident's actions in proposal order.
func (st *ActionStore) ListByIncident(ctx context.Context, incidentID string) ([]*models.Action, error) {
	var out []*models.Action
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT "+actionColumns+" FROM actions WHERE incident_id = $1 ORDER BY execution_order ASC, proposed_at ASC",
			incidentID)
		if err != nil {
			return fmt.Errorf("list actions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAction(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// CompletedInReverse returns COMPLETED actions with rollback handles,
// newest execution first, the order incident rollback walks them.
func (st *ActionStore) CompletedInReverse(ctx context.Context, incidentID string) ([]*models.Action, error) {
	var out []*models.Action
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+actionColumns+` FROM actions
			WHERE incident_id = $1 AND status = 'COMPLETED' AND rollback_handle IS NOT NULL
			ORDER BY executed_at DESC`, incidentID)
		if err != nil {
			return fmt.Errorf("list completed actions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAction(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func scanAction(row rowScanner) (*models.Action, error) {
	var (
		a              models.Action
		approvedAt     *time.Time
		executedAt     *time.Time
		rollbackHandle *string
		failureReason  *string
	)
	err := row.Scan(
		&a.ID, &a.IncidentID, &a.TenantID, &a.ActionType, &a.Target,
		&a.Parameters, &a.RiskLevel, &a.Status, &a.Order, &a.ProposedAt,
		&approvedAt, &executedAt, &rollbackHandle, &a.Evidence, &failureReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan action: %w", err)
	}
	a.ApprovedAt = approvedAt
	a.ExecutedAt = executedAt
	if rollbackHandle != nil {
		a.RollbackHandle = *rollbackHandle
	}
	if failureReason != nil {
		a.FailureReason = *failureReason
	}
	return &a, nil
}
