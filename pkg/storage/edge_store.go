package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// EdgeStore persists edge agent registrations and the signed actions
// dispatched to them. Nonces are single-use: the unique constraint on
// edge_actions.nonce makes a replayed dispatch fail at insert.
type EdgeStore struct {
	s *Store
}

// RegisterAgent upserts an edge agent registration and marks it online.
func (st *EdgeStore) RegisterAgent(ctx context.Context, agent *models.EdgeAgent) error {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return ErrNoTenant
	}
	if agent.ID == "" {
		return NewValidationError("id", "agent id is required")
	}
	if agent.Hostname == "" {
		return NewValidationError("hostname", "hostname is required")
	}
	agent.TenantID = id.TenantID
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO edge_agents (id, tenant_id, hostname, version, capabilities, last_seen_at, is_online)
			VALUES ($1, $2, $3, $4, $5, now(), TRUE)
			ON CONFLICT (id) DO UPDATE
			SET hostname = EXCLUDED.hostname,
				version = EXCLUDED.version,
				capabilities = EXCLUDED.capabilities,
				last_seen_at = now(),
				is_online = TRUE`,
			agent.ID, agent.TenantID, agent.Hostname, agent.Version, agent.Capabilities,
		)
		if err != nil {
			return fmt.Errorf("register edge agent: %w", err)
		}
		return nil
	})
}

// Heartbeat advances an agent's last_seen_at and keeps it online.
func (st *EdgeStore) Heartbeat(ctx context.Context, agentID string) error {
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE edge_agents SET last_seen_at = now(), is_online = TRUE WHERE id = $1", agentID)
		if err != nil {
			return fmt.Errorf("edge heartbeat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MarkDisconnected flips an agent offline immediately, used when its
// WebSocket closes.
func (st *EdgeStore) MarkDisconnected(ctx context.Context, agentID string) error {
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"UPDATE edge_agents SET is_online = FALSE WHERE id = $1", agentID)
		if err != nil {
			return fmt.Errorf("mark edge agent disconnected: %w", err)
		}
		return nil
	})
}

// SweepStale marks agents offline whose heartbeats stopped more than
// staleAfter ago. System-level maintenance across all tenants; returns the
// number of agents flipped.
func (st *EdgeStore) SweepStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	swept := 0
	err := st.s.withSystem(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE edge_agents SET is_online = FALSE
			WHERE is_online AND last_seen_at < now() - $1::interval`,
			fmt.Sprintf("%d seconds", int(staleAfter.Seconds())))
		if err != nil {
			return fmt.Errorf("sweep stale edge agents: %w", err)
		}
		swept = int(tag.RowsAffected())
		return nil
	})
	return swept, err
}

// ListAgents returns the calling tenant's edge agents.
func (st *EdgeStore) ListAgents(ctx context.Context) ([]*models.EdgeAgent, error) {
	var out []*models.EdgeAgent
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, hostname, version, capabilities, last_seen_at, is_online
			FROM edge_agents ORDER BY hostname ASC`)
		if err != nil {
			return fmt.Errorf("list edge agents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var a models.EdgeAgent
			if err := rows.Scan(&a.ID, &a.TenantID, &a.Hostname, &a.Version,
				&a.Capabilities, &a.LastSeenAt, &a.IsOnline); err != nil {
				return fmt.Errorf("scan edge agent: %w", err)
			}
			out = append(out, &a)
		}
		return rows.Err()
	})
	return out, err
}

// CreateAction persists a signed action before it is dispatched. A reused
// nonce violates the unique constraint and surfaces as ErrAlreadyExists.
func (st *EdgeStore) CreateAction(ctx context.Context, a *models.EdgeAction) error {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return ErrNoTenant
	}
	if a.Nonce == "" || a.Signature == "" {
		return NewValidationError("nonce", "nonce and signature are required")
	}
	a.TenantID = id.TenantID
	a.Status = models.EdgeActionPending
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO edge_actions (action_id, tenant_id, incident_id, action_type,
				target, parameters, nonce, expires_at, signature, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'PENDING')`,
			a.ActionID, a.TenantID, a.IncidentID, a.ActionType,
			a.Target, a.Parameters, a.Nonce, a.ExpiresAt, a.Signature,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("create edge action: %w", err)
		}
		return nil
	})
}

// MarkSent records that the action went out over the channel.
func (st *EdgeStore) MarkSent(ctx context.Context, actionID string) error {
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE edge_actions SET status = 'SENT' WHERE action_id = $1 AND status = 'PENDING'",
			actionID)
		if err != nil {
			return fmt.Errorf("mark edge action sent: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ResolveAction records an agent's result for a dispatched action. The
// action must still be in flight and unexpired; the nonce must match the
// one issued at dispatch.
func (st *EdgeStore) ResolveAction(ctx context.Context, actionID, nonce string, success bool, result map[string]any) (*models.EdgeAction, error) {
	var resolved *models.EdgeAction
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		a, err := st.getLocked(ctx, tx, actionID)
		if err != nil {
			return err
		}
		if a.Nonce != nonce {
			return NewValidationError("nonce", "nonce does not match dispatched action")
		}
		switch a.Status {
		case models.EdgeActionPending, models.EdgeActionSent:
		default:
			return fmt.Errorf("%w: edge action already %s", ErrInvalidTransition, a.Status)
		}
		if time.Now().After(a.ExpiresAt) {
			_, err := tx.Exec(ctx,
				"UPDATE edge_actions SET status = 'EXPIRED' WHERE action_id = $1", actionID)
			if err != nil {
				return fmt.Errorf("expire edge action: %w", err)
			}
			return NewValidationError("expires_at", "edge action expired before the result arrived")
		}

		status := models.EdgeActionCompleted
		if !success {
			status = models.EdgeActionFailed
		}
		if _, err := tx.Exec(ctx,
			"UPDATE edge_actions SET status = $2, result = $3 WHERE action_id = $1",
			actionID, string(status), result,
		); err != nil {
			return fmt.Errorf("resolve edge action: %w", err)
		}
		a.Status = status
		a.Result = result
		resolved = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// ExpireActions flips overdue in-flight actions to EXPIRED. System-level
// maintenance; returns the number expired.
func (st *EdgeStore) ExpireActions(ctx context.Context) (int, error) {
	expired := 0
	err := st.s.withSystem(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE edge_actions SET status = 'EXPIRED'
			WHERE status IN ('PENDING', 'SENT') AND expires_at < now()`)
		if err != nil {
			return fmt.Errorf("expire edge actions: %w", err)
		}
		expired = int(tag.RowsAffected())
		return nil
	})
	return expired, err
}

func (st *EdgeStore) getLocked(ctx context.Context, tx pgx.Tx, actionID string) (*models.EdgeAction, error) {
	var a models.EdgeAction
	err := tx.QueryRow(ctx, `
		SELECT action_id, tenant_id, incident_id, action_type, target, parameters,
			nonce, expires_at, signature, status, result, created_at
		FROM edge_actions WHERE action_id = $1 FOR UPDATE`, actionID).Scan(
		&a.ActionID, &a.TenantID, &a.IncidentID, &a.ActionType, &a.Target, &a.Parameters,
		&a.Nonce, &a.ExpiresAt, &a.Signature, &a.Status, &a.Result, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock edge action: %w", err)
	}
	return &a, nil
}
