package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hornet-soc/hornet/pkg/executor"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/realtime"
	"github.com/hornet-soc/hornet/pkg/retry"
	"github.com/hornet-soc/hornet/pkg/storage"
)

// webhookNotifyConnector delivers notify_webhook actions through the
// retry queue instead of calling the endpoint inline, so a flaky receiver
// never stalls an execution phase.
type webhookNotifyConnector struct {
	jobs *storage.RetryStore
}

func (c *webhookNotifyConnector) Type() string { return "notify_webhook" }

func (c *webhookNotifyConnector) Validate(ctx context.Context, a *models.Action) error {
	u, err := url.Parse(a.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target %q is not an http(s) URL", a.Target)
	}
	return nil
}

func (c *webhookNotifyConnector) Execute(ctx context.Context, a *models.Action) (*executor.ExecutionResult, error) {
	jobID, err := c.jobs.Enqueue(ctx, &models.RetryJob{
		JobType: retry.JobTypeWebhook,
		Target:  a.Target,
		Payload: map[string]any{
			"incident_id": a.IncidentID,
			"action_id":   a.ID,
			"action_type": a.ActionType,
			"parameters":  a.Parameters,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue webhook delivery: %w", err)
	}
	return &executor.ExecutionResult{
		Evidence: map[string]any{"retry_job_id": jobID},
	}, nil
}

func (c *webhookNotifyConnector) Rollback(ctx context.Context, handle string, a *models.Action) error {
	// A sent notification cannot be recalled.
	return nil
}

func (c *webhookNotifyConnector) HealthCheck(ctx context.Context) error { return nil }

// edgeHostConnector routes isolate_host actions to the edge agent running
// on the target host. The action travels signed over the agent's WebSocket
// and the handle lets a later rollback send the release.
type edgeHostConnector struct {
	hub *realtime.EdgeHub
}

func (c *edgeHostConnector) Type() string { return "isolate_host" }

func (c *edgeHostConnector) Validate(ctx context.Context, a *models.Action) error {
	if a.Target == "" {
		return fmt.Errorf("isolate_host requires a target host")
	}
	return nil
}

func (c *edgeHostConnector) Execute(ctx context.Context, a *models.Action) (*executor.ExecutionResult, error) {
	edgeAction := &models.EdgeAction{
		IncidentID: a.IncidentID,
		ActionType: a.ActionType,
		Target:     a.Target,
		Parameters: a.Parameters,
	}
	if err := c.hub.Dispatch(ctx, a.Target, edgeAction); err != nil {
		return nil, fmt.Errorf("dispatch to edge agent %q: %w", a.Target, err)
	}
	return &executor.ExecutionResult{
		RollbackHandle: edgeAction.ActionID,
		Evidence:       map[string]any{"edge_action_id": edgeAction.ActionID},
	}, nil
}

func (c *edgeHostConnector) Rollback(ctx context.Context, handle string, a *models.Action) error {
	release := &models.EdgeAction{
		IncidentID: a.IncidentID,
		ActionType: "release_host",
		Target:     a.Target,
		Parameters: map[string]any{"isolation_action_id": handle},
	}
	if err := c.hub.Dispatch(ctx, a.Target, release); err != nil {
		return fmt.Errorf("dispatch release to edge agent %q: %w", a.Target, err)
	}
	return nil
}

func (c *edgeHostConnector) HealthCheck(ctx context.Context) error { return nil }
