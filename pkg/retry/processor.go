// Package retry drains the outbound retry queue: claiming due jobs,
// invoking the handler registered for each job type, and walking failed
// jobs down the backoff ladder toward the dead-letter queue.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/metrics"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// Store is the persistence surface the processor needs.
type Store interface {
	ClaimDue(ctx context.Context, limit int, reclaimAfter time.Duration) ([]*models.RetryJob, error)
	MarkSucceeded(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, attemptErr string, backoff time.Duration, historyLimit int) (models.RetryStatus, error)
}

// Handler delivers one job. A nil return marks the job SUCCEEDED; any
// error schedules the next attempt or dead-letters the job.
type Handler func(ctx context.Context, job *models.RetryJob) error

// Processor polls for due jobs and dispatches them to handlers by job
// type. Multiple processors may run concurrently; claiming is atomic.
type Processor struct {
	cfg      *config.RetryConfig
	store    Store
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewProcessor creates a Processor with no handlers registered.
func NewProcessor(cfg *config.RetryConfig, store Store) *Processor {
	return &Processor{
		cfg:      cfg,
		store:    store,
		handlers: map[string]Handler{},
		logger:   slog.Default().With("component", "retry"),
	}
}

// Register binds a handler to a job type. Not safe to call after Run.
func (p *Processor) Register(jobType string, h Handler) {
	p.handlers[jobType] = h
}

// Run polls until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("Retry processor starting",
		"tick", p.cfg.TickInterval, "batch_size", p.cfg.BatchSize)
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Retry processor stopping")
			return ctx.Err()
		case <-ticker.C:
			if n, err := p.Tick(ctx); err != nil {
				p.logger.Error("Retry tick failed", "error", err)
			} else if n > 0 {
				p.logger.Debug("Retry tick complete", "processed", n)
			}
		}
	}
}

// Tick claims one batch of due jobs and processes them. Returns the
// number of jobs handled.
func (p *Processor) Tick(ctx context.Context) (int, error) {
	jobs, err := p.store.ClaimDue(ctx, p.cfg.BatchSize, p.cfg.ReclaimAfter)
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}
	for _, job := range jobs {
		p.process(ctx, job)
	}
	return len(jobs), nil
}

// process runs one claimed job under its owning tenant's scope.
func (p *Processor) process(ctx context.Context, job *models.RetryJob) {
	jobCtx := tenant.NewContext(ctx, &tenant.Identity{TenantID: job.TenantID})
	logger := p.logger.With("job_id", job.ID, "job_type", job.JobType,
		"tenant_id", job.TenantID, "attempt", job.Attempts+1)

	handler, ok := p.handlers[job.JobType]
	if !ok {
		// An unroutable job can never succeed; burn its attempts so it
		// reaches the DLQ instead of spinning forever.
		p.fail(jobCtx, logger, job, fmt.Sprintf("no handler for job type %q", job.JobType))
		return
	}

	handlerCtx, cancel := context.WithTimeout(jobCtx, p.cfg.HandlerTimeout)
	err := handler(handlerCtx, job)
	cancel()
	if err != nil {
		p.fail(jobCtx, logger, job, err.Error())
		return
	}

	if err := p.store.MarkSucceeded(jobCtx, job.ID); err != nil {
		logger.Error("Could not mark job succeeded", "error", err)
		return
	}
	metrics.RetryAttempts.WithLabelValues("success").Inc()
	logger.Info("Retry job delivered")
}

func (p *Processor) fail(ctx context.Context, logger *slog.Logger, job *models.RetryJob, reason string) {
	backoff := p.backoffFor(job.Attempts + 1)
	status, err := p.store.MarkFailed(ctx, job.ID, reason, backoff, p.cfg.ErrorHistoryLimit)
	if err != nil {
		logger.Error("Could not mark job failed", "error", err)
		return
	}
	if status == models.RetryDeadLettered {
		metrics.RetryAttempts.WithLabelValues("dead_lettered").Inc()
		logger.Warn("Retry job dead-lettered", "reason", reason)
		return
	}
	metrics.RetryAttempts.WithLabelValues("failure").Inc()
	logger.Warn("Retry attempt failed", "reason", reason, "next_in", backoff)
}

// backoffFor returns the delay before the attempt after attemptsSoFar.
// The ladder saturates at its last entry.
func (p *Processor) backoffFor(attemptsSoFar int) time.Duration {
	ladder := p.cfg.Backoff
	if len(ladder) == 0 {
		return time.Minute
	}
	if attemptsSoFar >= len(ladder) {
		return ladder[len(ladder)-1]
	}
	return ladder[attemptsSoFar]
}
