package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// RetryStore persists outbound retry jobs and the dead-letter queue.
type RetryStore struct {
	s *Store
}

const retryColumns = `id, tenant_id, job_type, target, payload, attempts,
	max_attempts, status, next_attempt, error_history, created_at, updated_at`

// Enqueue inserts a new PENDING job scheduled immediately.
func (st *RetryStore) Enqueue(ctx context.Context, job *models.RetryJob) (string, error) {
	id, err := tenant.FromContext(ctx)
	if err != nil {
		return "", ErrNoTenant
	}
	if job.JobType == "" {
		return "", NewValidationError("job_type", "job type is required")
	}
	job.ID = uuid.New().String()
	job.TenantID = id.TenantID
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 5
	}

	err = st.s.withTenant(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO retry_jobs (id, tenant_id, job_type, target, payload, max_attempts, status, next_attempt)
			VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', now())`,
			job.ID, job.TenantID, job.JobType, job.Target, job.Payload, job.MaxAttempts,
		)
		if err != nil {
			return fmt.Errorf("enqueue retry job: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// ClaimDue atomically claims up to limit due jobs, marking them RETRYING.
// PENDING jobs whose next_attempt has passed are due; so are RETRYING jobs
// untouched for longer than reclaimAfter, orphaned by a processor that
// crashed between claiming and recording the outcome. Claimed rows are
// skipped by concurrent processors (FOR UPDATE SKIP LOCKED). System-level:
// scans all tenants.
func (st *RetryStore) ClaimDue(ctx context.Context, limit int, reclaimAfter time.Duration) ([]*models.RetryJob, error) {
	if limit <= 0 || limit > 10 {
		limit = 10
	}
	if reclaimAfter <= 0 {
		reclaimAfter = 5 * time.Minute
	}
	var out []*models.RetryJob
	// Runs under the system scope: the processor serves every tenant, and
	// handlers re-enter per-tenant scope using the claimed job's tenant_id.
	err := st.s.withSystem(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+retryColumns+` FROM retry_jobs
			WHERE (status = 'PENDING' AND next_attempt <= now())
			   OR (status = 'RETRYING' AND updated_at < now() - $2::interval)
			ORDER BY next_attempt ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit,
			fmt.Sprintf("%d seconds", int(reclaimAfter.Seconds())))
		if err != nil {
			return fmt.Errorf("claim due jobs: %w", err)
		}
		for rows.Next() {
			job, err := scanRetryJob(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out = append(out, job)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, job := range out {
			if _, err := tx.Exec(ctx,
				"UPDATE retry_jobs SET status = 'RETRYING', updated_at = now() WHERE id = $1",
				job.ID,
			); err != nil {
				return fmt.Errorf("mark retrying: %w", err)
			}
			job.Status = models.RetryRetrying
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSucceeded records a successful delivery.
func (st *RetryStore) MarkSucceeded(ctx context.Context, jobID string) error {
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE retry_jobs
			SET status = 'SUCCEEDED', attempts = attempts + 1, updated_at = now()
			WHERE id = $1`, jobID)
		if err != nil {
			return fmt.Errorf("mark succeeded: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MarkFailed records a failed attempt: appends to the bounded error
// history, advances next_attempt by backoff, and either requeues the job
// or moves it to the DLQ once attempts reach max_attempts.
func (st *RetryStore) MarkFailed(ctx context.Context, jobID string, attemptErr string, backoff time.Duration, historyLimit int) (models.RetryStatus, error) {
	var status models.RetryStatus
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		job, err := st.getLocked(ctx, tx, jobID)
		if err != nil {
			return err
		}

		job.Attempts++
		job.ErrorHistory = append(job.ErrorHistory, models.RetryError{
			Attempt:   job.Attempts,
			Error:     attemptErr,
			Timestamp: time.Now().UTC(),
		})
		if historyLimit > 0 && len(job.ErrorHistory) > historyLimit {
			job.ErrorHistory = job.ErrorHistory[len(job.ErrorHistory)-historyLimit:]
		}

		history, err := json.Marshal(job.ErrorHistory)
		if err != nil {
			return fmt.Errorf("marshal error history: %w", err)
		}

		if job.Attempts >= job.MaxAttempts {
			status = models.RetryDeadLettered
			_, err = tx.Exec(ctx, `
				UPDATE retry_jobs
				SET status = 'DEAD_LETTERED', attempts = $2, error_history = $3, updated_at = now()
				WHERE id = $1`, jobID, job.Attempts, history)
		} else {
			status = models.RetryPending
			_, err = tx.Exec(ctx, `
				UPDATE retry_jobs
				SET status = 'PENDING', attempts = $2, error_history = $3,
					next_attempt = now() + $4::interval, updated_at = now()
				WHERE id = $1`, jobID, job.Attempts, history,
				fmt.Sprintf("%d seconds", int(backoff.Seconds())))
		}
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return nil
	})
	return status, err
}

// ListDLQ returns dead-lettered jobs for the calling tenant, newest first.
func (st *RetryStore) ListDLQ(ctx context.Context, limit int) ([]*models.RetryJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*models.RetryJob
	err := st.s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+retryColumns+` FROM retry_jobs
			WHERE status = 'DEAD_LETTERED'
			ORDER BY updated_at DESC LIMIT $1`, limit)
		if err != nil {
			return fmt.Errorf("list dlq: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			job, err := scanRetryJob(rows)
			if err != nil {
				return err
			}
			out = append(out, job)
		}
		return rows.Err()
	})
	return out, err
}

// Replay resets a dead-lettered job: attempts 0, empty error history,
// PENDING, scheduled immediately.
func (st *RetryStore) Replay(ctx context.Context, jobID string) error {
	return st.s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE retry_jobs
			SET status = 'PENDING', attempts = 0, error_history = '[]',
				next_attempt = now(), updated_at = now()
			WHERE id = $1 AND status = 'DEAD_LETTERED'`, jobID)
		if err != nil {
			return fmt.Errorf("replay job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CountDLQ returns the dead-letter queue depth across all tenants.
// System-level; feeds the DLQ depth gauge.
func (st *RetryStore) CountDLQ(ctx context.Context) (int, error) {
	count := 0
	err := st.s.withSystem(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			"SELECT count(*) FROM retry_jobs WHERE status = 'DEAD_LETTERED'").Scan(&count)
		if err != nil {
			return fmt.Errorf("count dlq: %w", err)
		}
		return nil
	})
	return count, err
}

// PurgeDLQ deletes dead-lettered jobs older than the retention period.
// System-level maintenance across all tenants.
func (st *RetryStore) PurgeDLQ(ctx context.Context, retention time.Duration) (int, error) {
	purged := 0
	err := st.s.withSystem(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM retry_jobs
			WHERE status = 'DEAD_LETTERED' AND updated_at < now() - $1::interval`,
			fmt.Sprintf("%d seconds", int(retention.Seconds())))
		if err != nil {
			return fmt.Errorf("purge dlq: %w", err)
		}
		purged = int(tag.RowsAffected())
		return nil
	})
	return purged, err
}

func (st *RetryStore) getLocked(ctx context.Context, tx pgx.Tx, jobID string) (*models.RetryJob, error) {
	row := tx.QueryRow(ctx, "SELECT "+retryColumns+" FROM retry_jobs WHERE id = $1 FOR UPDATE", jobID)
	job, err := scanRetryJob(row)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanRetryJob(row rowScanner) (*models.RetryJob, error) {
	var (
		job     models.RetryJob
		history []byte
	)
	err := row.Scan(
		&job.ID, &job.TenantID, &job.JobType, &job.Target, &job.Payload,
		&job.Attempts, &job.MaxAttempts, &job.Status, &job.NextAttempt,
		&history, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan retry job: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &job.ErrorHistory); err != nil {
			return nil, fmt.Errorf("decode error history: %w", err)
		}
	}
	return &job, nil
}
