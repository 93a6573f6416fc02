package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/google/uuid"
)

// Enqueue inserts a QUEUED job for (run, stage). The unique constraint on
// (correlation_id, stage) makes a duplicated advance signal a no-op instead
// of a second attempt series.
func (s *Storage) Enqueue(ctx context.Context, correlationID string, stage domain.Stage, triggerType string, scheduledAt time.Time) (string, error) {
	query := `
		INSERT INTO jobs (job_id, correlation_id, stage, trigger_type, status, max_attempts, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (correlation_id, stage) DO NOTHING
	`

	jobID := uuid.New().String()
	res, err := s.db.ExecContext(ctx, query,
		jobID, correlationID, string(stage), triggerType,
		domain.JobStatusQueued, domain.DefaultMaxAttempts, scheduledAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		s.logger.Warn("Stage job already enqueued, skipping",
			slog.String("correlation_id", correlationID),
			slog.String("stage", string(stage)),
		)
		return "", nil
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.String("correlation_id", correlationID),
		slog.String("stage", string(stage)),
	)

	return jobID, nil
}

// ClaimBatch atomically transitions up to limit eligible jobs to RUNNING and
// stamps this worker as the lock owner. The transition happens in a single
// conditional update over a locked subselect, so two concurrent dispatchers
// can never both win the same row; each caller gets back only the rows it
// actually claimed.
func (s *Storage) ClaimBatch(ctx context.Context, limit int, now time.Time, lockOwner string) ([]domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1, locked_at = $2, lock_owner = $3, updated_at = NOW()
		WHERE job_id IN (
			SELECT job_id FROM jobs
			WHERE status = $4 AND scheduled_at <= $2
			ORDER BY scheduled_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, correlation_id, stage, trigger_type, status, attempts, max_attempts,
		          scheduled_at, locked_at, lock_owner, last_error, created_at, updated_at
	`

	rows, err := s.db.QueryxContext(ctx, query,
		domain.JobStatusRunning, now, lockOwner, domain.JobStatusQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var job domain.Job
		if err := rows.StructScan(&job); err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed jobs: %w", err)
	}

	if len(jobs) > 0 {
		s.logger.Info("Jobs claimed",
			slog.Int("count", len(jobs)),
			slog.String("lock_owner", lockOwner),
		)
	}

	return jobs, nil
}

// CompleteJob finishes a job and releases its lock. Attempts are incremented
// at outcome time, not claim time, so an execution cut short by a crash and
// later reaped never consumes an attempt.
func (s *Storage) CompleteJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1, attempts = attempts + 1, locked_at = NULL, lock_owner = NULL, updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

// RetryOrFail records a failed attempt. While attempts remain, the job goes
// back to QUEUED with scheduled_at pushed out by delay; once exhausted it
// becomes ERROR. The lock is released either way. Returns true when the job
// has failed for good. Only a RUNNING row can take the outcome: a worker
// whose claim was reaped and re-won by another dispatcher must not reopen a
// job that dispatcher already finished, so its late report matches no row and
// comes back as ErrJobNotFound.
func (s *Storage) RetryOrFail(ctx context.Context, jobID, errMsg string, retryAt time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET attempts = attempts + 1,
		    last_error = $1,
		    status = CASE WHEN attempts + 1 < max_attempts THEN $2 ELSE $3 END,
		    scheduled_at = CASE WHEN attempts + 1 < max_attempts THEN $4 ELSE scheduled_at END,
		    locked_at = NULL,
		    lock_owner = NULL,
		    updated_at = NOW()
		WHERE job_id = $5 AND status = $6
		RETURNING status, attempts
	`

	var status string
	var attempts int
	err := s.db.QueryRowContext(ctx, query,
		errMsg, domain.JobStatusQueued, domain.JobStatusError, retryAt, jobID, domain.JobStatusRunning,
	).Scan(&status, &attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrJobNotFound
		}
		return false, fmt.Errorf("failed to record job failure: %w", err)
	}

	failed := status == domain.JobStatusError
	if failed {
		s.logger.Warn("Job exhausted its attempts",
			slog.String("job_id", jobID),
			slog.Int("attempts", attempts),
			slog.String("error", errMsg),
		)
	} else {
		s.logger.Info("Job rescheduled",
			slog.String("job_id", jobID),
			slog.Int("attempts", attempts),
			slog.Time("retry_at", retryAt),
		)
	}

	return failed, nil
}

// FailJob terminally fails a job without consuming the remaining attempts,
// for permanent business-rule violations that retrying cannot fix. Like
// CompleteJob and RetryOrFail it only applies to a RUNNING row: a late report
// for a job another dispatcher already settled is returned as ErrJobNotFound
// instead of overwriting the settled outcome.
func (s *Storage) FailJob(ctx context.Context, jobID, errMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1, last_error = $2, attempts = attempts + 1,
		    locked_at = NULL, lock_owner = NULL, updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusError, errMsg, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

// ReapStuck returns jobs abandoned by a crashed worker to QUEUED: rows still
// RUNNING whose lock is older than the liveness threshold. Attempts are left
// untouched because the work was never proven to finish or fail.
func (s *Storage) ReapStuck(ctx context.Context, livenessThreshold time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-livenessThreshold)

	query := `
		UPDATE jobs
		SET status = $1, locked_at = NULL, lock_owner = NULL, updated_at = NOW()
		WHERE status = $2 AND locked_at < $3
		RETURNING job_id
	`

	rows, err := s.db.QueryContext(ctx, query, domain.JobStatusQueued, domain.JobStatusRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to reap stuck jobs: %w", err)
	}
	defer rows.Close()

	var reaped []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reaped job: %w", err)
		}
		reaped = append(reaped, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reaped jobs: %w", err)
	}

	if len(reaped) > 0 {
		s.logger.Warn("Reaped stuck jobs",
			slog.Int("count", len(reaped)),
			slog.Duration("liveness_threshold", livenessThreshold),
		)
	}

	return reaped, nil
}

// ResetJob is the operator escape hatch: it forces a RUNNING or ERROR job
// back to QUEUED, clearing its lock and making it immediately eligible.
// Completed jobs stay immutable. Resetting the job of a terminally failed run
// also returns that run to RUNNING in the same transaction; otherwise the
// dispatcher would see a terminal run and refuse to execute the stage again.
func (s *Storage) ResetJob(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	jobQuery := `
		UPDATE jobs
		SET status = $1, locked_at = NULL, lock_owner = NULL, scheduled_at = NOW(), updated_at = NOW()
		WHERE job_id = $2 AND status IN ($3, $4)
		RETURNING correlation_id
	`

	var correlationID string
	err = tx.QueryRowContext(ctx, jobQuery,
		domain.JobStatusQueued, jobID, domain.JobStatusRunning, domain.JobStatusError,
	).Scan(&correlationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to reset job: %w", err)
	}

	runQuery := `
		UPDATE runs
		SET status = $1, last_error = '', updated_at = NOW()
		WHERE correlation_id = $2 AND status = $3
	`

	if _, err := tx.ExecContext(ctx, runQuery,
		domain.RunStatusRunning, correlationID, domain.RunStatusError,
	); err != nil {
		return fmt.Errorf("failed to reopen run for reset job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job reset: %w", err)
	}

	s.logger.Warn("Job manually reset",
		slog.String("job_id", jobID),
		slog.String("correlation_id", correlationID),
	)

	return nil
}

// GetJob fetches a job by id.
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, correlation_id, stage, trigger_type, status, attempts, max_attempts,
		       scheduled_at, locked_at, lock_owner, last_error, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobsByRun returns every job of a run in pipeline order of creation.
func (s *Storage) ListJobsByRun(ctx context.Context, correlationID string) ([]domain.Job, error) {
	query := `
		SELECT job_id, correlation_id, stage, trigger_type, status, attempts, max_attempts,
		       scheduled_at, locked_at, lock_owner, last_error, created_at, updated_at
		FROM jobs
		WHERE correlation_id = $1
		ORDER BY created_at ASC
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, correlationID); err != nil {
		return nil, fmt.Errorf("failed to list jobs for run: %w", err)
	}

	return jobs, nil
}

// CountJobsByStatus returns job counts keyed by status.
func (s *Storage) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
