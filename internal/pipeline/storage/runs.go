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

// FindOrCreateRun resolves a trigger occurrence to its Run, creating the Run
// and its first-stage Job atomically when it is new. Re-delivery of the same
// (trigger_type, resource_id) returns the existing Run and enqueues nothing.
// The boolean is true when an existing Run was reused.
//
// Concurrent delivery of the same event is absorbed by the unique constraint
// on (trigger_type, resource_id); this is an upsert, not check-then-insert.
func (s *Storage) FindOrCreateRun(ctx context.Context, triggerType, resourceID, payload string) (*domain.Run, bool, error) {
	correlationID := domain.CorrelationID(triggerType, resourceID)
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	insertRun := `
		INSERT INTO runs (correlation_id, trigger_type, resource_id, payload, stage, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (trigger_type, resource_id) DO NOTHING
	`

	res, err := tx.ExecContext(ctx, insertRun,
		correlationID, triggerType, resourceID, payload,
		string(domain.InitialStage), domain.RunStatusPending, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert run: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted == 0 {
		// Re-delivery: hand back the original run untouched.
		if err := tx.Rollback(); err != nil {
			return nil, false, fmt.Errorf("failed to rollback after redelivery: %w", err)
		}
		run, err := s.getRunByTrigger(ctx, triggerType, resourceID)
		if err != nil {
			return nil, false, err
		}
		s.logger.Info("Trigger event re-delivered, reusing existing run",
			slog.String("correlation_id", run.CorrelationID),
			slog.String("trigger_type", triggerType),
			slog.String("resource_id", resourceID),
		)
		return run, true, nil
	}

	insertJob := `
		INSERT INTO jobs (job_id, correlation_id, stage, trigger_type, status, max_attempts, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $7)
	`

	_, err = tx.ExecContext(ctx, insertJob,
		uuid.New().String(), correlationID, string(domain.InitialStage), triggerType,
		domain.JobStatusQueued, domain.DefaultMaxAttempts, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue first-stage job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit run creation: %w", err)
	}

	s.logger.Info("Run created",
		slog.String("correlation_id", correlationID),
		slog.String("trigger_type", triggerType),
		slog.String("resource_id", resourceID),
	)

	return &domain.Run{
		CorrelationID: correlationID,
		TriggerType:   triggerType,
		ResourceID:    resourceID,
		Payload:       payload,
		Stage:         string(domain.InitialStage),
		Status:        domain.RunStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, false, nil
}

// GetRun fetches a run by its correlation id.
func (s *Storage) GetRun(ctx context.Context, correlationID string) (*domain.Run, error) {
	query := `
		SELECT correlation_id, trigger_type, resource_id, payload, stage, status, attempts, last_error, created_at, updated_at
		FROM runs
		WHERE correlation_id = $1
	`

	var run domain.Run
	if err := s.db.GetContext(ctx, &run, query, correlationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

func (s *Storage) getRunByTrigger(ctx context.Context, triggerType, resourceID string) (*domain.Run, error) {
	query := `
		SELECT correlation_id, trigger_type, resource_id, payload, stage, status, attempts, last_error, created_at, updated_at
		FROM runs
		WHERE trigger_type = $1 AND resource_id = $2
	`

	var run domain.Run
	if err := s.db.GetContext(ctx, &run, query, triggerType, resourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run by trigger: %w", err)
	}

	return &run, nil
}

// AdvanceStage moves a run forward only if it is still sitting at the
// expected predecessor stage. A retried or duplicated job whose completion
// signal arrives late hits the guard and gets ErrStageMismatch instead of
// rewinding or skipping the pipeline.
func (s *Storage) AdvanceStage(ctx context.Context, correlationID string, expected, next domain.Stage) error {
	query := `
		UPDATE runs
		SET stage = $1, status = $2, updated_at = NOW()
		WHERE correlation_id = $3 AND stage = $4
	`

	res, err := s.db.ExecContext(ctx, query, string(next), domain.RunStatusRunning, correlationID, string(expected))
	if err != nil {
		return fmt.Errorf("failed to advance run stage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrStageMismatch
	}

	s.logger.Info("Run advanced",
		slog.String("correlation_id", correlationID),
		slog.String("from_stage", string(expected)),
		slog.String("to_stage", string(next)),
	)

	return nil
}

// MarkRunRunning flips a pending run to RUNNING the first time one of its
// jobs is claimed. Terminal runs are left alone.
func (s *Storage) MarkRunRunning(ctx context.Context, correlationID string) error {
	query := `
		UPDATE runs
		SET status = $1, updated_at = NOW()
		WHERE correlation_id = $2 AND status = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.RunStatusRunning, correlationID, domain.RunStatusPending); err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return nil
}

// MarkRunTerminal records the run's final status. errMsg is stored as
// last_error for operator inspection and may be empty on completion.
func (s *Storage) MarkRunTerminal(ctx context.Context, correlationID, status, errMsg string) error {
	query := `
		UPDATE runs
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE correlation_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, status, errMsg, correlationID); err != nil {
		return fmt.Errorf("failed to mark run terminal: %w", err)
	}

	s.logger.Info("Run finished",
		slog.String("correlation_id", correlationID),
		slog.String("status", status),
	)

	return nil
}

// RecordRunAttempt bumps the run's attempt counter and last error after a
// failed stage execution.
func (s *Storage) RecordRunAttempt(ctx context.Context, correlationID, errMsg string) error {
	query := `
		UPDATE runs
		SET attempts = attempts + 1, last_error = $1, updated_at = NOW()
		WHERE correlation_id = $2
	`

	if _, err := s.db.ExecContext(ctx, query, errMsg, correlationID); err != nil {
		return fmt.Errorf("failed to record run attempt: %w", err)
	}
	return nil
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	TriggerType string
	Status      string
	PageSize    int
	Cursor      *RunCursor
}

// RunCursor is a keyset-pagination position over (created_at, correlation_id).
type RunCursor struct {
	CreatedAt     time.Time
	CorrelationID string
}

// ListRuns returns runs newest first, up to PageSize+1 rows so the caller can
// tell whether another page exists.
func (s *Storage) ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT correlation_id, trigger_type, resource_id, payload, stage, status, attempts, last_error, created_at, updated_at
		FROM runs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.TriggerType != "" {
		query += fmt.Sprintf(" AND trigger_type = $%d", argIdx)
		args = append(args, filter.TriggerType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, correlation_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CorrelationID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, correlation_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var runs []domain.Run
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// CountRunsByStatus returns run counts keyed by status.
func (s *Storage) CountRunsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
