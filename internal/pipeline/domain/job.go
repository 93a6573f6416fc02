package domain

import (
	"database/sql"
	"time"
)

// Job status constants
const (
	JobStatusQueued    = "QUEUED"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusError     = "ERROR"
)

// DefaultMaxAttempts bounds retries for a stage job unless the stage
// overrides it.
const DefaultMaxAttempts = 5

// Job is one schedulable attempt-series for a single pipeline stage of a
// single Run. The row is reused across attempts, never recreated.
//
// Invariants: QUEUED -> RUNNING -> {QUEUED, COMPLETED, ERROR};
// locked_at/lock_owner are set iff status=RUNNING; attempts never decreases.
type Job struct {
	ID            string         `db:"job_id"`
	CorrelationID string         `db:"correlation_id"`
	Stage         Stage          `db:"stage"`
	TriggerType   string         `db:"trigger_type"`
	Status        string         `db:"status"`
	Attempts      int            `db:"attempts"`
	MaxAttempts   int            `db:"max_attempts"`
	ScheduledAt   time.Time      `db:"scheduled_at"`
	LockedAt      sql.NullTime   `db:"locked_at"`
	LockOwner     sql.NullString `db:"lock_owner"`
	LastError     string         `db:"last_error"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// AnalyticsDeadLetter is an analytics event whose synchronous delivery failed
// and is parked for operator-triggered replay. Rows are deleted on successful
// replay.
type AnalyticsDeadLetter struct {
	ID        int64     `db:"id"`
	EventType string    `db:"event_type"`
	Payload   string    `db:"payload"` // JSON string
	CreatedAt time.Time `db:"created_at"`
}
