// Package dispatcher polls the job store for eligible stage jobs, executes
// their handlers, and records outcomes. Any number of dispatcher processes
// may run concurrently: exclusivity comes entirely from the store's atomic
// claim, there are no in-process or distributed locks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/telemetry"
)

// RunStore is the slice of the run store the dispatcher needs.
type RunStore interface {
	GetRun(ctx context.Context, correlationID string) (*domain.Run, error)
	MarkRunRunning(ctx context.Context, correlationID string) error
	AdvanceStage(ctx context.Context, correlationID string, expected, next domain.Stage) error
	MarkRunTerminal(ctx context.Context, correlationID, status, errMsg string) error
	RecordRunAttempt(ctx context.Context, correlationID, errMsg string) error
}

// JobStore is the slice of the job store the dispatcher needs.
type JobStore interface {
	ClaimBatch(ctx context.Context, limit int, now time.Time, lockOwner string) ([]domain.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	RetryOrFail(ctx context.Context, jobID, errMsg string, retryAt time.Time) (bool, error)
	FailJob(ctx context.Context, jobID, errMsg string) error
	Enqueue(ctx context.Context, correlationID string, stage domain.Stage, triggerType string, scheduledAt time.Time) (string, error)
}

// StageExecutor runs one pipeline stage for a run.
type StageExecutor interface {
	Execute(ctx context.Context, stage domain.Stage, run *domain.Run) (domain.Result, error)
}

// Config holds dispatcher configuration
type Config struct {
	Logger       *slog.Logger
	Runs         RunStore
	Jobs         JobStore
	Executor     StageExecutor
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	JobTimeout   time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// Dispatcher is the periodic worker loop.
type Dispatcher struct {
	logger       *slog.Logger
	runs         RunStore
	jobs         JobStore
	executor     StageExecutor
	concurrency  int
	batchSize    int
	pollInterval time.Duration
	jobTimeout   time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration
	workerID     string
	jobsChan     chan domain.Job
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// New creates a dispatcher with a unique worker instance id used as the
// lock owner on claimed rows.
func New(cfg *Config) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = concurrency * 2
	}

	return &Dispatcher{
		logger:       cfg.Logger,
		runs:         cfg.Runs,
		jobs:         cfg.Jobs,
		executor:     cfg.Executor,
		concurrency:  concurrency,
		batchSize:    batchSize,
		pollInterval: cfg.PollInterval,
		jobTimeout:   cfg.JobTimeout,
		backoffBase:  cfg.BackoffBase,
		backoffMax:   cfg.BackoffMax,
		workerID:     "dispatcher-" + uuid.New().String(),
		jobsChan:     make(chan domain.Job, batchSize),
		stopChan:     make(chan struct{}),
	}
}

// WorkerID returns the lock-owner id this dispatcher stamps on claimed jobs.
func (d *Dispatcher) WorkerID() string {
	return d.workerID
}

// Start runs the claim loop and worker pool until the context is canceled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting dispatcher",
		slog.String("worker_id", d.workerID),
		slog.Int("concurrency", d.concurrency),
		slog.Int("batch_size", d.batchSize),
		slog.Duration("poll_interval", d.pollInterval),
	)

	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.workerLoop(ctx, i)
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher context canceled, stopping...")
			close(d.jobsChan)
			return nil
		case <-d.stopChan:
			close(d.jobsChan)
			return nil
		case <-ticker.C:
			d.claimAndDispatch(ctx)
		}
	}
}

// Stop gracefully stops the dispatcher, waiting for in-flight jobs. Safe to
// call more than once; the worker main already cancels the dispatcher context
// and then calls Stop to wait out the pool.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("Stopping dispatcher...")
		close(d.stopChan)
	})
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// claimAndDispatch claims one batch of eligible jobs and feeds the pool.
// Batch size bounds work per poll, it is not a correctness parameter.
func (d *Dispatcher) claimAndDispatch(ctx context.Context) {
	claimed, err := d.jobs.ClaimBatch(ctx, d.batchSize, time.Now().UTC(), d.workerID)
	if err != nil {
		d.logger.Error("Failed to claim jobs",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, job := range claimed {
		select {
		case d.jobsChan <- job:
		case <-ctx.Done():
			return
		}
	}
}

// workerLoop drains the claimed-jobs channel.
func (d *Dispatcher) workerLoop(ctx context.Context, workerNum int) {
	defer d.wg.Done()

	name := fmt.Sprintf("%s-%d", d.workerID, workerNum)
	d.logger.Debug("Dispatcher worker started",
		slog.String("worker_name", name),
	)

	for job := range d.jobsChan {
		telemetry.InFlightGauge.Inc()
		d.processJob(ctx, job)
		telemetry.InFlightGauge.Dec()
	}

	d.logger.Debug("Dispatcher worker stopped",
		slog.String("worker_name", name),
	)
}

// processJob executes one claimed job end to end and records its outcome.
func (d *Dispatcher) processJob(ctx context.Context, job domain.Job) {
	log := d.logger.With(
		slog.String("job_id", job.ID),
		slog.String("correlation_id", job.CorrelationID),
		slog.String("stage", string(job.Stage)),
	)

	run, err := d.runs.GetRun(ctx, job.CorrelationID)
	if err != nil {
		// Store hiccup; give the job back with backoff.
		d.recordFailure(ctx, job, domain.Retryable(fmt.Errorf("load run: %w", err)), log)
		return
	}

	if run.IsTerminal() {
		// The run finished while this job sat claimed. The handler never
		// ran, so the job must not read COMPLETED; park it as ERROR with
		// the reason on record instead.
		log.Warn("Run already terminal, failing stale job without executing",
			slog.String("run_status", run.Status),
		)
		reason := fmt.Sprintf("run already %s, stage not executed", run.Status)
		if err := d.jobs.FailJob(ctx, job.ID, reason); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
			log.Error("Failed to fail stale job", slog.String("error", err.Error()))
		}
		return
	}

	if err := d.runs.MarkRunRunning(ctx, job.CorrelationID); err != nil {
		log.Warn("Failed to mark run running", slog.String("error", err.Error()))
	}

	jobCtx := ctx
	if d.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, d.jobTimeout)
		defer cancel()
	}

	result, err := d.executor.Execute(jobCtx, job.Stage, run)
	if err != nil {
		d.recordFailure(ctx, job, err, log)
		return
	}

	if err := d.jobs.CompleteJob(ctx, job.ID); err != nil {
		log.Error("Failed to complete job", slog.String("error", err.Error()))
		return
	}
	telemetry.JobsCompleted.Inc()

	if result.Next == "" {
		if err := d.runs.MarkRunTerminal(ctx, job.CorrelationID, domain.RunStatusCompleted, ""); err != nil {
			log.Error("Failed to complete run", slog.String("error", err.Error()))
			return
		}
		telemetry.RunsCompleted.Inc()
		log.Info("Run completed")
		return
	}

	if err := d.runs.AdvanceStage(ctx, job.CorrelationID, job.Stage, result.Next); err != nil {
		if errors.Is(err, domain.ErrStageMismatch) {
			// A duplicated completion signal already advanced the run.
			log.Warn("Run already advanced past this stage, skipping enqueue")
			return
		}
		log.Error("Failed to advance run", slog.String("error", err.Error()))
		return
	}

	if _, err := d.jobs.Enqueue(ctx, job.CorrelationID, result.Next, job.TriggerType, time.Now().UTC()); err != nil {
		log.Error("Failed to enqueue next stage",
			slog.String("next_stage", string(result.Next)),
			slog.String("error", err.Error()),
		)
		return
	}

	log.Info("Stage completed, next stage enqueued",
		slog.String("next_stage", string(result.Next)),
	)
}

// recordFailure applies the handler's own retryable/terminal classification;
// the dispatcher never second-guesses it. The job outcome is written first
// and conditionally on the row still being RUNNING: when a reaped claim was
// re-won and settled by another dispatcher, the late report matches nothing
// and is dropped before it can touch the job or the run.
func (d *Dispatcher) recordFailure(ctx context.Context, job domain.Job, execErr error, log *slog.Logger) {
	if !domain.IsRetryable(execErr) {
		if err := d.jobs.FailJob(ctx, job.ID, execErr.Error()); err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				log.Warn("Job no longer running, dropping stale failure report")
				return
			}
			log.Error("Failed to fail job", slog.String("error", err.Error()))
			return
		}
		log.Warn("Stage failed terminally",
			slog.String("error", execErr.Error()),
		)
		if err := d.runs.RecordRunAttempt(ctx, job.CorrelationID, execErr.Error()); err != nil {
			log.Error("Failed to record run attempt", slog.String("error", err.Error()))
		}
		d.failRun(ctx, job.CorrelationID, execErr.Error(), log)
		return
	}

	delay := Backoff(d.backoffBase, d.backoffMax, job.Attempts+1)
	retryAt := time.Now().UTC().Add(delay)

	exhausted, err := d.jobs.RetryOrFail(ctx, job.ID, execErr.Error(), retryAt)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			log.Warn("Job no longer running, dropping stale failure report")
			return
		}
		log.Error("Failed to reschedule job", slog.String("error", err.Error()))
		return
	}

	if err := d.runs.RecordRunAttempt(ctx, job.CorrelationID, execErr.Error()); err != nil {
		log.Error("Failed to record run attempt", slog.String("error", err.Error()))
	}

	if exhausted {
		log.Warn("Stage exhausted its attempts",
			slog.Int("max_attempts", job.MaxAttempts),
			slog.String("error", execErr.Error()),
		)
		d.failRun(ctx, job.CorrelationID, execErr.Error(), log)
		return
	}

	telemetry.JobsRetried.Inc()
	log.Info("Stage will be retried",
		slog.Duration("backoff", delay),
		slog.String("error", execErr.Error()),
	)
}

func (d *Dispatcher) failRun(ctx context.Context, correlationID, errMsg string, log *slog.Logger) {
	telemetry.JobsFailed.Inc()
	if err := d.runs.MarkRunTerminal(ctx, correlationID, domain.RunStatusError, errMsg); err != nil {
		log.Error("Failed to fail run", slog.String("error", err.Error()))
		return
	}
	telemetry.RunsFailed.Inc()
}
