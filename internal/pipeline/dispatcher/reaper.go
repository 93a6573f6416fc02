package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/glowdesk/referral-pipeline/internal/telemetry"
)

// ReapStore is the slice of the job store the reaper needs.
type ReapStore interface {
	ReapStuck(ctx context.Context, livenessThreshold time.Duration) ([]string, error)
}

// Reaper periodically returns jobs abandoned by crashed workers to the
// queue. Its threshold must exceed the longest expected handler execution by
// a comfortable margin, or it will steal work that is still in flight.
type Reaper struct {
	logger    *slog.Logger
	jobs      ReapStore
	interval  time.Duration
	threshold time.Duration
	stopChan  chan struct{}
}

// NewReaper creates a reaper sweep.
func NewReaper(jobs ReapStore, interval, threshold time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		logger:    logger,
		jobs:      jobs,
		interval:  interval,
		threshold: threshold,
		stopChan:  make(chan struct{}),
	}
}

// Start sweeps until the context is canceled.
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("Starting stuck-job reaper",
		slog.Duration("interval", r.interval),
		slog.Duration("liveness_threshold", r.threshold),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper stopped - context canceled")
			return
		case <-r.stopChan:
			r.logger.Info("Reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Stop signals the reaper to exit.
func (r *Reaper) Stop() {
	close(r.stopChan)
}

func (r *Reaper) sweep(ctx context.Context) {
	reaped, err := r.jobs.ReapStuck(ctx, r.threshold)
	if err != nil {
		r.logger.Error("Reap sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if len(reaped) > 0 {
		telemetry.JobsReaped.Add(float64(len(reaped)))
		r.logger.Warn("Requeued jobs from crashed workers",
			slog.Int("count", len(reaped)),
			slog.Any("job_ids", reaped),
		)
	}
}
