package handler

import (
	"context"
	"log/slog"

	"github.com/glowdesk/referral-pipeline/internal/analytics"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/storage"
)

// PipelineStore is the storage slice the HTTP surface needs.
type PipelineStore interface {
	FindOrCreateRun(ctx context.Context, triggerType, resourceID, payload string) (*domain.Run, bool, error)
	GetRun(ctx context.Context, correlationID string) (*domain.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]domain.Run, error)
	ListJobsByRun(ctx context.Context, correlationID string) ([]domain.Job, error)
	ResetJob(ctx context.Context, jobID string) error
	CountRunsByStatus(ctx context.Context) (map[string]int, error)
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
	CountDeadLetters(ctx context.Context) (int, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Store    PipelineStore
	Recorder *analytics.Recorder
	Health   []HealthChecker
}

// HealthChecker is a named readiness probe over a backing service.
type HealthChecker struct {
	Name  string
	Check func(ctx context.Context) error
}

// RunHandler serves webhook ingestion and the operator surface.
type RunHandler struct {
	logger   *slog.Logger
	store    PipelineStore
	recorder *analytics.Recorder
}

// NewRunHandler creates a new RunHandler instance
func NewRunHandler(deps *Dependencies) *RunHandler {
	return &RunHandler{
		logger:   deps.Logger,
		store:    deps.Store,
		recorder: deps.Recorder,
	}
}
