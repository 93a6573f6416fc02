package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glowdesk/referral-pipeline/internal/api/dto"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListRuns handles GET /api/v1/runs
// Lists runs newest first with optional filtering and keyset pagination.
func (h *RunHandler) ListRuns(c *gin.Context) {
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	if req.Status != "" && !validRunStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown status",
		})
		return
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.RunFilter{
		TriggerType: req.TriggerType,
		Status:      req.Status,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	}

	runs, err := h.store.ListRuns(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	runResponse := make([]dto.RunDTO, len(runs))
	for i := range runs {
		runResponse[i] = runToDTO(&runs[i])
	}

	var nextCursor string
	if hasMore {
		last := runs[len(runs)-1]
		nextCursor = EncodeRunCursor(&storage.RunCursor{
			CreatedAt:     last.CreatedAt,
			CorrelationID: last.CorrelationID,
		})
	}

	c.JSON(http.StatusOK, dto.ListRunsResponse{
		Runs:       runResponse,
		NextCursor: nextCursor,
	})
}

// GetRun handles GET /api/v1/runs/:correlation_id
// Returns the run and its per-stage jobs.
func (h *RunHandler) GetRun(c *gin.Context) {
	correlationID := c.Param("correlation_id")
	if correlationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "correlation_id is required",
		})
		return
	}

	run, err := h.store.GetRun(c.Request.Context(), correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "run not found",
			})
			return
		}
		h.logger.Error("Failed to get run",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get run",
		})
		return
	}

	jobs, err := h.store.ListJobsByRun(c.Request.Context(), correlationID)
	if err != nil {
		h.logger.Error("Failed to list jobs for run",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get run",
		})
		return
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = jobToDTO(&jobs[i])
	}

	c.JSON(http.StatusOK, dto.RunDetailResponse{
		Run:  runToDTO(run),
		Jobs: jobResponse,
	})
}

// GetStats handles GET /api/v1/stats
// Returns run and job counts by status plus the dead-letter backlog.
func (h *RunHandler) GetStats(c *gin.Context) {
	runCounts, err := h.store.CountRunsByStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to collect stats",
		})
		return
	}

	jobCounts, err := h.store.CountJobsByStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to collect stats",
		})
		return
	}

	deadLetters, err := h.store.CountDeadLetters(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count dead letters", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to collect stats",
		})
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		Runs:        runCounts,
		Jobs:        jobCounts,
		DeadLetters: deadLetters,
	})
}

// ResetJob handles POST /api/v1/jobs/:job_id/reset
// Operator escape hatch: returns a stuck or terminally failed job to the
// queue for another attempt series.
func (h *RunHandler) ResetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.store.ResetJob(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found or not resettable",
			})
			return
		}
		h.logger.Error("Failed to reset job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to reset job",
		})
		return
	}

	h.logger.Info("Job reset by operator", slog.String("job_id", jobID))

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusQueued,
	})
}

// ReplayDeadLetters handles POST /api/v1/dead-letters/replay
// Drains parked analytics events back through the broker.
func (h *RunHandler) ReplayDeadLetters(c *gin.Context) {
	var req dto.ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.BatchSize <= 0 {
		req.BatchSize = 100
	}

	delivered, err := h.recorder.Replay(c.Request.Context(), req.BatchSize)
	if err != nil {
		h.logger.Error("Dead-letter replay failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Replay failed",
			"delivered": delivered,
		})
		return
	}

	c.JSON(http.StatusOK, dto.ReplayResponse{Delivered: delivered})
}

func runToDTO(run *domain.Run) dto.RunDTO {
	return dto.RunDTO{
		CorrelationID: run.CorrelationID,
		TriggerType:   run.TriggerType,
		ResourceID:    run.ResourceID,
		Stage:         run.Stage,
		Status:        run.Status,
		Attempts:      run.Attempts,
		LastError:     run.LastError,
		CreatedAt:     run.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     run.UpdatedAt.Format(time.RFC3339),
	}
}

func jobToDTO(job *domain.Job) dto.JobDTO {
	d := dto.JobDTO{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Stage:         string(job.Stage),
		Status:        job.Status,
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		ScheduledAt:   job.ScheduledAt.Format(time.RFC3339),
		LastError:     job.LastError,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
	if job.LockOwner.Valid {
		d.LockOwner = job.LockOwner.String
	}
	return d
}

func validRunStatus(status string) bool {
	switch status {
	case domain.RunStatusPending, domain.RunStatusRunning, domain.RunStatusCompleted, domain.RunStatusError:
		return true
	}
	return false
}
