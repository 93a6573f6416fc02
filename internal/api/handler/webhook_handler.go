package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glowdesk/referral-pipeline/internal/api/dto"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/telemetry"
)

// triggerForEventType maps platform webhook event types onto pipeline
// triggers. Unlisted event types are acknowledged and dropped so the platform
// does not redeliver them forever.
var triggerForEventType = map[string]string{
	"customer.created": domain.TriggerCustomerIngest,
	"booking.created":  domain.TriggerBookingCreated,
	"payment.updated":  domain.TriggerPaymentCompleted,
}

// ReceiveWebhook handles POST /webhooks/platform
// Translates a platform event envelope into a run. Redelivery of the same
// event resolves to the existing run, so this endpoint is safe to retry.
func (h *RunHandler) ReceiveWebhook(c *gin.Context) {
	var event dto.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.logger.Error("Invalid webhook envelope", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid webhook envelope",
		})
		return
	}

	triggerType, ok := triggerForEventType[event.EventType]
	if !ok {
		h.logger.Debug("Ignoring unhandled webhook event type",
			slog.String("event_type", event.EventType),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	payload, err := json.Marshal(event.Data.Object)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid event payload",
		})
		return
	}

	run, reused, err := h.store.FindOrCreateRun(c.Request.Context(), triggerType, event.Data.ObjectID, string(payload))
	if err != nil {
		h.logger.Error("Failed to resolve run for webhook event",
			slog.String("event_type", event.EventType),
			slog.String("object_id", event.Data.ObjectID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process event",
		})
		return
	}

	if !reused {
		telemetry.RunsStarted.Inc()
		h.recorder.Record(c.Request.Context(), "run.started", map[string]string{
			"correlation_id": run.CorrelationID,
			"trigger_type":   run.TriggerType,
			"resource_id":    run.ResourceID,
		})
	}

	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"correlation_id": run.CorrelationID,
		"status":         run.Status,
		"reused":         reused,
	})
}

// CreateRun handles POST /api/v1/runs
// Starts a run by hand with an explicit trigger type, for manual replays.
func (h *RunHandler) CreateRun(c *gin.Context) {
	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !domain.ValidTriggerType(req.TriggerType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown trigger_type",
		})
		return
	}

	payload := req.Payload
	if payload == "" {
		payload = "{}"
	}

	run, reused, err := h.store.FindOrCreateRun(c.Request.Context(), req.TriggerType, req.ResourceID, payload)
	if err != nil {
		h.logger.Error("Failed to create run",
			slog.String("trigger_type", req.TriggerType),
			slog.String("resource_id", req.ResourceID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create run",
		})
		return
	}

	if !reused {
		telemetry.RunsStarted.Inc()
		h.recorder.Record(c.Request.Context(), "run.started", map[string]string{
			"correlation_id": run.CorrelationID,
			"trigger_type":   run.TriggerType,
			"resource_id":    run.ResourceID,
		})
	}

	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}

	c.JSON(status, runToDTO(run))
}
