// Package analytics delivers pipeline events to the analytics exchange.
// Delivery is best-effort and synchronous; events that cannot be published
// are parked in the dead-letter table instead of being dropped, and an
// operator-triggered replay drains them later. Replay is single-consumer and
// low-frequency, so it needs no claim protocol.
package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/telemetry"
)

// Publisher is the broker slice the recorder needs; the shared rabbitmq
// client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// DeadLetterStore persists events whose delivery failed.
type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, eventType, payload string) error
	ListOldestDeadLetters(ctx context.Context, limit int) ([]domain.AnalyticsDeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id int64) error
}

type envelope struct {
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Recorder publishes analytics events with a dead-letter fallback.
type Recorder struct {
	publisher Publisher
	store     DeadLetterStore
	logger    *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(publisher Publisher, store DeadLetterStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		publisher: publisher,
		store:     store,
		logger:    logger,
	}
}

// Record attempts synchronous delivery and falls back to the dead-letter
// table. It never returns an error: analytics must not fail the stage that
// emitted the event.
func (r *Recorder) Record(ctx context.Context, eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("Failed to encode analytics payload",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := r.publish(ctx, eventType, raw); err != nil {
		r.logger.Warn("Analytics delivery failed, dead-lettering",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		telemetry.DeadLettersSaved.Inc()
		if dlErr := r.store.InsertDeadLetter(ctx, eventType, string(raw)); dlErr != nil {
			// Out of fallbacks; the event is lost and that has to be loud.
			r.logger.Error("Failed to dead-letter analytics event",
				slog.String("event_type", eventType),
				slog.String("error", dlErr.Error()),
			)
		}
	}
}

// Replay re-attempts delivery of the oldest batchSize dead letters, deleting
// each on success and leaving failures in place for a later pass. Returns
// how many were delivered.
func (r *Recorder) Replay(ctx context.Context, batchSize int) (int, error) {
	letters, err := r.store.ListOldestDeadLetters(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, letter := range letters {
		if err := r.publish(ctx, letter.EventType, json.RawMessage(letter.Payload)); err != nil {
			r.logger.Warn("Dead-letter replay failed, leaving in place",
				slog.Int64("id", letter.ID),
				slog.String("event_type", letter.EventType),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.store.DeleteDeadLetter(ctx, letter.ID); err != nil {
			// Delivered but not deleted: the next replay will deliver it
			// again, which downstream consumers must already tolerate.
			r.logger.Error("Failed to delete replayed dead letter",
				slog.Int64("id", letter.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
		telemetry.DeadLettersReplay.Inc()
	}

	if len(letters) > 0 {
		r.logger.Info("Dead-letter replay finished",
			slog.Int("attempted", len(letters)),
			slog.Int("delivered", delivered),
		)
	}

	return delivered, nil
}

func (r *Recorder) publish(ctx context.Context, eventType string, payload json.RawMessage) error {
	body, err := json.Marshal(envelope{
		EventType:  eventType,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, body, "application/json")
}
