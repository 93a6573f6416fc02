package domain

import "time"

// Trigger type constants. One Run exists per (trigger_type, resource_id).
const (
	TriggerCustomerIngest   = "customer_ingest"
	TriggerBookingCreated   = "booking_created"
	TriggerPaymentCompleted = "payment_completed"
	TriggerManual           = "manual"
)

// Run status constants
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusError     = "ERROR"
)

// Run is one logical occurrence of a trigger event and its end-to-end
// progress through the reward pipeline. Payload is immutable after creation.
type Run struct {
	CorrelationID string    `db:"correlation_id"`
	TriggerType   string    `db:"trigger_type"`
	ResourceID    string    `db:"resource_id"`
	Payload       string    `db:"payload"` // JSON string, captured event body
	Stage         string    `db:"stage"`
	Status        string    `db:"status"`
	Attempts      int       `db:"attempts"`
	LastError     string    `db:"last_error"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// IsTerminal reports whether the run has finished, successfully or not.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusError
}

// CorrelationID derives the run identity for a trigger occurrence. It is
// deterministic so re-delivery of the same external event resolves to the
// same Run.
func CorrelationID(triggerType, resourceID string) string {
	return triggerType + ":" + resourceID
}

// ValidTriggerType reports whether t is a known trigger type.
func ValidTriggerType(t string) bool {
	switch t {
	case TriggerCustomerIngest, TriggerBookingCreated, TriggerPaymentCompleted, TriggerManual:
		return true
	}
	return false
}
