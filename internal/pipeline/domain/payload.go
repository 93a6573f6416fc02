package domain

import (
	"encoding/json"
	"fmt"
)

// EventPayload is the typed view of a Run's captured event body. The shape is
// a closed set keyed by the run's trigger type; DecodePayload validates the
// fields that trigger requires. The payload is snapshotted at run creation and
// never mutated, so the referral code a booking carries cannot change between
// stages.
type EventPayload struct {
	// Customer fields (customer_ingest, and carried on every trigger)
	CustomerID string `json:"customer_id"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`

	// Booking fields (booking_created)
	BookingID    string `json:"booking_id,omitempty"`
	LocationID   string `json:"location_id,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`

	// Payment fields (payment_completed)
	PaymentID   string `json:"payment_id,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`

	// Manual runs carry an operator note instead of platform objects
	Note string `json:"note,omitempty"`
}

// DecodePayload parses a run's raw payload and checks the fields required by
// its trigger type. Failures are permanent: a payload does not become
// well-formed by retrying.
func DecodePayload(triggerType, raw string) (EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return EventPayload{}, Terminal(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	switch triggerType {
	case TriggerCustomerIngest:
		if p.CustomerID == "" && p.Phone == "" && p.Email == "" {
			return EventPayload{}, Terminal(fmt.Errorf("%w: customer event needs customer_id, phone or email", ErrInvalidPayload))
		}
	case TriggerBookingCreated:
		if p.BookingID == "" {
			return EventPayload{}, Terminal(fmt.Errorf("%w: booking event needs booking_id", ErrInvalidPayload))
		}
	case TriggerPaymentCompleted:
		if p.PaymentID == "" {
			return EventPayload{}, Terminal(fmt.Errorf("%w: payment event needs payment_id", ErrInvalidPayload))
		}
	case TriggerManual:
		// operators can hand-craft anything; later stages validate what they use
	default:
		return EventPayload{}, Terminal(fmt.Errorf("%w: unknown trigger type %q", ErrInvalidPayload, triggerType))
	}

	return p, nil
}
