package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
)

// BookingAttribution ties the booking to the referral code its payload was
// captured with. The code is read only from the run's immutable payload
// snapshot, so a code swapped on the platform after the event cannot change
// who gets rewarded. Bookings without a code end the pipeline quietly.
func (h *Handlers) BookingAttribution(ctx context.Context, run *domain.Run) (domain.Result, error) {
	payload, err := domain.DecodePayload(run.TriggerType, run.Payload)
	if err != nil {
		return domain.Result{}, err
	}

	if payload.ReferralCode == "" {
		h.logger.Info("Booking carries no referral code, nothing to reward",
			slog.String("correlation_id", run.CorrelationID),
			slog.String("booking_id", payload.BookingID),
		)
		return domain.Done(), nil
	}

	if _, err := h.dir.LookupCodeOwner(ctx, payload.ReferralCode); err != nil {
		if errors.Is(err, domain.ErrCodeNotFound) {
			return domain.Result{}, domain.Terminal(fmt.Errorf("attribution: %w", err))
		}
		return domain.Result{}, domain.Retryable(fmt.Errorf("attribution owner lookup: %w", err))
	}

	customerID := payload.CustomerID
	booking, err := h.platform.RetrieveBooking(ctx, payload.BookingID)
	if err != nil {
		return domain.Result{}, classifyPlatformErr(fmt.Errorf("booking lookup: %w", err))
	}
	if customerID == "" {
		customerID = booking.CustomerID
	}
	if customerID == "" && (payload.Phone != "" || payload.Email != "") {
		customer, err := h.platform.SearchCustomer(ctx, payload.Phone, payload.Email)
		if err != nil {
			return domain.Result{}, classifyPlatformErr(fmt.Errorf("customer search: %w", err))
		}
		customerID = customer.ID
	}
	if customerID == "" {
		return domain.Result{}, domain.Terminal(fmt.Errorf("%w: booking %s has no customer", domain.ErrInvalidPayload, payload.BookingID))
	}

	recorded, err := h.dir.RecordAttribution(ctx, payload.BookingID, payload.ReferralCode, customerID, run.CorrelationID)
	if err != nil {
		return domain.Result{}, domain.Retryable(fmt.Errorf("record attribution: %w", err))
	}
	if !recorded {
		// Replayed stage; the original insert stands.
		h.logger.Info("Attribution already recorded",
			slog.String("correlation_id", run.CorrelationID),
			slog.String("booking_id", payload.BookingID),
		)
	}

	h.recorder.Record(ctx, "booking_attributed", map[string]string{
		"correlation_id": run.CorrelationID,
		"booking_id":     payload.BookingID,
		"referral_code":  payload.ReferralCode,
	})

	return domain.Advance(domain.StageBookingAttribution), nil
}
