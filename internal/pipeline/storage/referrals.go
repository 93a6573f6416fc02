package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
)

// AssignReferralCode records a customer as the owner of a referral code. A
// code is owned once and never reassigned; a conflicting insert for the same
// code is a no-op so re-running the ingest stage stays idempotent.
func (s *Storage) AssignReferralCode(ctx context.Context, code, ownerCustomerID string) error {
	query := `
		INSERT INTO referral_codes (code, owner_customer_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (code) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, code, ownerCustomerID)
	if err != nil {
		return fmt.Errorf("failed to assign referral code: %w", err)
	}

	if inserted, err := res.RowsAffected(); err == nil && inserted > 0 {
		s.logger.Info("Referral code assigned",
			slog.String("code", code),
			slog.String("owner_customer_id", ownerCustomerID),
		)
	}

	return nil
}

// LookupCodeOwner returns the customer id that owns a referral code.
func (s *Storage) LookupCodeOwner(ctx context.Context, code string) (string, error) {
	var owner string
	err := s.db.GetContext(ctx, &owner, `SELECT owner_customer_id FROM referral_codes WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrCodeNotFound
		}
		return "", fmt.Errorf("failed to look up code owner: %w", err)
	}
	return owner, nil
}

// RecordAttribution ties a booking to the referral code it arrived with.
// Keyed on booking id so a replayed attribution stage cannot double-count;
// returns true when this call recorded the attribution.
func (s *Storage) RecordAttribution(ctx context.Context, bookingID, code, customerID, correlationID string) (bool, error) {
	query := `
		INSERT INTO booking_attributions (booking_id, referral_code, customer_id, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (booking_id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, bookingID, code, customerID, correlationID)
	if err != nil {
		return false, fmt.Errorf("failed to record attribution: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if inserted > 0 {
		s.logger.Info("Booking attributed",
			slog.String("booking_id", bookingID),
			slog.String("referral_code", code),
			slog.String("correlation_id", correlationID),
		)
	}

	return inserted > 0, nil
}
