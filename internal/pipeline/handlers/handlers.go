// Package handlers implements the four pipeline stages. Every handler must
// tolerate re-invocation from scratch: a claimed job can crash before its
// outcome is recorded and will be reaped and claimed again. External effects
// stay single-shot through idempotency keys and conflict-ignoring inserts.
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/platform"
)

// PlatformAPI is the slice of the platform client the stages use.
type PlatformAPI interface {
	RetrieveCustomer(ctx context.Context, customerID string) (*platform.Customer, error)
	SearchCustomer(ctx context.Context, phone, email string) (*platform.Customer, error)
	RetrieveBooking(ctx context.Context, bookingID string) (*platform.Booking, error)
	CreateGiftCard(ctx context.Context, req platform.CreateGiftCardRequest) (*platform.GiftCard, error)
}

// Directory is the referral code and attribution store the stages use.
type Directory interface {
	AssignReferralCode(ctx context.Context, code, ownerCustomerID string) error
	LookupCodeOwner(ctx context.Context, code string) (string, error)
	RecordAttribution(ctx context.Context, bookingID, code, customerID, correlationID string) (bool, error)
}

// Recorder receives analytics events off the hot path; delivery is
// best-effort and failures must not fail the stage.
type Recorder interface {
	Record(ctx context.Context, eventType string, payload interface{})
}

// Config holds the reward amounts the pipeline pays out.
type Config struct {
	FriendRewardCents   int64
	ReferrerRewardCents int64
	Currency            string
}

// Handlers executes pipeline stages against the platform and the referral
// directory.
type Handlers struct {
	platform PlatformAPI
	dir      Directory
	recorder Recorder
	cfg      Config
	logger   *slog.Logger
}

// New creates the stage handler set.
func New(api PlatformAPI, dir Directory, recorder Recorder, cfg Config, logger *slog.Logger) *Handlers {
	return &Handlers{
		platform: api,
		dir:      dir,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Execute runs the stage a job names against its run. The result either
// advances the pipeline or ends it; errors carry their own retryable or
// terminal classification.
func (h *Handlers) Execute(ctx context.Context, stage domain.Stage, run *domain.Run) (domain.Result, error) {
	switch stage {
	case domain.StageCustomerIngest:
		return h.CustomerIngest(ctx, run)
	case domain.StageBookingAttribution:
		return h.BookingAttribution(ctx, run)
	case domain.StageFriendReward:
		return h.FriendReward(ctx, run)
	case domain.StageReferrerReward:
		return h.ReferrerReward(ctx, run)
	}
	return domain.Result{}, domain.Terminal(domain.ErrInvalidPayload)
}

// resolveCustomer returns the platform customer id the run's payload refers
// to. Events may carry only a booking id or a phone/email pair, so the reward
// stages resolve identity the same way ingest and attribution do: the payload
// id when present, then the booking's customer, then a platform search. All
// lookups are reads, so a retried stage resolves the same customer again.
func (h *Handlers) resolveCustomer(ctx context.Context, payload domain.EventPayload) (string, error) {
	if payload.CustomerID != "" {
		return payload.CustomerID, nil
	}

	if payload.BookingID != "" {
		booking, err := h.platform.RetrieveBooking(ctx, payload.BookingID)
		if err != nil {
			return "", classifyPlatformErr(fmt.Errorf("booking lookup: %w", err))
		}
		if booking.CustomerID != "" {
			return booking.CustomerID, nil
		}
	}

	if payload.Phone != "" || payload.Email != "" {
		customer, err := h.platform.SearchCustomer(ctx, payload.Phone, payload.Email)
		if err != nil {
			return "", classifyPlatformErr(fmt.Errorf("customer search: %w", err))
		}
		return customer.ID, nil
	}

	return "", domain.Terminal(fmt.Errorf("%w: no customer identity in event", domain.ErrInvalidPayload))
}

// referralCodeFor derives the referral code a customer hands out. Derived,
// not generated, so a replayed ingest stage assigns the same code.
func referralCodeFor(customerID string) string {
	sum := sha256.Sum256([]byte("referral-code:" + customerID))
	return "GLOW-" + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

// classifyPlatformErr maps a platform client error onto the pipeline's
// retryable/terminal taxonomy.
func classifyPlatformErr(err error) error {
	if platform.IsTransient(err) {
		return domain.Retryable(err)
	}
	return domain.Terminal(err)
}
