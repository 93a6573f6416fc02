package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
)

// CustomerIngest resolves the event's customer identity on the platform and
// assigns them a referral code of their own. The code is derived from the
// platform customer id and inserted conflict-ignoring, so the stage is safe
// to replay and a customer's code can never change once assigned.
func (h *Handlers) CustomerIngest(ctx context.Context, run *domain.Run) (domain.Result, error) {
	payload, err := domain.DecodePayload(run.TriggerType, run.Payload)
	if err != nil {
		return domain.Result{}, err
	}

	customerID := payload.CustomerID
	if customerID == "" {
		customer, err := h.platform.SearchCustomer(ctx, payload.Phone, payload.Email)
		if err != nil {
			return domain.Result{}, classifyPlatformErr(fmt.Errorf("customer search: %w", err))
		}
		customerID = customer.ID
	} else {
		if _, err := h.platform.RetrieveCustomer(ctx, customerID); err != nil {
			return domain.Result{}, classifyPlatformErr(fmt.Errorf("customer lookup: %w", err))
		}
	}

	code := referralCodeFor(customerID)
	if err := h.dir.AssignReferralCode(ctx, code, customerID); err != nil {
		// Database write; worth retrying.
		return domain.Result{}, domain.Retryable(fmt.Errorf("assign referral code: %w", err))
	}

	h.logger.Info("Customer ingested",
		slog.String("correlation_id", run.CorrelationID),
		slog.String("customer_id", customerID),
		slog.String("referral_code", code),
	)

	h.recorder.Record(ctx, "customer_ingested", map[string]string{
		"correlation_id": run.CorrelationID,
		"customer_id":    customerID,
		"referral_code":  code,
	})

	// A bare customer signup has nothing to attribute or pay out; only
	// booking and payment triggers continue down the pipeline.
	if run.TriggerType == domain.TriggerCustomerIngest {
		return domain.Done(), nil
	}

	return domain.Advance(domain.StageCustomerIngest), nil
}
