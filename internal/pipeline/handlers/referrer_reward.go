package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/idemkey"
	"github.com/glowdesk/referral-pipeline/internal/platform"
)

// ReferrerReward pays the owner of the referral code for bringing a friend
// in. The self-referral check is a hard precondition: the code owner and the
// referred customer are compared before any platform call, and a match fails
// the run permanently rather than retrying.
func (h *Handlers) ReferrerReward(ctx context.Context, run *domain.Run) (domain.Result, error) {
	payload, err := domain.DecodePayload(run.TriggerType, run.Payload)
	if err != nil {
		return domain.Result{}, err
	}

	if payload.ReferralCode == "" {
		return domain.Result{}, domain.Terminal(fmt.Errorf("%w: referrer reward needs referral_code", domain.ErrInvalidPayload))
	}

	// The self-referral check needs the referred customer's real identity,
	// not just what the event happened to carry.
	customerID, err := h.resolveCustomer(ctx, payload)
	if err != nil {
		return domain.Result{}, fmt.Errorf("referrer reward: %w", err)
	}

	owner, err := h.dir.LookupCodeOwner(ctx, payload.ReferralCode)
	if err != nil {
		if errors.Is(err, domain.ErrCodeNotFound) {
			return domain.Result{}, domain.Terminal(fmt.Errorf("referrer reward: %w", err))
		}
		return domain.Result{}, domain.Retryable(fmt.Errorf("referrer owner lookup: %w", err))
	}

	if owner == customerID {
		h.logger.Warn("Self-referral rejected",
			slog.String("correlation_id", run.CorrelationID),
			slog.String("customer_id", customerID),
			slog.String("referral_code", payload.ReferralCode),
		)
		return domain.Result{}, domain.Terminal(fmt.Errorf("%w: code %s", domain.ErrSelfReferral, payload.ReferralCode))
	}

	amount := h.cfg.ReferrerRewardCents
	key := idemkey.ForStage(run.CorrelationID, string(domain.StageReferrerReward), amount)

	card, err := h.platform.CreateGiftCard(ctx, platform.CreateGiftCardRequest{
		CustomerID:     owner,
		AmountCents:    amount,
		Currency:       h.cfg.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		return domain.Result{}, classifyPlatformErr(fmt.Errorf("referrer gift card: %w", err))
	}

	h.logger.Info("Referrer reward issued",
		slog.String("correlation_id", run.CorrelationID),
		slog.String("referrer_customer_id", owner),
		slog.String("gift_card_id", card.ID),
		slog.Int64("amount_cents", amount),
	)

	h.recorder.Record(ctx, "referrer_reward_issued", map[string]interface{}{
		"correlation_id":       run.CorrelationID,
		"referrer_customer_id": owner,
		"gift_card_id":         card.ID,
		"amount_cents":         amount,
	})

	return domain.Done(), nil
}
