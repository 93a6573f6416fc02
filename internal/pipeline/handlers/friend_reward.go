package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
	"github.com/glowdesk/referral-pipeline/internal/pipeline/idemkey"
	"github.com/glowdesk/referral-pipeline/internal/platform"
)

// FriendReward issues the referred customer their welcome gift card. The
// idempotency key is fixed by (run, stage, amount), so a retried or replayed
// attempt resolves to the card the first attempt created.
func (h *Handlers) FriendReward(ctx context.Context, run *domain.Run) (domain.Result, error) {
	payload, err := domain.DecodePayload(run.TriggerType, run.Payload)
	if err != nil {
		return domain.Result{}, err
	}

	customerID, err := h.resolveCustomer(ctx, payload)
	if err != nil {
		return domain.Result{}, fmt.Errorf("friend reward: %w", err)
	}

	amount := h.cfg.FriendRewardCents
	key := idemkey.ForStage(run.CorrelationID, string(domain.StageFriendReward), amount)

	card, err := h.platform.CreateGiftCard(ctx, platform.CreateGiftCardRequest{
		CustomerID:     customerID,
		AmountCents:    amount,
		Currency:       h.cfg.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		return domain.Result{}, classifyPlatformErr(fmt.Errorf("friend gift card: %w", err))
	}

	h.logger.Info("Friend reward issued",
		slog.String("correlation_id", run.CorrelationID),
		slog.String("customer_id", customerID),
		slog.String("gift_card_id", card.ID),
		slog.Int64("amount_cents", amount),
	)

	h.recorder.Record(ctx, "friend_reward_issued", map[string]interface{}{
		"correlation_id": run.CorrelationID,
		"customer_id":    customerID,
		"gift_card_id":   card.ID,
		"amount_cents":   amount,
	})

	return domain.Advance(domain.StageFriendReward), nil
}
