package domain

// Stage names the pipeline steps. The pipeline order is fixed at build time:
// customer_ingest -> booking_attribution -> friend_reward -> referrer_reward.
type Stage string

const (
	StageCustomerIngest     Stage = "customer_ingest"
	StageBookingAttribution Stage = "booking_attribution"
	StageFriendReward       Stage = "friend_reward"
	StageReferrerReward     Stage = "referrer_reward"
)

// StageOrder is the fixed execution order of the pipeline.
var StageOrder = []Stage{
	StageCustomerIngest,
	StageBookingAttribution,
	StageFriendReward,
	StageReferrerReward,
}

// InitialStage is the stage every new Run starts in.
const InitialStage = StageCustomerIngest

// NextStage returns the stage that follows s in the pipeline, or "" when s is
// the last stage or unknown.
func NextStage(s Stage) Stage {
	for i, st := range StageOrder {
		if st == s && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return ""
}

// ValidStage reports whether s names a pipeline stage.
func ValidStage(s Stage) bool {
	for _, st := range StageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Result is a stage handler's successful outcome. An empty Next means the
// pipeline is done for this Run; otherwise Next is the stage to enqueue.
type Result struct {
	Next Stage
}

// Advance builds a Result that moves the Run to the next fixed stage.
func Advance(current Stage) Result {
	return Result{Next: NextStage(current)}
}

// Done builds a Result that completes the Run without running later stages.
func Done() Result {
	return Result{}
}
