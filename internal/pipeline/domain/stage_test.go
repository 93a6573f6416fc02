package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextStage(t *testing.T) {
	tests := []struct {
		name    string
		current Stage
		want    Stage
	}{
		{
			name:    "customer ingest advances to booking attribution",
			current: StageCustomerIngest,
			want:    StageBookingAttribution,
		},
		{
			name:    "booking attribution advances to friend reward",
			current: StageBookingAttribution,
			want:    StageFriendReward,
		},
		{
			name:    "friend reward advances to referrer reward",
			current: StageFriendReward,
			want:    StageReferrerReward,
		},
		{
			name:    "referrer reward is the last stage",
			current: StageReferrerReward,
			want:    "",
		},
		{
			name:    "unknown stage has no successor",
			current: Stage("made_up"),
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStage(tt.current))
		})
	}
}

func TestStageOrderIsClosed(t *testing.T) {
	// Walking NextStage from the initial stage must visit every stage exactly
	// once and terminate.
	seen := []Stage{}
	for s := InitialStage; s != ""; s = NextStage(s) {
		seen = append(seen, s)
	}
	assert.Equal(t, StageOrder, seen)
}

func TestAdvanceAndDone(t *testing.T) {
	assert.Equal(t, StageFriendReward, Advance(StageBookingAttribution).Next)
	assert.Empty(t, Done().Next)
	assert.Empty(t, Advance(StageReferrerReward).Next)
}
