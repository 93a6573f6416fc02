package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 30 * time.Second
	max := time.Hour

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{8, time.Hour},  // capped
		{50, time.Hour}, // way past the cap, still capped
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(base, max, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffMonotonicUntilCap(t *testing.T) {
	base := 30 * time.Second
	max := time.Hour

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := Backoff(base, max, attempt)
		assert.Positive(t, d, "delay must always move scheduled_at forward")
		assert.GreaterOrEqual(t, d, prev, "delay must never shrink")
		prev = d
	}
}

func TestBackoffDefaults(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, 0, 1))
	assert.Positive(t, Backoff(time.Second, 0, 60), "uncapped overflow must stay positive")
}
