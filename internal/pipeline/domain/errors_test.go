package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "retryable wrapper",
			err:  Retryable(errors.New("connection reset")),
			want: true,
		},
		{
			name: "terminal wrapper",
			err:  Terminal(ErrSelfReferral),
			want: false,
		},
		{
			name: "unclassified error is not retried",
			err:  errors.New("something unexpected"),
			want: false,
		},
		{
			name: "retryable survives wrapping",
			err:  fmt.Errorf("stage failed: %w", Retryable(errors.New("timeout"))),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Terminal(fmt.Errorf("reward refused: %w", ErrSelfReferral))
	assert.True(t, errors.Is(err, ErrSelfReferral))

	err = Retryable(fmt.Errorf("gift card create: %w", ErrCodeNotFound))
	assert.True(t, errors.Is(err, ErrCodeNotFound))
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name        string
		triggerType string
		raw         string
		wantErr     bool
	}{
		{
			name:        "valid booking event",
			triggerType: TriggerBookingCreated,
			raw:         `{"booking_id":"bk-1","customer_id":"cust-1","referral_code":"GLOW123"}`,
			wantErr:     false,
		},
		{
			name:        "booking event without booking id",
			triggerType: TriggerBookingCreated,
			raw:         `{"customer_id":"cust-1"}`,
			wantErr:     true,
		},
		{
			name:        "valid customer event by phone",
			triggerType: TriggerCustomerIngest,
			raw:         `{"phone":"+15555550100"}`,
			wantErr:     false,
		},
		{
			name:        "malformed json",
			triggerType: TriggerBookingCreated,
			raw:         `{"booking_id":`,
			wantErr:     true,
		},
		{
			name:        "unknown trigger",
			triggerType: "booking_deleted",
			raw:         `{}`,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePayload(tt.triggerType, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				// payload errors are permanent, never retried
				assert.False(t, IsRetryable(err))
				assert.True(t, errors.Is(err, ErrInvalidPayload))
			} else {
				assert.NoError(t, err)
				assert.NotEqual(t, EventPayload{}, p)
			}
		})
	}
}
