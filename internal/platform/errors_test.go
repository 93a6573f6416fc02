package platform

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network failure", &TransportError{Err: errors.New("connection refused")}, true},
		{"server error", &APIError{StatusCode: 503}, true},
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"request timeout", &APIError{StatusCode: 408}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"not found", &APIError{StatusCode: 404}, false},
		{"conflict", &APIError{StatusCode: 409}, false},
		{"wrapped transport error", fmt.Errorf("gift card: %w", &TransportError{Err: errors.New("timeout")}), true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{StatusCode: 404}))
	assert.False(t, IsNotFound(&APIError{StatusCode: 400}))
	assert.False(t, IsNotFound(errors.New("not found")))
}
