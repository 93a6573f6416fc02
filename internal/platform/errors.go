package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a classified error response from the platform.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("platform API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("platform API error %d", e.StatusCode)
}

// TransportError wraps network-level failures (connection refused, timeout).
// The request may or may not have reached the platform.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "platform request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, rate limits and 5xx responses. 4xx business refusals are
// permanent.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}

	var ae *APIError
	if errors.As(err, &ae) {
		switch {
		case ae.StatusCode >= 500:
			return true
		case ae.StatusCode == http.StatusTooManyRequests:
			return true
		case ae.StatusCode == http.StatusRequestTimeout:
			return true
		}
	}

	return false
}

// IsNotFound reports whether err is the platform saying the object does not
// exist.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}
