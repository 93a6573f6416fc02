package domain

import "errors"

var (
	// ErrRunNotFound is returned when a run cannot be found in the database
	ErrRunNotFound = errors.New("run not found")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrStageMismatch is returned when advanceStage is called with an
	// expected predecessor that no longer matches the run's current stage
	ErrStageMismatch = errors.New("run stage does not match expected predecessor")

	// ErrSelfReferral is returned when a referral code's owner and the
	// referred customer resolve to the same identity
	ErrSelfReferral = errors.New("referrer and referred customer are the same identity")

	// ErrCodeNotFound is returned when a referral code has no owner on record
	ErrCodeNotFound = errors.New("referral code not found")

	// ErrInvalidPayload is returned when a run payload JSON is malformed or
	// missing required fields for its trigger type
	ErrInvalidPayload = errors.New("invalid run payload")
)

// RetryableError marks a failure as transient: the job should be rescheduled
// with backoff until max attempts are exhausted.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a transient failure.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

// TerminalError marks a failure as a permanent business-rule violation: the
// job must never be retried and the run is failed immediately.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return "terminal: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps err as a permanent failure.
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// IsRetryable reports whether err was classified transient by its handler.
// Unclassified errors are not retryable: a handler that wants a retry must
// say so explicitly.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
