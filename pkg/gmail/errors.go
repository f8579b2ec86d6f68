package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ProviderError classifies mail provider failures into retryable
// (rate limit, network, server error) and non-retryable (bad message id,
// invalid request) categories. The job queue uses this split to decide
// between redelivery and the dead-letter state.
type ProviderError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("gmail %s: %s provider error: %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable provider error. Errors that
// are not ProviderErrors at all (e.g. context cancellation mid-call) are
// treated as transient: redelivery is the safe default.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// classify wraps a raw Gmail API error. HTTP 429 and 5xx are retryable,
// other 4xx are not; anything without a status code is assumed to be a
// network-level failure and retryable.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		transient := apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
		return &ProviderError{Op: op, Transient: transient, Err: err}
	}
	return &ProviderError{Op: op, Transient: true, Err: err}
}
