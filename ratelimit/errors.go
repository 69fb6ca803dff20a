package ratelimit

import (
	"errors"
)

// ReasonRateLimitExceeded is the machine-readable denial reason
const ReasonRateLimitExceeded = "rate_limit_exceeded"

var (
	// ErrRateLimited is the sentinel wrapped by DeniedError.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnknownLimiter is returned for a limiter name with no policy.
	ErrUnknownLimiter = errors.New("unknown limiter")

	// ErrMissingIdentity is returned when no identity was resolved.
	ErrMissingIdentity = errors.New("identity is required")
)

// DeniedError carries the decision that denied a request
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return e.Decision.Message()
}

func (e *DeniedError) Unwrap() error {
	return ErrRateLimited
}

// IsRateLimited checks if an error is a window denial
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Err returns a *DeniedError for a denial and nil otherwise
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Decision: d}
}
