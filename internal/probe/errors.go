package probe

import (
	"context"
	"errors"
	"fmt"
)

// ErrResourceExhausted signals that a shared resource (healthy proxy,
// rate budget) was unavailable for the attempt.
var ErrResourceExhausted = errors.New("resource exhausted")

// TransientError marks a failure worth retrying: network timeout,
// connection reset, 429/5xx-equivalent responses.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that aborts the platform immediately:
// malformed request, explicit block/ban, non-rate-limit 4xx.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transientf builds a TransientError from a format string.
func Transientf(format string, args ...interface{}) error {
	return &TransientError{Reason: fmt.Sprintf(format, args...)}
}

// Permanentf builds a PermanentError from a format string.
func Permanentf(format string, args ...interface{}) error {
	return &PermanentError{Reason: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether the error should trigger a retry.
// Context deadline errors count as transient: the attempt timed out
// but the platform may still answer on the next try.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether the error aborts the platform outright.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
