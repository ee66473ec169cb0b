package backend

import (
	"errors"
	"fmt"
)

// ErrNotSupported reports that a backend cannot perform the requested
// operation at all (as opposed to failing it this time). Offer iteration
// treats it like a recoverable failure and moves on.
var ErrNotSupported = errors.New("not supported by backend")

// Error is a recoverable provisioning failure: the offer it was tried
// against is unusable right now, but other offers may still work.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}

// Errorf creates a recoverable backend error.
func Errorf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// NoCapacityError marks a recoverable failure caused by missing capacity
// for the requested instance type in its region. Planners cache these to
// stop retrying the same offer for a while.
type NoCapacityError struct {
	cause *Error
}

func (e *NoCapacityError) Error() string {
	return e.cause.Error()
}

// Unwrap lets errors.As treat a capacity shortage as a recoverable *Error.
func (e *NoCapacityError) Unwrap() error {
	return e.cause
}

// NoCapacityf creates a capacity shortage error.
func NoCapacityf(format string, args ...any) *NoCapacityError {
	return &NoCapacityError{cause: Errorf(format, args...)}
}

// IsRecoverable reports whether provisioning may continue with the next
// offer after this error.
func IsRecoverable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return true
	}
	return errors.Is(err, ErrNotSupported)
}

// IsNoCapacity reports whether the error was a capacity shortage.
func IsNoCapacity(err error) bool {
	var nce *NoCapacityError
	return errors.As(err, &nce)
}
