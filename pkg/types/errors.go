package types

import (
	"errors"
	"fmt"
)

// ClientError is a failure the caller can correct: a bad name, a missing
// reference, an unsupported combination. API handlers map it to a 4xx
// response; everything else is a server fault.
type ClientError struct {
	Msg string
}

func (e *ClientError) Error() string {
	return e.Msg
}

// NewClientError creates a ClientError with a formatted message.
func NewClientError(format string, args ...any) *ClientError {
	return &ClientError{Msg: fmt.Sprintf(format, args...)}
}

// IsClientError reports whether err is, or wraps, a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}
