package gateway

import (
	"errors"
	"fmt"
)

// Error is a gateway configuration failure: the requested site change was
// rejected or could not be applied. The proxy state is unchanged when one
// is returned.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}

// Errorf creates a gateway error.
func Errorf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// IsGatewayError reports whether the error originated in the gateway
// controller, as opposed to the certificate issuer or the proxy host.
func IsGatewayError(err error) bool {
	var ge *Error
	return errors.As(err, &ge)
}
