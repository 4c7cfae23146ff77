package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrSecurityKey is returned when the burst token does not match the
	// session's CSRF token.
	ErrSecurityKey = errors.New("rpc: security key mismatch")

	// ErrNotVariableOwner is routed to error handlers when a legacy
	// invocation targets a connector without legacy variable support.
	ErrNotVariableOwner = errors.New("rpc: connector does not accept legacy variable changes")
)

// SecurityError reports a rejected burst. No invocation of a rejected burst
// is applied.
type SecurityError struct {
	Reason string
}

// Error returns the error message.
func (e *SecurityError) Error() string {
	return "rpc: security error: " + e.Reason
}

// Unwrap returns ErrSecurityKey.
func (e *SecurityError) Unwrap() error {
	return ErrSecurityKey
}

// HandlerError wraps a panic raised by connector code during dispatch.
type HandlerError struct {
	ConnectorID string
	Interface   string
	Method      string
	Panic       any
	Stack       []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("rpc: handler panic in connector %s, %s.%s: %v",
		e.ConnectorID, e.Interface, e.Method, e.Panic)
}

// IsSecurityError reports whether err is a security rejection.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrSecurityKey)
}
