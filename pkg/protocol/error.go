package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of protocol failure.
type ErrorCode uint16

const (
	ErrCodeUnknown      ErrorCode = iota // Unknown error
	ErrCodeBadEscape                     // Escape followed by an unknown character
	ErrCodeUnexpectedEnd                 // Escape at end of input
	ErrCodeBadLength                     // Length prefix is not a non-negative integer
	ErrCodeTruncated                     // Stream ended before the message was complete
	ErrCodeOverflow                      // More data than the declared length
	ErrCodeTooLarge                      // Message exceeds MaxMessageSize
	ErrCodeMultiBurst                    // More than one burst in a message
	ErrCodeMalformed                     // Invalid JSON or tuple shape
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrCodeBadEscape:
		return "BadEscape"
	case ErrCodeUnexpectedEnd:
		return "UnexpectedEnd"
	case ErrCodeBadLength:
		return "BadLength"
	case ErrCodeTruncated:
		return "Truncated"
	case ErrCodeOverflow:
		return "Overflow"
	case ErrCodeTooLarge:
		return "TooLarge"
	case ErrCodeMultiBurst:
		return "MultiBurst"
	case ErrCodeMalformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

// Error is a protocol violation. Protocol errors are fatal to the message
// that caused them and are answered with a refresh notification.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol: %s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a protocol error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewError creates a protocol error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a protocol error wrapping err.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Sentinel errors for errors.Is checks. Only the code is compared.
var (
	ErrBadEscape     = &Error{Code: ErrCodeBadEscape}
	ErrUnexpectedEnd = &Error{Code: ErrCodeUnexpectedEnd}
	ErrBadLength     = &Error{Code: ErrCodeBadLength}
	ErrTruncated     = &Error{Code: ErrCodeTruncated}
	ErrOverflow      = &Error{Code: ErrCodeOverflow}
	ErrTooLarge      = &Error{Code: ErrCodeTooLarge}
	ErrMultiBurst    = &Error{Code: ErrCodeMultiBurst}
	ErrMalformed     = &Error{Code: ErrCodeMalformed}
)

// IsProtocolError reports whether err is, or wraps, a protocol error.
func IsProtocolError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
