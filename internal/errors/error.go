package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/rpc"
	"github.com/vango-dev/uisync/pkg/server"
	"github.com/vango-dev/uisync/pkg/upload"
)

// Category represents the type of error.
type Category string

const (
	CategoryProtocol    Category = "protocol"
	CategorySecurity    Category = "security"
	CategoryApplication Category = "application"
	CategoryResolution  Category = "resolution"
	CategoryTransport   Category = "transport"
	CategoryUpload      Category = "upload"
	CategoryConfig      Category = "config"
	CategoryInternal    Category = "internal"
)

// UIError is a structured error with a code, explanation and suggestion.
type UIError struct {
	// Code is a unique error identifier (e.g., "E131").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Fields holds extra key/value context, such as a file name.
	Fields map[string]string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *UIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *UIError) Unwrap() error {
	return e.Wrapped
}

// WithDetail adds a detailed explanation to the error.
func (e *UIError) WithDetail(d string) *UIError {
	e.Detail = d
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *UIError) WithSuggestion(s string) *UIError {
	e.Suggestion = s
	return e
}

// WithField records a key/value pair of context.
func (e *UIError) WithField(key, value string) *UIError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Wrap wraps another error.
func (e *UIError) Wrap(err error) *UIError {
	e.Wrapped = err
	return e
}

// New creates a UIError from a registered error code.
func New(code string) *UIError {
	template, ok := registry[code]
	if !ok {
		return &UIError{
			Code:     code,
			Category: CategoryInternal,
			Message:  "Unknown error",
		}
	}
	return &UIError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new UIError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *UIError {
	return &UIError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in a UIError with the given code. An err that
// already is a UIError is returned unchanged.
func FromError(err error, code string) *UIError {
	if err == nil {
		return nil
	}
	var ue *UIError
	if stderrors.As(err, &ue) {
		return ue
	}
	return New(code).Wrap(err)
}

// Classify maps err to the code of the first matching runtime error.
// Unrecognised errors get E199.
func Classify(err error) *UIError {
	if err == nil {
		return nil
	}
	var ue *UIError
	if stderrors.As(err, &ue) {
		return ue
	}
	return New(classify(err)).Wrap(err)
}

func classify(err error) string {
	var (
		perr *protocol.Error
		rh   *rpc.HandlerError
		sh   *server.HandlerError
		rej  *upload.RejectedError
	)
	switch {
	case rpc.IsSecurityError(err):
		return "E110"
	case stderrors.Is(err, server.ErrInvalidPushID):
		return "E111"
	case stderrors.As(err, &perr):
		switch perr.Code {
		case protocol.ErrCodeTooLarge:
			return "E102"
		case protocol.ErrCodeMultiBurst:
			return "E103"
		case protocol.ErrCodeBadLength, protocol.ErrCodeTruncated, protocol.ErrCodeOverflow:
			return "E101"
		default:
			return "E100"
		}
	case stderrors.As(err, &rh), stderrors.As(err, &sh):
		return "E120"
	case stderrors.Is(err, connector.ErrArity), stderrors.Is(err, connector.ErrWrongConnector):
		return "E121"
	case stderrors.Is(err, connector.ErrUnknownType), stderrors.Is(err, server.ErrNoUIFactory):
		return "E122"
	case stderrors.Is(err, server.ErrSessionExpired), stderrors.Is(err, server.ErrSessionClosed),
		stderrors.Is(err, upload.ErrSessionExpired):
		return "E130"
	case stderrors.Is(err, server.ErrUINotFound), stderrors.Is(err, upload.ErrUINotFound):
		return "E131"
	case stderrors.Is(err, server.ErrMaxSessionsReached):
		return "E132"
	case stderrors.Is(err, push.ErrNotConnected), stderrors.Is(err, push.ErrNoSource):
		return "E140"
	case stderrors.Is(err, push.ErrClosed):
		return "E141"
	case stderrors.Is(err, server.ErrPushDisabled):
		return "E142"
	case stderrors.Is(err, server.ErrNotLocked), stderrors.Is(err, push.ErrNotLocked):
		return "E143"
	case stderrors.Is(err, upload.ErrInterrupted):
		return "E150"
	case stderrors.Is(err, upload.ErrTooLarge):
		return "E151"
	case stderrors.Is(err, upload.ErrUnexpectedEnd):
		return "E152"
	case stderrors.Is(err, upload.ErrNoOutputStream):
		return "E153"
	case stderrors.As(err, &rej), stderrors.Is(err, upload.ErrNotFound):
		return "E154"
	default:
		return "E199"
	}
}

// As returns the first UIError in the chain of err.
func As(err error) (*UIError, bool) {
	var ue *UIError
	ok := stderrors.As(err, &ue)
	return ue, ok
}

// Is reports whether err is a UIError with the given code.
func Is(err error, code string) bool {
	var ue *UIError
	return stderrors.As(err, &ue) && ue.Code == code
}
