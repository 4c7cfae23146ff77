package connector

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrDuplicateID is returned when registering a second connector with an id
	// already in use.
	ErrDuplicateID = errors.New("connector: duplicate connector id")

	// ErrUnknownType is returned for a type name that was never registered.
	ErrUnknownType = errors.New("connector: unknown connector type")

	// ErrTypeExists is returned when a type is registered twice.
	ErrTypeExists = errors.New("connector: type already registered")

	// ErrWrongConnector is returned when an RPC method is applied to a
	// connector of an unexpected Go type.
	ErrWrongConnector = errors.New("connector: wrong connector type for method")

	// ErrArity is returned when an invocation carries the wrong number of
	// parameters.
	ErrArity = errors.New("connector: wrong number of parameters")
)

// ErrorEvent describes an error raised while applying a client invocation.
type ErrorEvent struct {
	Connector Connector
	Err       error
}

// Error implements error so an event can be logged directly.
func (e *ErrorEvent) Error() string {
	if e.Connector == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("connector %s (%s): %v", e.Connector.ConnectorID(), e.Connector.ConnectorType(), e.Err)
}

// Unwrap returns the underlying error.
func (e *ErrorEvent) Unwrap() error { return e.Err }

// ErrorHandler handles errors raised by connectors.
type ErrorHandler interface {
	HandleError(ev *ErrorEvent)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(ev *ErrorEvent)

// HandleError calls f(ev).
func (f ErrorHandlerFunc) HandleError(ev *ErrorEvent) { f(ev) }

// FindErrorHandler returns the nearest error handler set on c or one of its
// ancestors, or nil.
func FindErrorHandler(c Connector) ErrorHandler {
	for ; c != nil; c = c.Parent() {
		if h := c.base().handler; h != nil {
			return h
		}
	}
	return nil
}
