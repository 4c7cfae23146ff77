package server

import (
	"errors"
	"fmt"
)

// Errors reported by sessions, UIs and the HTTP surface.
var (
	// ErrSessionExpired is returned when a request carries no session or a
	// session that no longer exists.
	ErrSessionExpired = errors.New("server: session expired")

	// ErrSessionClosed is returned for requests racing a session close.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrUINotFound is returned when a UI id does not exist in the session.
	ErrUINotFound = errors.New("server: UI not found")

	// ErrMaxSessionsReached is returned by Create at Config.MaxSessions.
	ErrMaxSessionsReached = errors.New("server: max sessions reached")

	// ErrNotLocked is returned when an operation requires the session lock.
	ErrNotLocked = errors.New("server: session lock not held")

	// ErrPushDisabled is returned when pushing to a UI without push.
	ErrPushDisabled = errors.New("server: push not enabled")

	// ErrInvalidPushID is returned when a push handshake carries the wrong id.
	ErrInvalidPushID = errors.New("server: invalid push id")

	// ErrNoUIFactory is returned when a UI is requested and no factory is set.
	ErrNoUIFactory = errors.New("server: no UI factory")
)

// SessionError attaches the session and the failed operation to an error.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError returns err annotated with the session id and op.
func NewSessionError(sessionID, op string, err error) *SessionError {
	return &SessionError{SessionID: sessionID, Op: op, Err: err}
}

// HandlerError wraps a panic raised by a task queued with Session.Access.
type HandlerError struct {
	SessionID string
	Panic     any
	Stack     []byte
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: access task panic in session %s: %v", e.SessionID, e.Panic)
}

// ProtocolError reports a client message rejected before dispatch, either
// malformed or carrying the wrong security key.
type ProtocolError struct {
	SessionID string
	UIID      int
	Op        string
	Err       error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server: protocol error in session %s, ui %d: %s: %v",
		e.SessionID, e.UIID, e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
