package push

import "errors"

var (
	// ErrNotLocked is returned when Push is called without the session
	// lock.
	ErrNotLocked = errors.New("push: session lock not held")

	// ErrClosed is returned for sends on a closed resource.
	ErrClosed = errors.New("push: resource closed")

	// ErrNotConnected is returned when a message arrives for a connection
	// that has no resource.
	ErrNotConnected = errors.New("push: not connected")

	// ErrNoSource is returned when a connection has nothing to push.
	ErrNoSource = errors.New("push: no response source")
)
