package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrInterrupted is delivered to StreamingFailed when the stream
	// variable asked to stop the upload.
	ErrInterrupted = errors.New("upload: interrupted by application")

	// ErrUnexpectedEnd is returned when a multipart body ends before the
	// closing boundary.
	ErrUnexpectedEnd = errors.New("upload: multipart stream ended unexpectedly")

	// ErrNoOutputStream is returned when a stream variable has no
	// destination for the upload.
	ErrNoOutputStream = errors.New("upload: stream variable returned no output stream")

	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("upload: file too large")

	// ErrNotFound is returned when a stored upload doesn't exist.
	ErrNotFound = errors.New("upload: file not found")

	// ErrUINotFound is returned by resolvers when the upload targets an
	// unknown UI.
	ErrUINotFound = errors.New("upload: UI not found")

	// ErrSessionExpired is returned by resolvers when the session is gone.
	ErrSessionExpired = errors.New("upload: session expired")
)

// RejectedError reports an upload refused before any byte was read.
type RejectedError struct {
	ConnectorID string
	Reason      string
}

func (e *RejectedError) Error() string {
	if e.ConnectorID == "" {
		return fmt.Sprintf("upload: ignored: %s", e.Reason)
	}
	return fmt.Sprintf("upload: ignored for connector %s: %s", e.ConnectorID, e.Reason)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
