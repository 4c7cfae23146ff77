package connector

import "io"

// StreamVariable is the sink of an upload. Callbacks other than
// OutputStream writes are invoked with the session lock held.
type StreamVariable interface {
	// OutputStream returns the destination of the uploaded bytes.
	OutputStream() (io.WriteCloser, error)

	// ListenProgress reports whether OnProgress should be called.
	ListenProgress() bool

	// OnProgress is called periodically while streaming.
	OnProgress(ev StreamingProgressEvent)

	// StreamingStarted is called before the first byte is read.
	StreamingStarted(ev *StreamingStartEvent)

	// StreamingFinished is called after the stream ended normally.
	StreamingFinished(ev StreamingEndEvent)

	// StreamingFailed is called when the upload was interrupted or failed.
	StreamingFailed(ev StreamingErrorEvent)

	// IsInterrupted is polled between chunks; returning true stops the
	// upload.
	IsInterrupted() bool
}

// StreamingEvent carries the metadata common to all streaming events.
type StreamingEvent struct {
	FileName      string
	MimeType      string
	ContentLength int64
	BytesReceived int64
}

// StreamingStartEvent is delivered before streaming starts.
type StreamingStartEvent struct {
	StreamingEvent
	disposed bool
}

// Dispose asks for the stream variable to be removed once the upload is
// done.
func (e *StreamingStartEvent) Dispose() { e.disposed = true }

// Disposed reports whether Dispose was called.
func (e *StreamingStartEvent) Disposed() bool { return e.disposed }

// StreamingProgressEvent reports bytes received so far.
type StreamingProgressEvent struct {
	StreamingEvent
}

// StreamingEndEvent is delivered after a complete upload.
type StreamingEndEvent struct {
	StreamingEvent
}

// StreamingErrorEvent is delivered after an interrupted or failed upload.
type StreamingErrorEvent struct {
	StreamingEvent
	Err error
}
