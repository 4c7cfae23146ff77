package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/uisync/pkg/connector"
)

// Default streaming parameters.
const (
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultChunkSize        = 4096
)

// Outcome is how a streaming run ended.
type Outcome int

const (
	// Complete means the whole body reached the stream variable.
	Complete Outcome = iota
	// Interrupted means the stream variable asked to stop. It is not an
	// error.
	Interrupted
	// Failed means an I/O error or a failing sink ended the upload.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Complete:
		return "complete"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Info describes the file being streamed.
type Info struct {
	FileName      string
	MimeType      string
	ContentLength int64
}

// aborter is implemented by output streams that must not commit a
// partial upload.
type aborter interface {
	CloseWithError(err error) error
}

// Result summarizes a streaming run.
type Result struct {
	Outcome Outcome
	Bytes   int64

	// Disposed is set when the stream variable asked to be removed after
	// the upload.
	Disposed bool
}

// Streamer copies an upload body into a stream variable. Callbacks run
// with Locker held; reads and writes of the body do not.
type Streamer struct {
	Locker           sync.Locker
	ProgressInterval time.Duration
	ChunkSize        int
	Logger           *slog.Logger

	now func() time.Time
}

// Stream runs the upload. An interrupted upload returns a nil error; any
// other failure is reported to the stream variable and returned.
func (s *Streamer) Stream(ctx context.Context, sv connector.StreamVariable, in io.Reader, info Info) (Result, error) {
	if sv == nil {
		return Result{Outcome: Failed}, errors.New("upload: stream variable for the post not found")
	}
	interval := s.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	now := s.now
	if now == nil {
		now = time.Now
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := connector.StreamingEvent{
		FileName:      info.FileName,
		MimeType:      info.MimeType,
		ContentLength: info.ContentLength,
	}
	started := &connector.StreamingStartEvent{StreamingEvent: base}

	var (
		out      io.WriteCloser
		listen   bool
		total    int64
		startErr error
	)
	withLock(s.Locker, func() {
		sv.StreamingStarted(started)
		out, startErr = sv.OutputStream()
		listen = sv.ListenProgress()
	})

	result := Result{}
	err := startErr
	if err == nil && out == nil {
		err = ErrNoOutputStream
	}
	if err == nil && in == nil {
		err = errors.New("upload: no input stream")
	}

	if err == nil {
		buf := make([]byte, chunk)
		var lastProgress time.Time
		for {
			if err = ctx.Err(); err != nil {
				break
			}
			n, rerr := in.Read(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					err = werr
					break
				}
				total += int64(n)
			}
			done := rerr != nil || n <= 0
			if listen {
				t := now()
				if t.Sub(lastProgress) >= interval || done {
					lastProgress = t
					ev := connector.StreamingProgressEvent{StreamingEvent: base}
					ev.BytesReceived = total
					withLock(s.Locker, func() { sv.OnProgress(ev) })
				}
			}
			if sv.IsInterrupted() {
				err = ErrInterrupted
				break
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				err = rerr
				break
			}
		}
	}

	result.Bytes = total
	if err == nil {
		cerr := out.Close()
		out = nil
		if cerr != nil {
			err = cerr
		} else {
			ev := connector.StreamingEndEvent{StreamingEvent: base}
			ev.BytesReceived = total
			withLock(s.Locker, func() { sv.StreamingFinished(ev) })
			result.Outcome = Complete
			result.Disposed = started.Disposed()
			return result, nil
		}
	}

	if out != nil {
		var cerr error
		if a, ok := out.(aborter); ok {
			cerr = a.CloseWithError(err)
		} else {
			cerr = out.Close()
		}
		if cerr != nil {
			logger.Debug("close upload output after failure", "error", cerr)
		}
	}
	ev := connector.StreamingErrorEvent{StreamingEvent: base, Err: err}
	ev.BytesReceived = total
	withLock(s.Locker, func() { sv.StreamingFailed(ev) })
	result.Disposed = started.Disposed()

	if errors.Is(err, ErrInterrupted) {
		logger.Debug("upload interrupted", "file", info.FileName, "bytes", total)
		result.Outcome = Interrupted
		return result, nil
	}
	result.Outcome = Failed
	return result, fmt.Errorf("upload: streaming %q: %w", info.FileName, err)
}
