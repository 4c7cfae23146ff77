package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/vango-dev/uisync/pkg/connector"
)

// checkedLock records whether it is held.
type checkedLock struct {
	mu   sync.Mutex
	held bool
}

func (l *checkedLock) Lock()   { l.mu.Lock(); l.held = true }
func (l *checkedLock) Unlock() { l.held = false; l.mu.Unlock() }

type recordingVar struct {
	t    *testing.T
	lock *checkedLock

	buf       bytes.Buffer
	events    []string
	progress  []int64
	failure   error
	listen    bool
	dispose   bool
	outErr    error
	stopAfter int64
	closed    bool
}

func (v *recordingVar) mustHoldLock(what string) {
	if v.lock != nil && !v.lock.held {
		v.t.Errorf("%s called without the session lock", what)
	}
}

func (v *recordingVar) OutputStream() (io.WriteCloser, error) {
	v.mustHoldLock("OutputStream")
	if v.outErr != nil {
		return nil, v.outErr
	}
	return v, nil
}

func (v *recordingVar) Write(p []byte) (int, error) {
	if v.lock != nil && v.lock.held {
		v.t.Error("upload bytes written with the session lock held")
	}
	return v.buf.Write(p)
}

func (v *recordingVar) Close() error {
	v.closed = true
	return nil
}

func (v *recordingVar) ListenProgress() bool { return v.listen }

func (v *recordingVar) OnProgress(ev connector.StreamingProgressEvent) {
	v.mustHoldLock("OnProgress")
	v.progress = append(v.progress, ev.BytesReceived)
}

func (v *recordingVar) StreamingStarted(ev *connector.StreamingStartEvent) {
	v.mustHoldLock("StreamingStarted")
	v.events = append(v.events, "started")
	if v.dispose {
		ev.Dispose()
	}
}

func (v *recordingVar) StreamingFinished(ev connector.StreamingEndEvent) {
	v.mustHoldLock("StreamingFinished")
	v.events = append(v.events, "finished")
}

func (v *recordingVar) StreamingFailed(ev connector.StreamingErrorEvent) {
	v.mustHoldLock("StreamingFailed")
	v.events = append(v.events, "failed")
	v.failure = ev.Err
}

func (v *recordingVar) IsInterrupted() bool {
	return v.stopAfter > 0 && int64(v.buf.Len()) >= v.stopAfter
}

func (v *recordingVar) eventString() string { return strings.Join(v.events, ",") }

func TestStreamComplete(t *testing.T) {
	lock := &checkedLock{}
	v := &recordingVar{t: t, lock: lock, dispose: true}
	s := &Streamer{Locker: lock, ChunkSize: 3}

	res, err := s.Stream(context.Background(), v, strings.NewReader("hello upload"), Info{FileName: "a.txt"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Outcome != Complete || res.Bytes != 12 || !res.Disposed {
		t.Fatalf("result = %+v", res)
	}
	if v.buf.String() != "hello upload" {
		t.Fatalf("received %q", v.buf.String())
	}
	if got := v.eventString(); got != "started,finished" {
		t.Fatalf("events = %s", got)
	}
	if !v.closed {
		t.Fatal("output stream not closed")
	}
}

func TestStreamProgressRateLimited(t *testing.T) {
	v := &recordingVar{t: t, listen: true}
	clock := time.Unix(0, 0)
	s := &Streamer{
		ChunkSize:        1,
		ProgressInterval: 500 * time.Millisecond,
		now: func() time.Time {
			clock = clock.Add(200 * time.Millisecond)
			return clock
		},
	}

	// Each read advances the clock by 200ms: progress fires on the first
	// read, then every third read, and once more at the end.
	_, err := s.Stream(context.Background(), v, iotest.OneByteReader(strings.NewReader("abcdefg")), Info{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	want := []int64{1, 4, 7, 7}
	if len(v.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", v.progress, want)
	}
	for i := range want {
		if v.progress[i] != want[i] {
			t.Fatalf("progress = %v, want %v", v.progress, want)
		}
	}
}

func TestStreamInterrupted(t *testing.T) {
	v := &recordingVar{t: t, stopAfter: 4}
	s := &Streamer{ChunkSize: 2}

	res, err := s.Stream(context.Background(), v, strings.NewReader("0123456789"), Info{})
	if err != nil {
		t.Fatalf("Stream() error = %v, want nil for interruption", err)
	}
	if res.Outcome != Interrupted || res.Bytes != 4 {
		t.Fatalf("result = %+v, want interrupted after 4 bytes", res)
	}
	if got := v.eventString(); got != "started,failed" {
		t.Fatalf("events = %s", got)
	}
	if !errors.Is(v.failure, ErrInterrupted) {
		t.Fatalf("failure = %v, want ErrInterrupted", v.failure)
	}
}

func TestStreamFailures(t *testing.T) {
	readErr := errors.New("connection reset")
	tests := []struct {
		name    string
		v       *recordingVar
		in      io.Reader
		wantErr error
	}{
		{"read error", &recordingVar{}, iotest.ErrReader(readErr), readErr},
		{"no output stream", &recordingVar{outErr: ErrNoOutputStream}, strings.NewReader("x"), ErrNoOutputStream},
		{"truncated multipart", &recordingVar{}, NewMultipartReader(strings.NewReader("abc"), "b"), ErrUnexpectedEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.v.t = t
			res, err := (&Streamer{}).Stream(context.Background(), tt.v, tt.in, Info{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Stream() error = %v, want %v", err, tt.wantErr)
			}
			if res.Outcome != Failed {
				t.Fatalf("Outcome = %v, want failed", res.Outcome)
			}
			if got := tt.v.eventString(); got != "started,failed" {
				t.Fatalf("events = %s", got)
			}
			if !errors.Is(tt.v.failure, tt.wantErr) {
				t.Fatalf("failure event error = %v", tt.v.failure)
			}
		})
	}
}

func TestStreamContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := &recordingVar{t: t}
	res, err := (&Streamer{}).Stream(ctx, v, strings.NewReader("data"), Info{})
	if !errors.Is(err, context.Canceled) || res.Outcome != Failed {
		t.Fatalf("Stream() = %+v, %v, want failed with context.Canceled", res, err)
	}
}

func TestOutcomeString(t *testing.T) {
	if Complete.String() != "complete" || Interrupted.String() != "interrupted" || Failed.String() != "failed" {
		t.Fatal("unexpected Outcome strings")
	}
	if Outcome(9).String() != "Outcome(9)" {
		t.Fatalf("Outcome(9).String() = %q", Outcome(9).String())
	}
}
