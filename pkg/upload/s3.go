package upload

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/uisync/pkg/connector"
)

// PutObjectAPI is the part of *s3.Client used by S3Receiver.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Receiver is a stream variable that streams each upload into an S3
// bucket without buffering it in memory.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	recv := upload.NewS3Receiver(s3.NewFromConfig(cfg), "my-bucket", "uploads/")
type S3Receiver struct {
	Callbacks

	client  PutObjectAPI
	bucket  string
	prefix  string
	timeout time.Duration

	interrupted atomic.Bool
	current     *File
	started     connector.StreamingEvent
}

// NewS3Receiver creates a receiver storing objects under prefix in bucket.
func NewS3Receiver(client PutObjectAPI, bucket, prefix string) *S3Receiver {
	return &S3Receiver{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeout: 10 * time.Minute,
	}
}

// WithTimeout bounds each PutObject call.
func (s *S3Receiver) WithTimeout(d time.Duration) *S3Receiver {
	s.timeout = d
	return s
}

var _ connector.StreamVariable = (*S3Receiver)(nil)

// Interrupt stops the upload in progress at the next chunk.
func (s *S3Receiver) Interrupt() { s.interrupted.Store(true) }

// IsInterrupted implements connector.StreamVariable.
func (s *S3Receiver) IsInterrupted() bool { return s.interrupted.Load() }

// ListenProgress implements connector.StreamVariable.
func (s *S3Receiver) ListenProgress() bool { return s.Progress != nil }

// StreamingStarted implements connector.StreamVariable.
func (s *S3Receiver) StreamingStarted(ev *connector.StreamingStartEvent) {
	s.interrupted.Store(false)
	s.started = ev.StreamingEvent
	id := generateFileID()
	s.current = &File{
		ID:          id,
		Filename:    ev.FileName,
		ContentType: ev.MimeType,
		URL:         fmt.Sprintf("s3://%s/%s%s", s.bucket, s.prefix, id),
	}
	if s.Started != nil {
		s.Started(ev)
	}
}

// OutputStream implements connector.StreamVariable. Bytes written are
// piped into a PutObject call; Close waits for it to complete.
func (s *S3Receiver) OutputStream() (io.WriteCloser, error) {
	if s.current == nil {
		return nil, ErrNoOutputStream
	}
	pr, pw := io.Pipe()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + s.current.ID),
		Body:        pr,
		ContentType: aws.String(s.current.ContentType),
		Metadata: map[string]string{
			"original-filename": s.current.Filename,
			"upload-time":       time.Now().UTC().Format(time.RFC3339),
		},
	}
	if s.started.ContentLength > 0 {
		input.ContentLength = aws.Int64(s.started.ContentLength)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	w := &s3Writer{pw: pw, done: make(chan error, 1), cancel: cancel}
	go func() {
		_, err := s.client.PutObject(ctx, input)
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// OnProgress implements connector.StreamVariable.
func (s *S3Receiver) OnProgress(ev connector.StreamingProgressEvent) {
	if s.Progress != nil {
		s.Progress(ev)
	}
}

// StreamingFinished implements connector.StreamVariable.
func (s *S3Receiver) StreamingFinished(ev connector.StreamingEndEvent) {
	f := s.current
	s.current = nil
	if f == nil {
		return
	}
	f.Size = ev.BytesReceived
	if s.Finished != nil {
		s.Finished(f)
	}
}

// StreamingFailed implements connector.StreamVariable.
func (s *S3Receiver) StreamingFailed(ev connector.StreamingErrorEvent) {
	s.current = nil
	if s.Failed != nil {
		s.Failed(ev)
	}
}

// s3Writer feeds the pipe read by PutObject.
type s3Writer struct {
	pw     *io.PipeWriter
	done   chan error
	cancel context.CancelFunc
	closed bool
	err    error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	return w.CloseWithError(nil)
}

// CloseWithError aborts the PutObject call when err is not nil.
func (w *s3Writer) CloseWithError(cause error) error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if cause != nil {
		w.cancel()
	}
	w.pw.CloseWithError(cause)
	err := <-w.done
	w.cancel()
	if err != nil {
		w.err = fmt.Errorf("upload: s3 put object: %w", err)
	}
	return w.err
}
