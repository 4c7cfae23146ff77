package upload_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/upload"
)

func TestFileReceiver_StoreAndClaim(t *testing.T) {
	dir := t.TempDir()
	recv, err := upload.NewFileReceiver(dir, 0)
	if err != nil {
		t.Fatalf("NewFileReceiver() error = %v", err)
	}
	var stored *upload.File
	recv.Finished = func(f *upload.File) { stored = f }

	s := &upload.Streamer{}
	res, err := s.Stream(context.Background(), recv, strings.NewReader("file body"), upload.Info{FileName: "a.txt", MimeType: "text/plain"})
	if err != nil || res.Outcome != upload.Complete {
		t.Fatalf("Stream() = %+v, %v", res, err)
	}
	if stored == nil || stored.Size != 9 || stored.Filename != "a.txt" {
		t.Fatalf("stored = %+v", stored)
	}

	f, err := recv.Claim(stored.ID)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	data, _ := io.ReadAll(f.Reader)
	if string(data) != "file body" || f.ContentType != "text/plain" {
		t.Fatalf("claimed %q %q", data, f.ContentType)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, stored.ID)); !os.IsNotExist(err) {
		t.Fatal("claimed file not deleted on close")
	}
	if _, err := recv.Claim(stored.ID); !errors.Is(err, upload.ErrNotFound) {
		t.Fatalf("second Claim() error = %v, want ErrNotFound", err)
	}
}

func TestFileReceiver_ClaimRejectsPaths(t *testing.T) {
	recv, err := upload.NewFileReceiver(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileReceiver() error = %v", err)
	}
	for _, id := range []string{"", "../etc/passwd", "a/b"} {
		if _, err := recv.Claim(id); !errors.Is(err, upload.ErrNotFound) {
			t.Fatalf("Claim(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestFileReceiver_TooLarge(t *testing.T) {
	dir := t.TempDir()
	recv, err := upload.NewFileReceiver(dir, 4)
	if err != nil {
		t.Fatalf("NewFileReceiver() error = %v", err)
	}
	var failed error
	recv.Failed = func(ev connector.StreamingErrorEvent) { failed = ev.Err }

	res, err := (&upload.Streamer{}).Stream(context.Background(), recv, strings.NewReader("too much data"), upload.Info{})
	if !errors.Is(err, upload.ErrTooLarge) || res.Outcome != upload.Failed {
		t.Fatalf("Stream() = %+v, %v, want ErrTooLarge", res, err)
	}
	if !errors.Is(failed, upload.ErrTooLarge) {
		t.Fatalf("Failed callback error = %v", failed)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("failed upload left %d files behind", len(entries))
	}
}

func TestFileReceiver_Interrupt(t *testing.T) {
	recv, err := upload.NewFileReceiver(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileReceiver() error = %v", err)
	}
	recv.Progress = func(connector.StreamingProgressEvent) { recv.Interrupt() }

	res, err := (&upload.Streamer{ChunkSize: 1}).Stream(context.Background(), recv, strings.NewReader("abc"), upload.Info{})
	if err != nil || res.Outcome != upload.Interrupted {
		t.Fatalf("Stream() = %+v, %v, want interrupted", res, err)
	}
}

type fakeS3 struct {
	mu    sync.Mutex
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = in
	f.body = data
	if err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Receiver_Streams(t *testing.T) {
	client := &fakeS3{}
	recv := upload.NewS3Receiver(client, "bucket", "uploads/")
	var stored *upload.File
	recv.Finished = func(f *upload.File) { stored = f }

	content := bytes.Repeat([]byte("0123456789"), 1000)
	res, err := (&upload.Streamer{}).Stream(context.Background(), recv, bytes.NewReader(content),
		upload.Info{FileName: "big.bin", MimeType: "application/octet-stream", ContentLength: int64(len(content))})
	if err != nil || res.Outcome != upload.Complete {
		t.Fatalf("Stream() = %+v, %v", res, err)
	}
	if !bytes.Equal(client.body, content) {
		t.Fatalf("object body length = %d, want %d", len(client.body), len(content))
	}
	if got := *client.input.Key; got != "uploads/"+stored.ID {
		t.Fatalf("Key = %q", got)
	}
	if *client.input.Bucket != "bucket" || client.input.Metadata["original-filename"] != "big.bin" {
		t.Fatalf("input = %+v", client.input)
	}
	if *client.input.ContentLength != int64(len(content)) {
		t.Fatalf("ContentLength = %d", *client.input.ContentLength)
	}
	if stored.URL != "s3://bucket/uploads/"+stored.ID {
		t.Fatalf("URL = %q", stored.URL)
	}
}

func TestS3Receiver_PutObjectError(t *testing.T) {
	putErr := errors.New("access denied")
	recv := upload.NewS3Receiver(&fakeS3{err: putErr}, "bucket", "")
	finished := false
	recv.Finished = func(*upload.File) { finished = true }

	res, err := (&upload.Streamer{}).Stream(context.Background(), recv, strings.NewReader("data"), upload.Info{})
	if !errors.Is(err, putErr) || res.Outcome != upload.Failed {
		t.Fatalf("Stream() = %+v, %v, want put error", res, err)
	}
	if finished {
		t.Fatal("Finished called for failed upload")
	}
}

func TestS3Receiver_InterruptAborts(t *testing.T) {
	client := &fakeS3{}
	recv := upload.NewS3Receiver(client, "bucket", "")
	recv.Progress = func(connector.StreamingProgressEvent) { recv.Interrupt() }

	res, err := (&upload.Streamer{ChunkSize: 2}).Stream(context.Background(), recv, strings.NewReader("abcdef"), upload.Info{})
	if err != nil || res.Outcome != upload.Interrupted {
		t.Fatalf("Stream() = %+v, %v", res, err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.input == nil {
		t.Fatal("PutObject not called")
	}
}
