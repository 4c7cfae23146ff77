package upload

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vango-dev/uisync/pkg/connector"
)

// File is a completed upload.
type File struct {
	// ID is the unique identifier of the stored upload.
	ID string

	// Filename is the original filename from the client.
	Filename string

	// ContentType is the MIME type reported by the client.
	ContentType string

	// Size is the file size in bytes.
	Size int64

	// Path is the local filesystem path (FileReceiver).
	Path string

	// URL is the remote location (S3Receiver).
	URL string

	// Reader provides access to the contents after Claim.
	Reader io.ReadCloser
}

// Close closes the file reader if open.
func (f *File) Close() error {
	if f.Reader != nil {
		return f.Reader.Close()
	}
	return nil
}

// Callbacks are optional hooks shared by the receivers. They run with the
// session lock held.
type Callbacks struct {
	Started  func(ev *connector.StreamingStartEvent)
	Progress func(ev connector.StreamingProgressEvent)
	Finished func(f *File)
	Failed   func(ev connector.StreamingErrorEvent)
}

// FileReceiver is a stream variable that stores each upload in a
// directory.
type FileReceiver struct {
	Callbacks

	dir     string
	maxSize int64

	interrupted atomic.Bool
	current     *File
}

type fileMeta struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewFileReceiver creates a receiver storing files in dir. maxSize of 0
// means no limit.
func NewFileReceiver(dir string, maxSize int64) (*FileReceiver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileReceiver{dir: dir, maxSize: maxSize}, nil
}

var _ connector.StreamVariable = (*FileReceiver)(nil)

// Interrupt stops the upload in progress at the next chunk.
func (fr *FileReceiver) Interrupt() { fr.interrupted.Store(true) }

// IsInterrupted implements connector.StreamVariable.
func (fr *FileReceiver) IsInterrupted() bool { return fr.interrupted.Load() }

// ListenProgress implements connector.StreamVariable.
func (fr *FileReceiver) ListenProgress() bool { return fr.Progress != nil }

// StreamingStarted implements connector.StreamVariable.
func (fr *FileReceiver) StreamingStarted(ev *connector.StreamingStartEvent) {
	fr.interrupted.Store(false)
	fr.current = &File{
		ID:          generateFileID(),
		Filename:    ev.FileName,
		ContentType: ev.MimeType,
	}
	fr.current.Path = filepath.Join(fr.dir, fr.current.ID)
	if fr.Started != nil {
		fr.Started(ev)
	}
}

// OutputStream implements connector.StreamVariable.
func (fr *FileReceiver) OutputStream() (io.WriteCloser, error) {
	if fr.current == nil {
		return nil, ErrNoOutputStream
	}
	f, err := os.Create(fr.current.Path)
	if err != nil {
		return nil, err
	}
	return &limitedWriter{w: f, max: fr.maxSize}, nil
}

// OnProgress implements connector.StreamVariable.
func (fr *FileReceiver) OnProgress(ev connector.StreamingProgressEvent) {
	if fr.Progress != nil {
		fr.Progress(ev)
	}
}

// StreamingFinished implements connector.StreamVariable.
func (fr *FileReceiver) StreamingFinished(ev connector.StreamingEndEvent) {
	f := fr.current
	fr.current = nil
	if f == nil {
		return
	}
	f.Size = ev.BytesReceived
	saveMeta(fr.metaPath(f.ID), &fileMeta{
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Size:        f.Size,
		CreatedAt:   time.Now(),
	})
	if fr.Finished != nil {
		fr.Finished(f)
	}
}

// StreamingFailed implements connector.StreamVariable.
func (fr *FileReceiver) StreamingFailed(ev connector.StreamingErrorEvent) {
	if f := fr.current; f != nil {
		os.Remove(f.Path)
		fr.current = nil
	}
	if fr.Failed != nil {
		fr.Failed(ev)
	}
}

// Claim opens a stored upload. The file is deleted when the returned
// reader is closed.
func (fr *FileReceiver) Claim(id string) (*File, error) {
	if id == "" || filepath.Base(id) != id {
		return nil, ErrNotFound
	}
	meta, err := loadMeta(fr.metaPath(id))
	if err != nil {
		return nil, ErrNotFound
	}
	path := filepath.Join(fr.dir, id)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &File{
		ID:          id,
		Filename:    meta.Filename,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		Path:        path,
		Reader:      &deleteOnCloseReader{File: f, path: path, metaPath: fr.metaPath(id)},
	}, nil
}

// Cleanup removes stored uploads older than maxAge.
func (fr *FileReceiver) Cleanup(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(fr.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(fr.dir, entry.Name()))
		}
	}
	return nil
}

func (fr *FileReceiver) metaPath(id string) string {
	return filepath.Join(fr.dir, id+".meta")
}

func saveMeta(path string, meta *fileMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func loadMeta(path string) (*fileMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta fileMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// generateFileID generates a cryptographically random file ID.
func generateFileID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// limitedWriter fails writes past max bytes. A max of 0 means no limit.
type limitedWriter struct {
	w       io.WriteCloser
	max     int64
	written int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.max > 0 && l.written+int64(len(p)) > l.max {
		return 0, ErrTooLarge
	}
	n, err := l.w.Write(p)
	l.written += int64(n)
	return n, err
}

func (l *limitedWriter) Close() error { return l.w.Close() }

// deleteOnCloseReader wraps a file and deletes it when closed.
type deleteOnCloseReader struct {
	*os.File
	path     string
	metaPath string
}

func (r *deleteOnCloseReader) Close() error {
	err := r.File.Close()
	os.Remove(r.path)
	os.Remove(r.metaPath)
	return err
}
