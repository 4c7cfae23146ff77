package upload

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// ResponseBody is written for every processed or ignored upload.
const ResponseBody = "<html><body>download handled</body></html>"

// Target is the UI an upload is addressed to.
type Target struct {
	// Locker is the session lock.
	Locker  sync.Locker
	Tracker *connector.Tracker

	// HandleError receives upload failures with the lock held. The
	// connector is nil when the owner could not be found.
	HandleError func(c connector.Connector, err error)
}

// Resolver finds the target of an upload request. It returns
// ErrSessionExpired or ErrUINotFound when there is nothing to upload to.
type Resolver interface {
	ResolveUpload(r *http.Request, uiID string) (*Target, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request, uiID string) (*Target, error)

// ResolveUpload calls f(r, uiID).
func (f ResolverFunc) ResolveUpload(r *http.Request, uiID string) (*Target, error) {
	return f(r, uiID)
}

// Config holds configuration for the upload handler.
type Config struct {
	// MaxFileSize is the maximum request body size in bytes. Zero means
	// no limit.
	MaxFileSize int64

	// ProgressInterval is the minimum time between progress events.
	// Default: 500ms.
	ProgressInterval time.Duration

	// ChunkSize is the copy buffer size. Default: 4096.
	ChunkSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize:      0,
		ProgressInterval: DefaultProgressInterval,
		ChunkSize:        DefaultChunkSize,
	}
}

// Handler serves upload requests.
type Handler struct {
	resolver Resolver
	config   *Config
	logger   *slog.Logger

	// OnDone, if set, observes every streamed upload.
	OnDone func(res Result, err error)
}

// NewHandler creates an upload handler. A nil config uses DefaultConfig.
func NewHandler(resolver Resolver, config *Config, logger *slog.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{resolver: resolver, config: config, logger: logger.With("component", "upload")}
}

type uploadPath struct {
	uiID, connectorID, variable, secKey string
}

func parseUploadPath(path string) (uploadPath, bool) {
	i := strings.Index(path, protocol.PathUpload+"/")
	if i < 0 {
		return uploadPath{}, false
	}
	parts := strings.SplitN(path[i+len(protocol.PathUpload)+1:], "/", 4)
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return uploadPath{}, false
	}
	return uploadPath{parts[0], parts[1], parts[2], parts[3]}, true
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, ok := parseUploadPath(r.URL.Path)
	if !ok {
		http.Error(w, "Malformed upload url", http.StatusBadRequest)
		return
	}

	target, err := h.resolver.ResolveUpload(r, p.uiID)
	switch {
	case errors.Is(err, ErrSessionExpired):
		http.Error(w, "Session expired", http.StatusGone)
		return
	case err != nil:
		http.Error(w, "UI not found", http.StatusNotFound)
		return
	}

	var (
		sv    connector.StreamVariable
		owner connector.Connector
		valid bool
	)
	withLock(target.Locker, func() {
		sv = target.Tracker.StreamVariable(p.connectorID, p.variable)
		if sv == nil {
			return
		}
		key := target.Tracker.SecKey(sv)
		valid = subtle.ConstantTimeCompare([]byte(key), []byte(p.secKey)) == 1
		owner = target.Tracker.Get(p.connectorID)
	})
	if !valid {
		h.logger.Debug("ignoring upload with unknown variable or security key",
			"ui_id", p.uiID, "connector_id", p.connectorID, "variable", p.variable)
		writeResponse(w)
		return
	}

	var body io.Reader = r.Body
	if h.config.MaxFileSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.config.MaxFileSize)
	}

	info := Info{FileName: "unknown", MimeType: "unknown", ContentLength: r.ContentLength}
	if boundary, ok := BoundaryFromContentType(r.Header.Get("Content-Type")); ok {
		br := bufio.NewReader(body)
		part, err := ReadPartHeaders(br)
		if err != nil {
			h.fail(target, owner, err)
			writeResponse(w)
			return
		}
		info = Info{
			FileName:      RemovePath(part.FileName),
			MimeType:      part.MimeType,
			ContentLength: partLength(r.ContentLength, part.HeaderLength, trailerLength(boundary)),
		}
		body = NewMultipartReader(br, boundary)
	}

	if err := validateOwner(target, owner, p.connectorID); err != nil {
		h.logger.Warn("upload rejected", "connector_id", p.connectorID, "error", err)
		h.fail(target, owner, err)
		writeResponse(w)
		return
	}

	s := &Streamer{
		Locker:           target.Locker,
		ProgressInterval: h.config.ProgressInterval,
		ChunkSize:        h.config.ChunkSize,
		Logger:           h.logger,
	}
	res, err := s.Stream(r.Context(), sv, body, info)
	if h.OnDone != nil {
		h.OnDone(res, err)
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = errors.Join(err, ErrTooLarge)
		}
		h.fail(target, owner, err)
	}
	if res.Disposed {
		withLock(target.Locker, func() {
			target.Tracker.CleanStreamVariable(p.connectorID, p.variable)
		})
	}
	writeResponse(w)
}

// validateOwner checks, under the lock, that the owner can receive the
// upload.
func validateOwner(target *Target, owner connector.Connector, id string) error {
	var err error
	withLock(target.Locker, func() {
		switch {
		case owner == nil:
			err = &RejectedError{ConnectorID: id, Reason: "connector for the stream variable was not found"}
		case !target.Tracker.IsConnectorEnabled(owner):
			err = &RejectedError{ConnectorID: id, Reason: "the component is disabled"}
		default:
			if ro, ok := owner.(connector.ReadOnlyer); ok && ro.IsReadOnly() {
				err = &RejectedError{ConnectorID: id, Reason: "the component is read-only"}
			}
		}
	})
	return err
}

func (h *Handler) fail(target *Target, owner connector.Connector, err error) {
	if target.HandleError == nil {
		h.logger.Error("upload failed", "error", err)
		return
	}
	withLock(target.Locker, func() { target.HandleError(owner, err) })
}

func withLock(l sync.Locker, fn func()) {
	if l != nil {
		l.Lock()
		defer l.Unlock()
	}
	fn()
}

func writeResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", protocol.HTMLContentType)
	io.WriteString(w, ResponseBody)
}

// partLength is the size of the file part of a multipart body of total
// bytes, or -1 when total is unknown or too short to hold the framing.
func partLength(total, header, trailer int64) int64 {
	if total < 0 || total < header+trailer {
		return -1
	}
	return total - header - trailer
}
