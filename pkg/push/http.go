package push

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vango-dev/uisync/pkg/protocol"
)

// HTTPResource is a push resource backed by a suspended HTTP response.
// A long-polling resource completes the response with the first message;
// a streaming resource flushes every message and stays open.
type HTTPResource struct {
	id        string
	transport Transport
	w         http.ResponseWriter
	flusher   http.Flusher

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTPResource prepares w for pushed messages.
func NewHTTPResource(id string, transport Transport, w http.ResponseWriter) *HTTPResource {
	flusher, _ := w.(http.Flusher)
	h := w.Header()
	h.Set("Content-Type", protocol.JSONContentType)
	h.Set("Cache-Control", "no-cache, no-store")
	if transport == Streaming {
		h.Set("Connection", "close")
	}
	return &HTTPResource{
		id:        id,
		transport: transport,
		w:         w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}
}

// ID implements Resource.
func (r *HTTPResource) ID() string { return r.id }

// Transport implements Resource.
func (r *HTTPResource) Transport() Transport { return r.transport }

// Done implements Resource.
func (r *HTTPResource) Done() <-chan struct{} { return r.done }

// Send implements Resource. Messages are length-prefixed so the client can
// split a streamed response.
func (r *HTTPResource) Send(msg []byte) *Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return CompletedFuture(ErrClosed)
	}
	_, err := r.w.Write(protocol.WrapFrame(msg))
	if err == nil && r.flusher != nil {
		r.flusher.Flush()
	}
	if err != nil || r.transport == LongPolling {
		r.closeLocked()
	}
	return CompletedFuture(err)
}

// Close implements Resource.
func (r *HTTPResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	return nil
}

func (r *HTTPResource) closeLocked() {
	r.closed = true
	r.closeOnce.Do(func() { close(r.done) })
}

// Suspend holds the response open until the resource is closed, ctx is
// done or timeout elapses. A zero timeout waits indefinitely. It reports
// whether the resource was closed by the server side.
func (r *HTTPResource) Suspend(ctx context.Context, timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-r.done:
		return true
	case <-ctx.Done():
	case <-expired:
	}
	r.Close()
	return false
}
