package push

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/uisync/pkg/protocol"
)

// WebSocketConfig tunes a WebSocketResource.
type WebSocketConfig struct {
	// WriteTimeout bounds each frame write. Default: 10s.
	WriteTimeout time.Duration

	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration

	// ReadTimeout closes a connection silent for longer than this. It is
	// extended by every message and pong. Zero disables it.
	ReadTimeout time.Duration

	// SendQueue is the outbound queue length. Default: 16.
	SendQueue int
}

type outbound struct {
	msg    []byte
	future *Future
}

// WebSocketResource is a full-duplex push resource. Outbound messages are
// length-prefixed and split into fragments; a single writer goroutine
// keeps them in order.
type WebSocketResource struct {
	id     string
	conn   *websocket.Conn
	config WebSocketConfig
	logger *slog.Logger

	send       chan outbound
	done       chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
}

// NewWebSocketResource wraps an upgraded connection and starts its writer.
func NewWebSocketResource(id string, conn *websocket.Conn, config WebSocketConfig, logger *slog.Logger) *WebSocketResource {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.SendQueue <= 0 {
		config.SendQueue = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &WebSocketResource{
		id:         id,
		conn:       conn,
		config:     config,
		logger:     logger.With("component", "push", "resource", id),
		send:       make(chan outbound, config.SendQueue),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// ID implements Resource.
func (r *WebSocketResource) ID() string { return r.id }

// Transport implements Resource.
func (r *WebSocketResource) Transport() Transport { return WebSocket }

// Done implements Resource.
func (r *WebSocketResource) Done() <-chan struct{} { return r.done }

// Send implements Resource.
func (r *WebSocketResource) Send(msg []byte) *Future {
	f := NewFuture()
	select {
	case <-r.done:
		f.Complete(ErrClosed)
		return f
	default:
	}
	select {
	case r.send <- outbound{msg: msg, future: f}:
	case <-r.done:
		f.Complete(ErrClosed)
	}
	return f
}

// Close implements Resource.
func (r *WebSocketResource) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		<-r.writerDone
		deadline := time.Now().Add(r.config.WriteTimeout)
		r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = r.conn.Close()
	})
	return err
}

func (r *WebSocketResource) writeLoop() {
	defer close(r.writerDone)

	var ping <-chan time.Time
	if r.config.PingInterval > 0 {
		t := time.NewTicker(r.config.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case out := <-r.send:
			out.future.Complete(r.write(out.msg))
		case <-ping:
			r.conn.SetWriteDeadline(time.Now().Add(r.config.WriteTimeout))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.logger.Debug("ping failed", "error", err)
			}
		case <-r.done:
			// Fail whatever is still queued.
			for {
				select {
				case out := <-r.send:
					out.future.Complete(ErrClosed)
				default:
					return
				}
			}
		}
	}
}

func (r *WebSocketResource) write(msg []byte) error {
	for _, frag := range protocol.Fragment(protocol.WrapFrame(msg), protocol.FragmentLength) {
		r.conn.SetWriteDeadline(time.Now().Add(r.config.WriteTimeout))
		if err := r.conn.WriteMessage(websocket.TextMessage, frag); err != nil {
			return err
		}
	}
	return nil
}

// ReadLoop delivers each inbound websocket message to onMessage until the
// connection fails or is closed. The resource is closed on return.
func (r *WebSocketResource) ReadLoop(onMessage func(body io.Reader)) error {
	defer r.Close()

	if r.config.ReadTimeout > 0 {
		r.conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))
		r.conn.SetPongHandler(func(string) error {
			return r.conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))
		})
	}
	for {
		_, msg, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				r.logger.Warn("read error", "error", err)
				return err
			}
			return nil
		}
		if r.config.ReadTimeout > 0 {
			r.conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))
		}
		onMessage(bytes.NewReader(msg))
	}
}
