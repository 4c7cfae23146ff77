package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/uisync/pkg/protocol"
)

// Resource is one transport endpoint carrying responses to the client.
type Resource interface {
	// ID identifies the resource for logging and lookups.
	ID() string
	Transport() Transport

	// Send queues msg and returns its completion.
	Send(msg []byte) *Future

	// Close releases the transport. It is safe to call more than once.
	Close() error

	// Done is closed when the resource is gone, whatever the cause.
	Done() <-chan struct{}
}

// Locker is the session lock as seen by a connection.
type Locker interface {
	sync.Locker
	// HasLock reports whether the lock is held.
	HasLock() bool
}

// Source writes the response to push.
type Source interface {
	WritePushResponse(w io.Writer) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(w io.Writer) error

// WritePushResponse calls f(w).
func (f SourceFunc) WritePushResponse(w io.Writer) error { return f(w) }

// State is the state of a Connection.
type State int

const (
	StateNone State = iota
	StateEstablishing
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateEstablishing:
		return "establishing"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind selects the transition Handle performs.
type EventKind int

const (
	// EventEstablish starts the handshake for a new resource.
	EventEstablish EventKind = iota
	// EventConnect binds Event.Resource and flushes a pending push.
	EventConnect
	// EventMessage feeds Event.Body to the message framer.
	EventMessage
	// EventPush sends a response, or defers it while not connected.
	EventPush
	// EventLost drops a resource the transport reported as gone.
	EventLost
	// EventDisconnect closes the connection for good.
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventEstablish:
		return "establish"
	case EventConnect:
		return "connect"
	case EventMessage:
		return "message"
	case EventPush:
		return "push"
	case EventLost:
		return "lost"
	case EventDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is the input of Connection.Handle.
type Event struct {
	Kind     EventKind
	Resource Resource
	Body     io.Reader
}

// Connection is the push connection of one UI. All events except
// EventLost and EventDisconnect must be handled with the session lock held.
type Connection struct {
	mu sync.Mutex

	state    State
	resource Resource
	pending  bool
	last     *Future
	framer   protocol.Framer

	locker Locker
	source Source
	wait   time.Duration
	logger *slog.Logger
}

// NewConnection creates a connection pushing responses written by src.
func NewConnection(locker Locker, src Source, config *Config, logger *slog.Logger) *Connection {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	wait := config.DisconnectWait
	if wait <= 0 {
		wait = DefaultDisconnectWait
	}
	return &Connection{
		locker: locker,
		source: src,
		wait:   wait,
		logger: logger.With("component", "push"),
	}
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resource returns the bound resource, nil when not connected.
func (c *Connection) Resource() Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resource
}

// IsConnected reports whether a resource is bound.
func (c *Connection) IsConnected() bool { return c.State() == StateConnected }

// Pending reports whether a push is waiting for a connection.
func (c *Connection) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Handle performs one transition. A complete inbound message is returned
// for EventMessage; the reader is nil while the message is incomplete.
func (c *Connection) Handle(ev Event) (io.Reader, error) {
	switch ev.Kind {
	case EventEstablish:
		c.mu.Lock()
		if c.state != StateConnected {
			c.state = StateEstablishing
		}
		c.mu.Unlock()
		return nil, nil
	case EventConnect:
		return nil, c.connect(ev.Resource)
	case EventMessage:
		return c.receive(ev.Body)
	case EventPush:
		return nil, c.push()
	case EventLost:
		c.lost(ev.Resource)
		return nil, nil
	case EventDisconnect:
		c.disconnect()
		return nil, nil
	}
	return nil, fmt.Errorf("push: unknown event %v", ev.Kind)
}

// Connect binds res, replacing any previous resource.
func (c *Connection) Connect(res Resource) error {
	_, err := c.Handle(Event{Kind: EventConnect, Resource: res})
	return err
}

// Receive feeds a chunk of an inbound message.
func (c *Connection) Receive(body io.Reader) (io.Reader, error) {
	return c.Handle(Event{Kind: EventMessage, Body: body})
}

// Push sends the current response to the client.
func (c *Connection) Push() error {
	_, err := c.Handle(Event{Kind: EventPush})
	return err
}

// Lost reports that res went away without a disconnect.
func (c *Connection) Lost(res Resource) {
	c.Handle(Event{Kind: EventLost, Resource: res})
}

// Disconnect closes the connection. Calling it twice is a no-op.
func (c *Connection) Disconnect() {
	c.Handle(Event{Kind: EventDisconnect})
}

func (c *Connection) connect(res Resource) error {
	if res == nil {
		return errors.New("push: connect without resource")
	}
	c.mu.Lock()
	old := c.resource
	c.resource = res
	c.state = StateConnected
	c.framer.Reset()
	pending := c.pending
	c.mu.Unlock()

	if old != nil && old != res {
		c.logger.Debug("replacing push resource", "old", old.ID(), "new", res.ID())
		old.Close()
	}
	c.logger.Debug("push connection established", "resource", res.ID(), "transport", res.Transport())

	if pending {
		return c.push()
	}
	return nil
}

func (c *Connection) receive(body io.Reader) (io.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resource == nil {
		return nil, ErrNotConnected
	}
	return c.framer.Receive(body)
}

func (c *Connection) push() error {
	if c.locker != nil && !c.locker.HasLock() {
		return ErrNotLocked
	}

	c.mu.Lock()
	if state := c.state; state != StateConnected {
		c.pending = true
		c.mu.Unlock()
		c.logger.Debug("push deferred until connected", "state", state)
		return nil
	}
	res := c.resource
	c.pending = false
	c.mu.Unlock()

	if c.source == nil {
		return ErrNoSource
	}
	var buf bytes.Buffer
	if err := c.source.WritePushResponse(&buf); err != nil {
		return fmt.Errorf("push: write response: %w", err)
	}

	f := res.Send(buf.Bytes())
	c.mu.Lock()
	c.last = f
	c.mu.Unlock()

	if res.Transport() == LongPolling {
		// A long-polling resource is spent once the response was sent.
		select {
		case <-f.Done():
			c.lost(res)
		default:
			go func() {
				<-f.Done()
				c.lost(res)
			}()
		}
	}
	return nil
}

func (c *Connection) lost(res Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resource == nil || (res != nil && res != c.resource) {
		return
	}
	c.resource = nil
	if c.state == StateConnected {
		c.state = StateReconnecting
	}
	c.framer.Reset()
}

func (c *Connection) disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		c.logger.Debug("push connection already disconnected")
		return
	}
	res := c.resource
	last := c.last
	c.resource = nil
	c.last = nil
	c.state = StateDisconnected
	c.pending = false
	c.framer.Reset()
	c.mu.Unlock()

	if last != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.wait)
		err := last.Wait(ctx)
		cancel()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			c.logger.Info("timeout waiting for messages to be sent to client before disconnect")
		case err != nil:
			c.logger.Debug("last push message failed", "error", err)
		}
	}
	if res != nil {
		if err := res.Close(); err != nil {
			c.logger.Debug("close push resource", "resource", res.ID(), "error", err)
		}
	}
}
