package server

import (
	"bytes"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/uidl"
)

// Client RPC sent to the root connector when its UI closes.
const (
	UIClientRPC    = "ui.UIClientRpc"
	UIClosedMethod = "uiClosed"
)

// clientCaller is implemented by connectors embedding connector.Base.
type clientCaller interface {
	Call(iface, method string, params ...any)
}

// responseOptions selects the optional parts of one response.
type responseOptions struct {
	repaintAll     bool
	analyzeLayouts bool
	async          bool
	securityKey    string
	highlight      string
}

// UI is one browser window or tab of a session. All methods require the
// session lock unless noted otherwise.
type UI struct {
	id      int
	session *Session
	tracker *connector.Tracker
	cache   *uidl.ClientCache
	root    connector.Connector

	pushConfig *push.Config
	conn       *push.Connection

	closing    bool
	windowName string

	// lastHeartbeat is read by the expiry loop without the lock.
	lastHeartbeat atomic.Int64

	writer   *uidl.Writer
	decorate func(*uidl.Request)

	// pushOpts applies to the next pushed response only.
	pushOpts responseOptions

	logger *slog.Logger
}

func newUI(s *Session, writer *uidl.Writer, pushConfig *push.Config, decorate func(*uidl.Request)) *UI {
	s.nextUIID++
	u := &UI{
		id:       s.nextUIID,
		session:  s,
		cache:    uidl.NewClientCache(),
		writer:   writer,
		decorate: decorate,
		logger:   s.logger.With("ui_id", s.nextUIID),
	}
	u.tracker = connector.NewTracker(u.logger)
	u.lastHeartbeat.Store(time.Now().UnixNano())
	u.setPushConfig(pushConfig.Clone())
	return u
}

// ID returns the UI id, unique within the session. Safe without the lock.
func (u *UI) ID() int { return u.id }

// Session returns the owning session. Safe without the lock.
func (u *UI) Session() *Session { return u.session }

// Tracker returns the connector tracker of the UI.
func (u *UI) Tracker() *connector.Tracker { return u.tracker }

// Root returns the root connector.
func (u *UI) Root() connector.Connector { return u.root }

// SetRoot replaces the root connector and registers its tree.
func (u *UI) SetRoot(root connector.Connector) {
	if u.root != nil {
		u.tracker.UnregisterTree(u.root)
	}
	u.root = root
	if root != nil {
		u.tracker.RegisterTree(root)
	}
}

// Access runs fn with the session lock held. Safe without the lock.
func (u *UI) Access(fn func()) { u.session.Access(fn) }

// PushConfig returns a copy of the push configuration.
func (u *UI) PushConfig() push.Config { return *u.pushConfig }

// SetPushMode changes the push mode. Disabling push disconnects an
// established connection.
func (u *UI) SetPushMode(mode push.Mode) {
	cfg := u.pushConfig.Clone()
	cfg.Mode = mode
	u.setPushConfig(cfg)
}

func (u *UI) setPushConfig(cfg *push.Config) {
	if cfg == nil {
		cfg = push.DefaultConfig()
	}
	u.pushConfig = cfg
	switch {
	case cfg.Mode.Enabled() && u.conn == nil:
		u.conn = push.NewConnection(u.session, push.SourceFunc(u.writePush), cfg, u.logger)
	case !cfg.Mode.Enabled() && u.conn != nil:
		u.conn.Disconnect()
		u.conn = nil
	}
}

// PushConnection returns the push connection, nil when push is disabled.
func (u *UI) PushConnection() *push.Connection { return u.conn }

// Push sends pending changes to the client over the push connection. It is
// a no-op when nothing changed, and deferred until the client connects
// when there is no connection yet.
func (u *UI) Push() error {
	if !u.session.HasLock() {
		return ErrNotLocked
	}
	if !u.pushConfig.Mode.Enabled() || u.conn == nil {
		return ErrPushDisabled
	}
	// Access tasks may mark connectors dirty.
	u.session.runPending()
	if !u.tracker.HasDirty() {
		return nil
	}
	return u.conn.Push()
}

// Close marks the UI as closing and tells the client. Invocations for a
// closing UI are ignored; the UI is removed by the expiry loop.
func (u *UI) Close() {
	if u.closing {
		return
	}
	u.closing = true
	if c, ok := u.root.(clientCaller); ok {
		c.Call(UIClientRPC, UIClosedMethod, u.session.IsClosed())
	}
	if u.conn != nil && u.conn.IsConnected() {
		u.session.runPending()
		if err := u.conn.Push(); err != nil {
			u.logger.Warn("push of closing ui failed", "error", err)
		}
	}
}

// IsClosing reports whether Close was called.
func (u *UI) IsClosing() bool { return u.closing }

// detach releases the push connection of a removed UI.
func (u *UI) detach() {
	u.closing = true
	if u.conn != nil {
		u.conn.Disconnect()
	}
}

// heartbeat records a client sign of life. Safe without the lock.
func (u *UI) heartbeat(now time.Time) { u.lastHeartbeat.Store(now.UnixNano()) }

// LastHeartbeat returns the time of the last heartbeat or request. Safe
// without the lock.
func (u *UI) LastHeartbeat() time.Time { return time.Unix(0, u.lastHeartbeat.Load()) }

func (u *UI) request(opts responseOptions) *uidl.Request {
	req := &uidl.Request{
		Tracker:        u.tracker,
		Cache:          u.cache,
		Resources:      u.session.resources,
		RepaintAll:     opts.repaintAll,
		AnalyzeLayouts: opts.analyzeLayouts,
		Async:          opts.async,
		SecurityKey:    opts.securityKey,
		Highlight:      opts.highlight,
		Timings:        u.session.timings(time.Now()),
		RunPending:     u.session.runPending,
	}
	if u.decorate != nil {
		u.decorate(req)
	}
	return req
}

// writeResponse writes a complete response envelope.
func (u *UI) writeResponse(w io.Writer, opts responseOptions) error {
	return u.writer.WriteResponse(w, u.request(opts))
}

// writeInitial writes the initial response as a bare JSON object, without
// the hijacking guard, for embedding in the INIT reply.
func (u *UI) writeInitial(w io.Writer, opts responseOptions) error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := u.writer.Write(&buf, u.request(opts)); err != nil {
		return err
	}
	buf.WriteByte('}')
	_, err := w.Write(buf.Bytes())
	return err
}

// writePush is the push.Source of the UI connection.
func (u *UI) writePush(w io.Writer) error {
	opts := u.pushOpts
	u.pushOpts = responseOptions{}
	opts.async = true
	return u.writeResponse(w, opts)
}
