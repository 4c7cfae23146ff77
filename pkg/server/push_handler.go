package server

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/uidl"
)

// handlePush serves the push endpoint. A GET or websocket upgrade opens a
// push resource; a plain POST carries a client message for HTTP
// transports.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && !websocket.IsWebSocketUpgrade(r) {
		s.handlePushMessage(w, r)
		return
	}
	s.establishPush(w, r)
}

// pushTransport picks the transport of a handshake.
func (s *Server) pushTransport(r *http.Request) push.Transport {
	if websocket.IsWebSocketUpgrade(r) {
		return push.WebSocket
	}
	if t, err := push.ParseTransport(r.URL.Query().Get(protocol.ParamTransport)); err == nil && t != push.WebSocket {
		return t
	}
	if t := s.config.Push.FallbackTransport; t != push.WebSocket {
		return t
	}
	return push.LongPolling
}

func (s *Server) establishPush(w http.ResponseWriter, r *http.Request) {
	transport := s.pushTransport(r)
	id := uuid.NewString()

	var (
		res  push.Resource
		ws   *push.WebSocketResource
		poll *push.HTTPResource
	)
	if transport == push.WebSocket {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already answered the request.
			s.logger.Debug("push upgrade failed", "error", err)
			return
		}
		conn.SetReadLimit(s.config.MaxRequestSize)
		ws = push.NewWebSocketResource(id, conn, s.config.WebSocket, s.logger)
		res = ws
	} else {
		poll = push.NewHTTPResource(id, transport, w)
		res = poll
	}

	sess, ui, reject := s.bindPush(r, res)
	if reject != nil {
		if err := push.SendNotification(res, *reject, s.config.Push.DisconnectWait); err != nil {
			s.logger.Debug("sending push rejection failed", "resource", id, "error", err)
		}
		return
	}

	s.observer.PushConnected(transport)
	defer s.observer.PushDisconnected(transport)

	if ws != nil {
		uiID := ui.id
		ws.ReadLoop(func(body io.Reader) {
			s.receivePush(r.Context(), sess, uiID, body, true, res)
		})
	} else {
		poll.Suspend(r.Context(), s.config.Push.SuspendTimeout)
	}
	s.connectionLost(sess, ui, res)
}

// bindPush validates a handshake and attaches res to the UI connection. A
// non-nil notification rejects the handshake.
func (s *Server) bindPush(r *http.Request, res push.Resource) (*Session, *UI, *uidl.Notification) {
	q := r.URL.Query()
	refresh := &uidl.Notification{}

	sess, err := s.sessionFor(r)
	if err != nil {
		expired := uidl.SessionExpired.WithURL(s.config.SessionExpiredURL)
		return nil, nil, &expired
	}
	if subtle.ConstantTimeCompare([]byte(q.Get(protocol.ParamPushID)), []byte(sess.pushID)) != 1 {
		sess.logger.Warn("invalid push id", "resource", res.ID(), "remote", r.RemoteAddr)
		s.observer.MessageRejected(RejectSecurity)
		return nil, nil, refresh
	}
	sess.touch(time.Now())

	sess.Lock()
	defer sess.Unlock()

	ui := uiFor(sess, q.Get(protocol.ParamUIID))
	if ui == nil {
		notFound := uidl.UINotFound
		return nil, nil, &notFound
	}
	if ui.conn == nil {
		ui.logger.Warn("push handshake for ui without push", "resource", res.ID())
		return nil, nil, refresh
	}

	ui.conn.Handle(push.Event{Kind: push.EventEstablish})
	if err := ui.conn.Connect(res); err != nil {
		ui.logger.Error("binding push resource failed", "resource", res.ID(), "error", err)
	}
	return sess, ui, nil
}

// receivePush handles one client message received over push. Framed
// bodies are websocket fragments and may not complete a message.
func (s *Server) receivePush(ctx context.Context, sess *Session, uiID int, body io.Reader, framed bool, reply push.Resource) {
	wait := s.config.Push.DisconnectWait
	if sess.IsClosed() {
		push.SendNotification(reply, uidl.SessionExpired.WithURL(s.config.SessionExpiredURL), wait)
		return
	}

	sess.Lock()
	defer sess.Unlock()

	ui := sess.UI(uiID)
	if ui == nil || ui.conn == nil {
		push.SendNotification(reply, uidl.UINotFound, wait)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			sess.handleError(ui.root, &HandlerError{SessionID: sess.ID, Panic: r, Stack: debug.Stack()})
			push.SendNotification(reply, uidl.InternalError, wait)
		}
	}()

	msg := body
	if framed {
		var err error
		msg, err = ui.conn.Receive(body)
		if err != nil {
			ui.logger.Warn("invalid push message", "error", err)
			s.observer.MessageRejected(RejectProtocol)
			push.RefreshAndDisconnect(reply)
			ui.conn.Disconnect()
			return
		}
		if msg == nil {
			return
		}
	}
	data, err := io.ReadAll(msg)
	if err != nil {
		ui.logger.Warn("reading push message failed", "error", err)
		return
	}

	now := time.Now()
	sess.beginRequest(now)
	defer func() { sess.endRequest(time.Now()) }()
	ui.heartbeat(now)

	init, err := s.processMessage(ctx, ui, string(data))
	if err != nil {
		s.rejectMessage(ui, err)
		push.RefreshAndDisconnect(reply)
		ui.conn.Disconnect()
		return
	}
	if init {
		ui.pushOpts.securityKey = sess.csrfToken
	}
	if err := ui.conn.Push(); err != nil {
		ui.logger.Error("push after client message failed", "error", err)
	}
}

// handlePushMessage serves a client message posted over an HTTP transport.
// The response of the message travels over the suspended push resource;
// only rejections are written to the POST itself.
func (s *Server) handlePushMessage(w http.ResponseWriter, r *http.Request) {
	reply := push.NewHTTPResource(uuid.NewString(), push.LongPolling, w)

	sess, err := s.sessionFor(r)
	if err != nil {
		push.SendNotification(reply, uidl.SessionExpired.WithURL(s.config.SessionExpiredURL), s.config.Push.DisconnectWait)
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.URL.Query().Get(protocol.ParamPushID)), []byte(sess.pushID)) != 1 {
		sess.logger.Warn("invalid push id on message", "remote", r.RemoteAddr)
		s.observer.MessageRejected(RejectSecurity)
		push.RefreshAndDisconnect(reply)
		return
	}

	ui := s.lookupUI(sess, r.URL.Query().Get(protocol.ParamUIID))
	if ui == nil {
		push.SendNotification(reply, uidl.UINotFound, s.config.Push.DisconnectWait)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	s.receivePush(r.Context(), sess, ui.id, body, false, reply)
	reply.Close()
}

func (s *Server) lookupUI(sess *Session, id string) *UI {
	sess.Lock()
	defer sess.Unlock()
	return uiFor(sess, id)
}

// connectionLost detaches res from the UI connection after the client
// went away or the server closed it.
func (s *Server) connectionLost(sess *Session, ui *UI, res push.Resource) {
	if sess.IsClosed() {
		return
	}
	sess.Lock()
	defer sess.Unlock()

	if sess.UI(ui.id) != ui {
		// The UI went away first; find whoever still holds the resource.
		ui = nil
		for _, candidate := range sess.UIs() {
			if candidate.conn != nil && candidate.conn.Resource() == res {
				ui = candidate
				break
			}
		}
		if ui == nil {
			return
		}
	}

	switch {
	case ui.conn == nil || !ui.pushConfig.Mode.Enabled():
		ui.logger.Debug("push connection closed", "resource", res.ID())
		return
	case res.Transport() == push.LongPolling:
		ui.logger.Debug("long polling request completed", "resource", res.ID())
	default:
		ui.logger.Debug("push connection unexpectedly closed",
			"resource", res.ID(), "transport", res.Transport())
	}
	ui.conn.Lost(res)
}
