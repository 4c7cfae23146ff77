package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/rpc"
	"github.com/vango-dev/uisync/pkg/uidl"
	"github.com/vango-dev/uisync/pkg/upload"
)

// Query parameters not shared with other packages.
const (
	paramWindowName = "v-wn"
	paramHighlight  = "highlightComponent"
)

var errNoRoot = errors.New("server: UI factory returned no root connector")

// handleUIDL serves a client message and answers with the changes it
// caused. Everything between reading the UI and writing the response
// happens under the session lock.
func (s *Server) handleUIDL(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", protocol.JSONContentType)

	sess, err := s.sessionFor(r)
	if err != nil {
		w.Write(uidl.CriticalNotification(uidl.SessionExpired.WithURL(s.config.SessionExpiredURL)))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	if err != nil {
		sess.logger.Warn("reading uidl request failed", "error", err)
		s.observer.MessageRejected(RejectProtocol)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	opts := responseOptions{repaintAll: q.Get(protocol.ParamRepaintAll) != ""}
	if opts.repaintAll {
		opts.analyzeLayouts = q.Get(protocol.ParamAnalyzeLayouts) != ""
		opts.highlight = q.Get(paramHighlight)
	}

	sess.Lock()
	defer sess.Unlock()

	ui := uiFor(sess, q.Get(protocol.ParamUIID))
	if ui == nil {
		sess.logger.Debug("uidl request for unknown ui", "ui_id", q.Get(protocol.ParamUIID))
		w.Write(uidl.CriticalNotification(uidl.UINotFound))
		return
	}

	now := time.Now()
	sess.beginRequest(now)
	defer func() { sess.endRequest(time.Now()) }()
	ui.heartbeat(now)

	init, err := s.processMessage(r.Context(), ui, string(body))
	if err != nil {
		s.rejectMessage(ui, err)
		w.Write(uidl.RefreshNotification())
		return
	}
	if init {
		opts.securityKey = sess.csrfToken
	}

	var buf bytes.Buffer
	if err := ui.writeResponse(&buf, opts); err != nil {
		sess.handleError(ui.root, err)
		w.Write(uidl.CriticalNotification(uidl.InternalError))
		return
	}
	w.Write(buf.Bytes())
}

// processMessage parses msg and applies its invocations to ui. It reports
// whether msg was an init burst.
func (s *Server) processMessage(ctx context.Context, ui *UI, msg string) (bool, error) {
	burst, err := s.parser.Parse(msg, ui.session.csrfToken, ui.tracker)
	if err != nil {
		return false, &ProtocolError{SessionID: ui.session.ID, UIID: ui.id, Op: "parse", Err: err}
	}
	if burst.Init {
		return true, nil
	}
	res := s.dispatcher.Dispatch(ctx, rpc.Target{
		Tracker:      ui.tracker,
		Closing:      ui.IsClosing,
		ErrorHandler: ui.session.handler,
		Logger:       ui.logger,
	}, burst.Invocations)
	res.Skipped += burst.Skipped
	s.observer.Dispatched(res)
	return false, nil
}

func (s *Server) rejectMessage(ui *UI, err error) {
	reason := RejectProtocol
	if rpc.IsSecurityError(err) {
		reason = RejectSecurity
	}
	ui.logger.Warn("client message rejected", "reason", reason, "error", err)
	s.observer.MessageRejected(reason)
}

type initResponse struct {
	UIID   int    `json:"v-uiId"`
	PushID string `json:"Vaadin-Push-ID,omitempty"`
	UIDL   string `json:"uidl"`
}

// handleInit creates the UI of a browser window, or reuses the preserved
// one, and returns its first full response.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFor(r)
	if err != nil {
		sess, err = s.sessions.Create()
		if err != nil {
			s.logger.Warn("session rejected", "error", err)
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}
		s.setSessionCookie(w, sess)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	windowName := r.FormValue(paramWindowName)

	sess.Lock()
	defer sess.Unlock()

	now := time.Now()
	sess.beginRequest(now)
	defer func() { sess.endRequest(time.Now()) }()

	ui, err := s.initUI(sess, r, windowName)
	if err != nil {
		sess.handleError(nil, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	ui.heartbeat(now)

	var body bytes.Buffer
	if err := ui.writeInitial(&body, responseOptions{repaintAll: true, securityKey: sess.csrfToken}); err != nil {
		sess.handleError(ui.root, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	resp := initResponse{UIID: ui.id, UIDL: body.String()}
	if ui.pushConfig.Mode.Enabled() {
		resp.PushID = sess.pushID
	}
	w.Header().Set("Content-Type", protocol.JSONContentType)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		ui.logger.Debug("writing init response failed", "error", err)
	}
}

// initUI returns the UI to serve an init request. The lock must be held.
func (s *Server) initUI(sess *Session, r *http.Request, windowName string) (*UI, error) {
	if s.config.PreserveOnRefresh {
		if ui := sess.preservedUI(windowName); ui != nil {
			ui.logger.Debug("reusing preserved ui", "window_name", windowName)
			return ui, nil
		}
	}
	if s.factory == nil {
		return nil, ErrNoUIFactory
	}

	ui := newUI(sess, s.writer, s.config.Push, s.decorateRequest)
	ui.windowName = windowName
	root, err := s.factory(&InitRequest{UI: ui, Request: r, WindowName: windowName})
	if err == nil && root == nil {
		err = errNoRoot
	}
	if err != nil {
		ui.detach()
		return nil, NewSessionError(sess.ID, "create ui", err)
	}
	ui.SetRoot(root)
	sess.addUI(ui)
	if s.config.PreserveOnRefresh && windowName != "" {
		sess.preserved[windowName] = ui.id
	}
	ui.logger.Debug("ui created", "window_name", windowName)
	return ui, nil
}

// handleHeartbeat keeps a UI alive. It answers 410 for an expired session
// and 404 for an unknown UI.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFor(r)
	if err != nil {
		http.Error(w, "Session expired", http.StatusGone)
		return
	}
	now := time.Now()
	sess.touch(now)

	sess.Lock()
	ui := uiFor(sess, r.URL.Query().Get(protocol.ParamUIID))
	if ui != nil {
		ui.heartbeat(now)
	}
	sess.Unlock()

	if ui == nil {
		http.Error(w, "UI not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// resolveUpload finds the UI an upload is addressed to.
func (s *Server) resolveUpload(r *http.Request, uiID string) (*upload.Target, error) {
	sess, err := s.sessionFor(r)
	if err != nil {
		return nil, upload.ErrSessionExpired
	}
	sess.touch(time.Now())

	sess.Lock()
	ui := uiFor(sess, uiID)
	sess.Unlock()
	if ui == nil {
		return nil, upload.ErrUINotFound
	}
	return &upload.Target{
		Locker:      sess,
		Tracker:     ui.tracker,
		HandleError: sess.handleError,
	}, nil
}
