package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/uidl"
)

// Session is the server side state of one browser session: its UIs, the
// security key and the lock guarding all of it.
type Session struct {
	// Identity
	ID        string
	CreatedAt time.Time

	csrfToken string
	pushID    string

	mu     sync.Mutex
	locked atomic.Bool

	// Guarded by mu.
	uis       map[int]*UI
	nextUIID  int
	preserved map[string]int
	resources *uidl.ResourceRegistry
	handler   connector.ErrorHandler

	queueMu sync.Mutex
	queue   []func()

	lastAccess  atomic.Int64 // unix nanos, any request
	lastRequest atomic.Int64 // unix nanos, UIDL requests only
	closed      atomic.Bool

	// Request timers, guarded by mu.
	requestStart time.Time
	cumulative   time.Duration
	last         time.Duration

	logger *slog.Logger
}

// generateSessionID generates a cryptographically random session ID.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// SECURITY: Fatal on entropy failure - weak IDs are dangerous
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

func newSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	id := generateSessionID()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		csrfToken: uuid.NewString(),
		pushID:    uuid.NewString(),
		uis:       make(map[int]*UI),
		preserved: make(map[string]int),
		logger:    logger.With("session_id", id),
	}
	s.resources = uidl.NewResourceRegistry(s.logger)
	s.touch(now)
	s.lastRequest.Store(now.UnixNano())
	return s
}

// CSRFToken returns the security key every burst must carry.
func (s *Session) CSRFToken() string { return s.csrfToken }

// PushID returns the id that authorizes push handshakes.
func (s *Session) PushID() string { return s.pushID }

// Lock acquires the session lock.
func (s *Session) Lock() {
	s.mu.Lock()
	s.locked.Store(true)
}

// Unlock runs pending access tasks, pushes changes of UIs in automatic
// push mode and releases the lock. Tasks queued while the lock was being
// released are picked up by trying the lock again.
func (s *Session) Unlock() {
	for {
		s.runPending()
		s.pushAutomatic()
		s.locked.Store(false)
		s.mu.Unlock()

		if !s.hasQueued() || !s.mu.TryLock() {
			return
		}
		s.locked.Store(true)
	}
}

// uiCount reads the number of UIs under the mutex alone, bypassing the
// task and push work of Unlock.
func (s *Session) uiCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uis)
}

// HasLock reports whether the session lock is held.
func (s *Session) HasLock() bool { return s.locked.Load() }

var _ push.Locker = (*Session)(nil)

// Access runs fn with the session lock held. fn runs right away when the
// lock is free; otherwise it is queued and runs before the current holder
// releases the lock.
func (s *Session) Access(fn func()) {
	s.queueMu.Lock()
	s.queue = append(s.queue, fn)
	s.queueMu.Unlock()

	if s.mu.TryLock() {
		s.locked.Store(true)
		s.Unlock()
	}
}

func (s *Session) hasQueued() bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue) > 0
}

// runPending runs the queued access tasks. The lock must be held.
func (s *Session) runPending() {
	for {
		s.queueMu.Lock()
		tasks := s.queue
		s.queue = nil
		s.queueMu.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			s.runTask(fn)
		}
	}
}

func (s *Session) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &HandlerError{SessionID: s.ID, Panic: r, Stack: debug.Stack()}
			s.handleError(nil, err)
		}
	}()
	fn()
}

func (s *Session) pushAutomatic() {
	if s.closed.Load() {
		return
	}
	for _, ui := range s.uis {
		if ui.pushConfig.Mode != push.Automatic || ui.closing {
			continue
		}
		if err := ui.Push(); err != nil {
			ui.logger.Warn("automatic push failed", "error", err)
		}
	}
}

// SetErrorHandler sets the handler for connector errors that have no
// handler of their own. The lock must be held.
func (s *Session) SetErrorHandler(h connector.ErrorHandler) { s.handler = h }

// ErrorHandler returns the session error handler. The lock must be held.
func (s *Session) ErrorHandler() connector.ErrorHandler { return s.handler }

// handleError routes err to the nearest handler of c, then the session
// handler, and logs it when there is neither.
func (s *Session) handleError(c connector.Connector, err error) {
	h := connector.FindErrorHandler(c)
	if h == nil {
		h = s.handler
	}
	if h == nil {
		attrs := []any{"error", err}
		if c != nil {
			attrs = append(attrs, "connector_id", c.ConnectorID())
		}
		s.logger.Error("unhandled connector error", attrs...)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("error handler panicked", "error", err, "panic", r)
		}
	}()
	h.HandleError(&connector.ErrorEvent{Connector: c, Err: err})
}

// UI returns the UI with the given id, or nil. The lock must be held.
func (s *Session) UI(id int) *UI { return s.uis[id] }

// UIs returns the UIs ordered by id. The lock must be held.
func (s *Session) UIs() []*UI {
	uis := make([]*UI, 0, len(s.uis))
	for _, ui := range s.uis {
		uis = append(uis, ui)
	}
	sort.Slice(uis, func(i, j int) bool { return uis[i].id < uis[j].id })
	return uis
}

func (s *Session) addUI(ui *UI) {
	s.uis[ui.id] = ui
}

// removeUI drops ui from the session and disconnects its push connection.
func (s *Session) removeUI(ui *UI) {
	if s.uis[ui.id] != ui {
		return
	}
	delete(s.uis, ui.id)
	for name, id := range s.preserved {
		if id == ui.id {
			delete(s.preserved, name)
		}
	}
	ui.detach()
}

// preservedUI returns the UI remembered for a browser window.
func (s *Session) preservedUI(windowName string) *UI {
	if windowName == "" {
		return nil
	}
	id, ok := s.preserved[windowName]
	if !ok {
		return nil
	}
	ui := s.uis[id]
	if ui == nil || ui.closing {
		delete(s.preserved, windowName)
		return nil
	}
	return ui
}

// IsClosed reports whether the session was closed.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// close closes every UI and marks the session closed. The lock must be
// held.
func (s *Session) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for _, ui := range s.UIs() {
		ui.Close()
		s.removeUI(ui)
	}
}

func (s *Session) touch(now time.Time) { s.lastAccess.Store(now.UnixNano()) }

// LastAccess returns the time of the last request of any kind.
func (s *Session) LastAccess() time.Time { return time.Unix(0, s.lastAccess.Load()) }

// LastRequest returns the time of the last UIDL request.
func (s *Session) LastRequest() time.Time { return time.Unix(0, s.lastRequest.Load()) }

// beginRequest starts the request timer. The lock must be held.
func (s *Session) beginRequest(now time.Time) {
	s.requestStart = now
	s.touch(now)
	s.lastRequest.Store(now.UnixNano())
}

// endRequest stops the request timer. The lock must be held.
func (s *Session) endRequest(now time.Time) {
	if s.requestStart.IsZero() {
		return
	}
	s.last = now.Sub(s.requestStart)
	s.cumulative += s.last
	s.requestStart = time.Time{}
}

// timings returns the cumulative and last request durations in
// milliseconds, counting the request in progress.
func (s *Session) timings(now time.Time) [2]int64 {
	cumulative, last := s.cumulative, s.last
	if !s.requestStart.IsZero() {
		last = now.Sub(s.requestStart)
		cumulative += last
	}
	return [2]int64{cumulative.Milliseconds(), last.Milliseconds()}
}
