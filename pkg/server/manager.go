package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SessionManager owns the sessions of a server. It expires sessions that
// stopped sending requests and UIs that stopped sending heartbeats.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	peak     int

	config *Config

	cleanupOnce sync.Once
	done        chan struct{}
	cleanupDone chan struct{}

	created atomic.Uint64
	closed  atomic.Uint64

	onCreate sessionHook
	onClose  sessionHook

	now    func() time.Time
	logger *slog.Logger
}

// NewSessionManager creates a SessionManager. The expiry loop starts with
// Start.
func NewSessionManager(config *Config, logger *slog.Logger) *SessionManager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		config:      config,
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
		now:         time.Now,
		logger:      logger.With("component", "session_manager"),
	}
}

// Start runs the expiry loop until Shutdown. Calling it again is a no-op.
func (sm *SessionManager) Start() {
	sm.cleanupOnce.Do(func() {
		go sm.cleanupLoop()
	})
}

// Create creates and tracks a new session.
func (sm *SessionManager) Create() (*Session, error) {
	sm.mu.Lock()
	if limit := sm.config.MaxSessions; limit > 0 && len(sm.sessions) >= limit {
		sm.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}
	s := newSession(sm.logger)
	sm.sessions[s.ID] = s
	sm.peak = max(sm.peak, len(sm.sessions))
	sm.mu.Unlock()

	sm.created.Add(1)
	sm.logger.Debug("session created", "session_id", s.ID)
	sm.onCreate.call(s)
	return s, nil
}

// Get returns the session with the given id, or nil.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Close closes and forgets the session with the given id. Unknown ids are
// ignored.
func (sm *SessionManager) Close(id string) {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	if ok {
		sm.closeSession(s)
	}
}

func (sm *SessionManager) closeSession(s *Session) {
	s.Lock()
	s.close()
	s.Unlock()

	sm.closed.Add(1)
	sm.logger.Debug("session closed", "session_id", s.ID)
	sm.onClose.call(s)
}

// snapshot copies the session list so callers can lock sessions without
// holding the manager lock.
func (sm *SessionManager) snapshot() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	list := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		list = append(list, s)
	}
	return list
}

// Count returns the number of open sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *SessionManager) cleanupLoop() {
	defer close(sm.cleanupDone)

	interval := sm.config.CleanupInterval
	if interval <= 0 {
		interval = DefaultConfig().CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sm.cleanupExpired()
		case <-sm.done:
			return
		}
	}
}

// sessionActive reports whether a session has seen a request within the
// session timeout. With CloseIdleSessions only UIDL requests count.
func (sm *SessionManager) sessionActive(s *Session, now time.Time) bool {
	timeout := sm.config.SessionTimeout
	if timeout <= 0 {
		return true
	}
	if now.Sub(s.LastAccess()) >= timeout {
		return false
	}
	return !sm.config.CloseIdleSessions || now.Sub(s.LastRequest()) < timeout
}

// cleanupExpired closes expired sessions, closes UIs that missed their
// heartbeats and removes closing UIs.
func (sm *SessionManager) cleanupExpired() {
	now := sm.now()
	expired := sm.expire(now)
	for _, s := range expired {
		sm.closeSession(s)
	}
	for _, s := range sm.snapshot() {
		sm.cleanupUIs(s, now)
	}
	if len(expired) > 0 {
		sm.logger.Info("expired sessions", "expired", len(expired), "open", sm.Count())
	}
}

// expire removes the inactive sessions from the map and returns them.
func (sm *SessionManager) expire(now time.Time) []*Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var expired []*Session
	for id, s := range sm.sessions {
		if !sm.sessionActive(s, now) {
			delete(sm.sessions, id)
			expired = append(expired, s)
		}
	}
	return expired
}

func (sm *SessionManager) cleanupUIs(s *Session, now time.Time) {
	timeout := sm.config.heartbeatTimeout()

	s.Lock()
	defer s.Unlock()
	for _, ui := range s.UIs() {
		if !ui.closing && timeout >= 0 && now.Sub(ui.LastHeartbeat()) >= timeout {
			ui.logger.Debug("closing inactive ui")
			ui.Close()
		}
	}
	for _, ui := range s.UIs() {
		if ui.closing {
			ui.logger.Debug("removing closed ui")
			s.removeUI(ui)
		}
	}
}

// Shutdown stops the expiry loop and closes all sessions.
func (sm *SessionManager) Shutdown() {
	_ = sm.ShutdownWithContext(context.Background())
}

// ShutdownWithContext stops the expiry loop and closes all sessions,
// returning early when ctx is done.
func (sm *SessionManager) ShutdownWithContext(ctx context.Context) error {
	select {
	case <-sm.done:
	default:
		close(sm.done)
	}
	// Without a running loop there is nothing to wait for.
	sm.cleanupOnce.Do(func() { close(sm.cleanupDone) })
	select {
	case <-sm.cleanupDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	open := sm.snapshot()
	sm.mu.Lock()
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, s := range open {
		if err := ctx.Err(); err != nil {
			return err
		}
		sm.closeSession(s)
	}
	sm.logger.Info("sessions closed on shutdown", "closed", len(open))
	return nil
}

// Stats counts sessions and their UIs. It neither runs queued access
// tasks nor pushes.
func (sm *SessionManager) Stats() ManagerStats {
	open := sm.snapshot()
	stats := ManagerStats{
		Active:       len(open),
		TotalCreated: sm.created.Load(),
		TotalClosed:  sm.closed.Load(),
	}
	for _, s := range open {
		stats.UIs += s.uiCount()
	}
	sm.mu.RLock()
	stats.Peak = sm.peak
	sm.mu.RUnlock()
	return stats
}

// ManagerStats is a point-in-time view of a SessionManager.
type ManagerStats struct {
	Active       int
	UIs          int
	TotalCreated uint64
	TotalClosed  uint64
	Peak         int
}

// ForEach calls fn for every open session until fn returns false. fn runs
// without the manager lock held.
func (sm *SessionManager) ForEach(fn func(*Session) bool) {
	for _, s := range sm.snapshot() {
		if !fn(s) {
			return
		}
	}
}

// SetOnSessionCreate installs a hook run after a session is created.
func (sm *SessionManager) SetOnSessionCreate(fn func(*Session)) { sm.onCreate = fn }

// SetOnSessionClose installs a hook run after a session is closed.
func (sm *SessionManager) SetOnSessionClose(fn func(*Session)) { sm.onClose = fn }

type sessionHook func(*Session)

func (h sessionHook) call(s *Session) {
	if h != nil {
		h(s)
	}
}
