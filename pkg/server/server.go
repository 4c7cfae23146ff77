package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/rpc"
	"github.com/vango-dev/uisync/pkg/uidl"
	"github.com/vango-dev/uisync/pkg/upload"
)

// InitRequest is passed to the UIFactory when a browser window asks for a
// new UI.
type InitRequest struct {
	UI         *UI
	Request    *http.Request
	WindowName string
}

// UIFactory builds the root connector of a new UI. It runs with the
// session lock held.
type UIFactory func(req *InitRequest) (connector.Connector, error)

// Server is the HTTP front of the synchronization runtime.
type Server struct {
	config   *Config
	sessions *SessionManager
	registry *connector.Registry

	parser     *rpc.Parser
	dispatcher *rpc.Dispatcher
	writer     *uidl.Writer
	uploads    *upload.Handler
	factory    UIFactory

	upgrader websocket.Upgrader
	observer Observer

	middleware []func(http.Handler) http.Handler
	routes     []route
	routerOnce sync.Once
	router     http.Handler

	httpServer *http.Server
	logger     *slog.Logger
}

type route struct {
	pattern string
	handler http.Handler
}

// New creates a server. A nil config uses DefaultConfig, a nil registry an
// empty one.
func New(config *Config, registry *connector.Registry, factory UIFactory) *Server {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
	}
	config.fillDefaults()
	if registry == nil {
		registry = connector.NewRegistry()
	}
	if config.DebugMode {
		connector.DebugMode = true
		uidl.DebugMode = true
	}

	logger := config.Logger.With("component", "server")
	s := &Server{
		config:     config,
		registry:   registry,
		parser:     rpc.NewParser(registry, config.Logger),
		dispatcher: rpc.NewDispatcher(),
		writer:     uidl.NewWriter(registry, config.Logger),
		factory:    factory,
		observer:   nopObserver{},
		logger:     logger,
	}
	s.parser.Services = make(map[string]connector.Connector)
	s.dispatcher.Services = s.parser.Services

	s.uploads = upload.NewHandler(upload.ResolverFunc(s.resolveUpload), config.Upload, config.Logger)
	s.uploads.OnDone = func(res upload.Result, err error) { s.observer.UploadDone(res, err) }

	s.sessions = NewSessionManager(config, config.Logger)
	s.sessions.SetOnSessionCreate(func(*Session) { s.observer.SessionOpened() })
	s.sessions.SetOnSessionClose(func(*Session) { s.observer.SessionClosed() })

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     config.CheckOrigin,
	}
	return s
}

// SetObserver installs an event observer. It must be called before the
// server handles requests.
func (s *Server) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// Use adds HTTP middleware wrapping every endpoint. It must be called
// before the first request.
func (s *Server) Use(mw ...func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw...)
}

// Handle mounts an additional handler, such as a metrics endpoint, next
// to the protocol endpoints.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.routes = append(s.routes, route{pattern, h})
}

// RegisterService makes c reachable by invocations under the reserved id,
// outside of any UI tree.
func (s *Server) RegisterService(id string, c connector.Connector) {
	s.parser.Services[id] = c
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		r := chi.NewRouter()
		r.Use(s.middleware...)
		r.Post(protocol.PathUIDL, s.handleUIDL)
		r.Post(protocol.PathInit, s.handleInit)
		r.Post(protocol.PathHeartbeat, s.handleHeartbeat)
		r.Get(protocol.PathPush, s.handlePush)
		r.Post(protocol.PathPush, s.handlePush)
		r.Handle(protocol.PathUpload+"/*", s.uploads)
		for _, rt := range s.routes {
			r.Handle(rt.pattern, rt.handler)
		}
		s.router = r
	})
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Run starts the server and blocks until it stops or receives SIGINT or
// SIGTERM.
func (s *Server) Run() error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
	s.sessions.Start()

	// Set up graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes all sessions and gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.sessions.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("session shutdown incomplete", "error", err)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Dispatcher returns the invocation dispatcher, for tuning AllowDisabled
// or the tracer.
func (s *Server) Dispatcher() *rpc.Dispatcher { return s.dispatcher }

// Config returns the server configuration.
func (s *Server) Config() *Config { return s.config }

// decorateRequest adds server wide response options.
func (s *Server) decorateRequest(req *uidl.Request) {
	req.Theme = s.config.Theme
	if s.config.CloseIdleSessions && s.config.SessionExpiredURL != "" {
		req.TimedRedirect = &uidl.TimedRedirect{
			Interval: int(s.config.SessionTimeout / time.Second),
			URL:      s.config.SessionExpiredURL,
		}
	}
}

// sessionFor returns the live session named by the request cookie.
func (s *Server) sessionFor(r *http.Request) (*Session, error) {
	c, err := r.Cookie(s.config.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrSessionExpired
	}
	sess := s.sessions.Get(c.Value)
	if sess == nil || sess.IsClosed() {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// uiFor returns the UI named by id. The session lock must be held.
func uiFor(sess *Session, id string) *UI {
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil
	}
	return sess.UI(n)
}
