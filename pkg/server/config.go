package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/upload"
)

// DefaultCookieName is the name of the session cookie.
const DefaultCookieName = "UISYNCSESSIONID"

// Config holds configuration for the server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the origin of push handshakes.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// Sessions

	// SessionTimeout is how long a session survives without any request,
	// heartbeats included. Default: 30 minutes.
	SessionTimeout time.Duration

	// CloseIdleSessions expires sessions that only receive heartbeats for
	// longer than SessionTimeout.
	CloseIdleSessions bool

	// HeartbeatInterval is the client heartbeat period. A UI that misses
	// three heartbeats is closed. Default: 5 minutes.
	HeartbeatInterval time.Duration

	// CleanupInterval is the interval of the expiry loop.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// MaxSessions is the maximum number of concurrent sessions.
	// 0 means no limit.
	MaxSessions int

	// CookieName names the session cookie. Default: DefaultCookieName.
	CookieName string

	// SecureCookies sets the Secure flag on the session cookie.
	SecureCookies bool

	// Protocol

	// MaxRequestSize bounds a UIDL request body.
	// Default: protocol.MaxMessageSize.
	MaxRequestSize int64

	// SessionExpiredURL is sent to clients whose session expired. When
	// set together with CloseIdleSessions, responses carry a timed
	// redirect to it.
	SessionExpiredURL string

	// PreserveOnRefresh reuses the UI of a browser window on reload.
	PreserveOnRefresh bool

	// Push is the push configuration of new UIs.
	// Default: push.DefaultConfig().
	Push *push.Config

	// WebSocket tunes WebSocket push resources.
	WebSocket push.WebSocketConfig

	// Upload configures the upload handler.
	// Default: upload.DefaultConfig().
	Upload *upload.Config

	// Theme resolves theme resource keys requested by connectors.
	Theme func(key string) (string, error)

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// DebugMode turns tracker and response invariant violations into
	// panics.
	// Default: false.
	DebugMode bool
}

// DefaultConfig returns a Config with sensible defaults.
// SECURITY: CheckOrigin enforces same-origin by default.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		SessionTimeout:    30 * time.Minute,
		HeartbeatInterval: 5 * time.Minute,
		CleanupInterval:   30 * time.Second,
		CookieName:        DefaultCookieName,
		MaxRequestSize:    protocol.MaxMessageSize,
		Push:              push.DefaultConfig(),
		Upload:            upload.DefaultConfig(),
	}
}

// SameOriginCheck validates that the request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return r.Host != "" && originURL.Host == r.Host
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Push = c.Push.Clone()
	if c.Upload != nil {
		u := *c.Upload
		clone.Upload = &u
	}
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithPushMode sets the push mode of new UIs and returns the config for
// chaining.
func (c *Config) WithPushMode(mode push.Mode) *Config {
	if c.Push == nil {
		c.Push = push.DefaultConfig()
	}
	c.Push.Mode = mode
	return c
}

// WithSessionTimeout sets the session timeout and returns the config for
// chaining.
func (c *Config) WithSessionTimeout(d time.Duration) *Config {
	c.SessionTimeout = d
	return c
}

// WithDebugMode sets DebugMode and returns the config for chaining.
func (c *Config) WithDebugMode(debug bool) *Config {
	c.DebugMode = debug
	return c
}

// heartbeatTimeout permits three missed heartbeats before a UI is closed.
func (c *Config) heartbeatTimeout() time.Duration {
	if c.HeartbeatInterval <= 0 {
		return -1
	}
	return c.HeartbeatInterval * 31 / 10
}

// fillDefaults sets every unset field to its default.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = d.CheckOrigin
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.CookieName == "" {
		c.CookieName = d.CookieName
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = d.MaxRequestSize
	}
	if c.Push == nil {
		c.Push = d.Push
	}
	if c.Upload == nil {
		c.Upload = d.Upload
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.SessionTimeout < 0 {
		errs = append(errs, fmt.Errorf("server: negative SessionTimeout %v", c.SessionTimeout))
	}
	if c.CleanupInterval < 0 {
		errs = append(errs, fmt.Errorf("server: negative CleanupInterval %v", c.CleanupInterval))
	}
	if c.MaxRequestSize < 0 {
		errs = append(errs, fmt.Errorf("server: negative MaxRequestSize %d", c.MaxRequestSize))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server: negative MaxSessions %d", c.MaxSessions))
	}
	if c.Push != nil && c.Push.Mode.Enabled() && c.Push.Transport == c.Push.FallbackTransport && c.Push.Transport == push.WebSocket {
		errs = append(errs, errors.New("server: WebSocket push needs an HTTP fallback transport"))
	}
	return errors.Join(errs...)
}
