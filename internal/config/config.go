package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vango-dev/uisync/internal/errors"
	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/server"
	"github.com/vango-dev/uisync/pkg/upload"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "uisync.json"

	// DefaultPort is the default server port.
	DefaultPort = 8080

	// PortEnv overrides Config.Port when set.
	PortEnv = "UISYNC_PORT"

	// Storage backends for uploads.
	StorageFile = "file"
	StorageS3   = "s3"
)

// Config represents the complete uisync.json configuration.
type Config struct {
	// Name is the application name, used as the metrics namespace and
	// tracer name when those are not set.
	Name string `json:"name,omitempty"`

	// Port is the port to listen on.
	Port int `json:"port,omitempty"`

	// Host is the host to bind to. Empty binds all interfaces.
	Host string `json:"host,omitempty"`

	Session SessionConfig `json:"session,omitempty"`
	Push    PushConfig    `json:"push,omitempty"`
	Upload  UploadConfig  `json:"upload,omitempty"`
	Metrics MetricsConfig `json:"metrics,omitempty"`
	Tracing TracingConfig `json:"tracing,omitempty"`

	// MaxRequestSize bounds UIDL request bodies in bytes.
	MaxRequestSize int64 `json:"maxRequestSize,omitempty"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "30s").
	ShutdownTimeout string `json:"shutdownTimeout,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty"`

	// Debug turns internal invariant violations into panics.
	Debug bool `json:"debug,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// SessionConfig contains session configuration.
type SessionConfig struct {
	// Timeout is how long a session survives without requests (e.g., "30m").
	Timeout string `json:"timeout,omitempty"`

	// HeartbeatInterval is the client heartbeat period (e.g., "5m").
	// "-1s" disables heartbeats.
	HeartbeatInterval string `json:"heartbeatInterval,omitempty"`

	// CloseIdleSessions expires sessions that only send heartbeats.
	CloseIdleSessions bool `json:"closeIdleSessions,omitempty"`

	// MaxSessions limits concurrent sessions. 0 means no limit.
	MaxSessions int `json:"maxSessions,omitempty"`

	CookieName    string `json:"cookieName,omitempty"`
	SecureCookies bool   `json:"secureCookies,omitempty"`

	// ExpiredURL is where clients with an expired session are sent.
	ExpiredURL string `json:"expiredURL,omitempty"`

	// PreserveOnRefresh reuses a window's UI on reload.
	PreserveOnRefresh bool `json:"preserveOnRefresh,omitempty"`
}

// PushConfig contains push configuration.
type PushConfig struct {
	// Mode is disabled, manual or automatic.
	Mode string `json:"mode,omitempty"`

	// Transport and FallbackTransport are websocket, streaming or
	// long-polling.
	Transport         string `json:"transport,omitempty"`
	FallbackTransport string `json:"fallbackTransport,omitempty"`

	// SuspendTimeout bounds how long HTTP push responses are held.
	SuspendTimeout string `json:"suspendTimeout,omitempty"`
}

// UploadConfig contains upload configuration.
type UploadConfig struct {
	// Storage is "file" or "s3".
	Storage string `json:"storage,omitempty"`

	// Dir is the directory for file storage. Default: the OS temp dir.
	Dir string `json:"dir,omitempty"`

	// Bucket and Prefix locate uploads for s3 storage.
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`

	// Region and Endpoint address the S3 service. Endpoint is only needed
	// for S3 compatible stores and enables path-style addressing.
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// MaxSize bounds an upload in bytes. 0 means no limit.
	MaxSize int64 `json:"maxSize,omitempty"`
}

// MetricsConfig contains Prometheus configuration.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Path      string `json:"path,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// TracingConfig contains OpenTelemetry configuration.
type TracingConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	TracerName string `json:"tracerName,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads configuration from the specified directory.
// It looks for uisync.json in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E165").
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("E160").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E160").
			WithDetail("Failed to parse " + path + ": " + err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E160").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E160").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() error {
	v, ok := os.LookupEnv(PortEnv)
	if !ok || v == "" {
		return nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return errors.New("E161").WithField(PortEnv, v).Wrap(err)
	}
	c.Port = port
	return nil
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "uisync"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Session.Timeout == "" {
		c.Session.Timeout = "30m"
	}
	if c.Session.HeartbeatInterval == "" {
		c.Session.HeartbeatInterval = "5m"
	}
	if c.Push.Mode == "" {
		c.Push.Mode = push.Disabled.String()
	}
	if c.Push.Transport == "" {
		c.Push.Transport = push.WebSocket.String()
	}
	if c.Push.FallbackTransport == "" {
		c.Push.FallbackTransport = push.LongPolling.String()
	}
	if c.Upload.Storage == "" {
		c.Upload.Storage = StorageFile
	}
	if c.Upload.Region == "" {
		c.Upload.Region = "us-east-1"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = c.Name
	}
	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = c.Name
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("E161").WithField("port", strconv.Itoa(c.Port))
	}
	for field, v := range map[string]string{
		"session.timeout":           c.Session.Timeout,
		"session.heartbeatInterval": c.Session.HeartbeatInterval,
		"push.suspendTimeout":       c.Push.SuspendTimeout,
		"shutdownTimeout":           c.ShutdownTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return errors.New("E163").WithField(field, v).Wrap(err)
		}
	}
	if _, err := push.ParseMode(c.Push.Mode); err != nil {
		return errors.New("E162").WithField("push.mode", c.Push.Mode).Wrap(err)
	}
	for field, v := range map[string]string{
		"push.transport":         c.Push.Transport,
		"push.fallbackTransport": c.Push.FallbackTransport,
	} {
		if _, err := push.ParseTransport(v); err != nil {
			return errors.New("E162").WithField(field, v).Wrap(err)
		}
	}
	switch c.Upload.Storage {
	case StorageFile:
	case StorageS3:
		if c.Upload.Bucket == "" {
			return errors.New("E164").WithField("upload.bucket", "")
		}
	default:
		return errors.New("E164").WithField("upload.storage", c.Upload.Storage)
	}
	if _, err := c.Level(); err != nil {
		return errors.New("E160").WithField("logLevel", c.LogLevel).Wrap(err)
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel)))
	return level, err
}

// UploadDir returns the directory for file storage.
func (c *Config) UploadDir() string {
	if c.Upload.Dir != "" {
		return c.Upload.Dir
	}
	return filepath.Join(os.TempDir(), c.Name+"-uploads")
}

// ToServerConfig converts the file configuration into a server
// configuration. The result still needs a Logger and, for uploads, a
// receiver chosen by the caller.
func (c *Config) ToServerConfig() (*server.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Validate has checked every value parsed below.
	sc := server.DefaultConfig()
	sc.Address = c.Address()
	sc.SessionTimeout, _ = parseDuration(c.Session.Timeout)
	sc.HeartbeatInterval, _ = parseDuration(c.Session.HeartbeatInterval)
	sc.CloseIdleSessions = c.Session.CloseIdleSessions
	sc.MaxSessions = c.Session.MaxSessions
	if c.Session.CookieName != "" {
		sc.CookieName = c.Session.CookieName
	}
	sc.SecureCookies = c.Session.SecureCookies
	sc.SessionExpiredURL = c.Session.ExpiredURL
	sc.PreserveOnRefresh = c.Session.PreserveOnRefresh
	if c.MaxRequestSize > 0 {
		sc.MaxRequestSize = c.MaxRequestSize
	}
	sc.ShutdownTimeout, _ = parseDuration(c.ShutdownTimeout)
	sc.DebugMode = c.Debug

	sc.Push.Mode, _ = push.ParseMode(c.Push.Mode)
	sc.Push.Transport, _ = push.ParseTransport(c.Push.Transport)
	sc.Push.FallbackTransport, _ = push.ParseTransport(c.Push.FallbackTransport)
	sc.Push.SuspendTimeout, _ = parseDuration(c.Push.SuspendTimeout)

	sc.Upload.MaxFileSize = c.Upload.MaxSize

	if err := sc.Validate(); err != nil {
		return nil, errors.New("E162").Wrap(err)
	}
	return sc, nil
}

// NewFileReceiver creates the file storage receiver for uploads.
func (c *Config) NewFileReceiver() (*upload.FileReceiver, error) {
	return upload.NewFileReceiver(c.UploadDir(), c.Upload.MaxSize)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
