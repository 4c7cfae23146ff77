package push

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects when responses are pushed.
type Mode int

const (
	// Disabled turns push off. The client polls for changes.
	Disabled Mode = iota
	// Manual pushes only when the application calls Push.
	Manual
	// Automatic pushes whenever the session is unlocked with pending
	// changes.
	Automatic
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case Manual:
		return "manual"
	case Automatic:
		return "automatic"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Enabled reports whether push is on.
func (m Mode) Enabled() bool { return m != Disabled }

// ParseMode parses a mode name. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "disabled", "":
		return Disabled, nil
	case "manual":
		return Manual, nil
	case "automatic":
		return Automatic, nil
	}
	return Disabled, fmt.Errorf("push: unknown mode %q", s)
}

// Transport is the wire mechanism of a push connection.
type Transport int

const (
	WebSocket Transport = iota
	Streaming
	LongPolling
)

func (t Transport) String() string {
	switch t {
	case WebSocket:
		return "websocket"
	case Streaming:
		return "streaming"
	case LongPolling:
		return "long-polling"
	default:
		return fmt.Sprintf("Transport(%d)", int(t))
	}
}

// ParseTransport parses a transport name as sent by the client.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(s) {
	case "websocket":
		return WebSocket, nil
	case "streaming":
		return Streaming, nil
	case "long-polling", "longpolling", "polling":
		return LongPolling, nil
	}
	return WebSocket, fmt.Errorf("push: unknown transport %q", s)
}

// DefaultDisconnectWait bounds how long Disconnect waits for the last
// message to be written.
const DefaultDisconnectWait = time.Second

// Config holds the push configuration of a UI.
type Config struct {
	Mode Mode

	// Transport is the preferred transport. FallbackTransport is used when
	// the preferred one cannot be established.
	Transport         Transport
	FallbackTransport Transport

	// DisconnectWait bounds the wait for an in-flight message when
	// disconnecting. Default: 1s.
	DisconnectWait time.Duration

	// SuspendTimeout bounds how long an HTTP resource is held open. Zero
	// means hold until a message is sent or the client goes away.
	SuspendTimeout time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Mode:              Disabled,
		Transport:         WebSocket,
		FallbackTransport: LongPolling,
		DisconnectWait:    DefaultDisconnectWait,
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
