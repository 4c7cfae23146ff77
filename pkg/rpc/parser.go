package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// Burst is a decoded client message.
type Burst struct {
	// Init is set when the client asked for the security key instead of
	// sending invocations.
	Init bool

	// Invocations in received order, legacy runs merged.
	Invocations []Invocation

	// Skipped counts invocations dropped because their connector or
	// method was unknown.
	Skipped int
}

// Parser decodes bursts. It is safe for concurrent use.
type Parser struct {
	Registry *connector.Registry
	Logger   *slog.Logger

	// Services holds connectors that live outside any UI tree, keyed by
	// their reserved id.
	Services map[string]connector.Connector
}

// NewParser creates a parser resolving RPC methods through reg.
func NewParser(reg *connector.Registry, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{Registry: reg, Logger: logger.With("component", "rpc")}
}

// Parse decodes msg. token is the session's CSRF token; tracker resolves
// connector ids for the UI the message belongs to. It must be called with
// the session lock held.
//
// An empty or single-segment message yields an empty burst. A token
// mismatch is a *SecurityError. Malformed payloads are *protocol.Error.
func (p *Parser) Parse(msg, token string, tracker *connector.Tracker) (*Burst, error) {
	parts := protocol.SplitBurst(msg)
	switch {
	case len(parts) == 1 && parts[0] == protocol.InitToken:
		return &Burst{Init: true}, nil
	case len(parts) < 2:
		return &Burst{}, nil
	case len(parts) > 2:
		return nil, protocol.NewError(protocol.ErrCodeMultiBurst,
			fmt.Sprintf("multiple bursts not supported, got %d segments", len(parts)))
	}

	if subtle.ConstantTimeCompare([]byte(parts[0]), []byte(token)) != 1 {
		return nil, &SecurityError{Reason: "invalid security key in burst"}
	}

	payload, err := protocol.UnescapeBurst(parts[1])
	if err != nil {
		return nil, err
	}
	burst := &Burst{}
	if payload == "" {
		return burst, nil
	}

	var tuples []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &tuples); err != nil {
		return nil, protocol.WrapError(protocol.ErrCodeMalformed, "invocation array", err)
	}

	var previous Invocation
	for i, raw := range tuples {
		inv, err := p.parseInvocation(raw, previous, tracker)
		if err != nil {
			return nil, protocol.WrapError(protocol.ErrCodeMalformed, fmt.Sprintf("invocation %d", i), err)
		}
		switch {
		case inv == nil:
			burst.Skipped++
		case inv == previous:
			// merged into the previous legacy invocation
		default:
			burst.Invocations = append(burst.Invocations, inv)
			previous = inv
		}
	}
	return burst, nil
}

type tuple struct {
	connectorID string
	iface       string
	method      string
	params      []json.RawMessage
}

func decodeTuple(raw json.RawMessage) (tuple, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return tuple{}, err
	}
	if len(fields) != 4 {
		return tuple{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	var t tuple
	if err := json.Unmarshal(fields[0], &t.connectorID); err != nil {
		return tuple{}, fmt.Errorf("connector id: %w", err)
	}
	if err := json.Unmarshal(fields[1], &t.iface); err != nil {
		return tuple{}, fmt.Errorf("interface name: %w", err)
	}
	if err := json.Unmarshal(fields[2], &t.method); err != nil {
		return tuple{}, fmt.Errorf("method name: %w", err)
	}
	if err := json.Unmarshal(fields[3], &t.params); err != nil {
		return tuple{}, fmt.Errorf("parameters: %w", err)
	}
	return t, nil
}

// parseInvocation returns nil for a skipped invocation and previous when
// the invocation was merged into it.
func (p *Parser) parseInvocation(raw json.RawMessage, previous Invocation, tracker *connector.Tracker) (Invocation, error) {
	t, err := decodeTuple(raw)
	if err != nil {
		return nil, err
	}

	legacy := t.iface == protocol.LegacyInterface && t.method == protocol.LegacyMethod
	if legacy && len(t.params) != 2 {
		return nil, fmt.Errorf("invalid parameters in legacy change variables call, expected 2, was %d", len(t.params))
	}

	var c connector.Connector
	if t.connectorID == protocol.DragAndDropID {
		c = p.Services[t.connectorID]
	} else {
		c = tracker.Get(t.connectorID)
		if c == nil {
			p.Logger.Warn("rpc call for unknown connector",
				"connector_id", t.connectorID, "method", t.iface+"."+t.method)
			tracker.MarkAllDirty()
			return nil, nil
		}
	}

	if legacy {
		return p.parseLegacy(t, previous, tracker)
	}

	if c == nil {
		p.Logger.Warn("rpc call to unavailable service",
			"connector_id", t.connectorID, "method", t.iface+"."+t.method)
		return nil, nil
	}
	if !p.Registry.HasInterface(c.ConnectorType(), t.iface) {
		// Parameters are not even decoded for unregistered interfaces.
		p.Logger.Warn("ignoring rpc call, no implementation registered",
			"connector_id", t.connectorID, "type", c.ConnectorType(), "method", t.iface+"."+t.method)
		return nil, nil
	}
	m, ok := p.Registry.LookupRPC(c.ConnectorType(), t.iface, t.method, len(t.params))
	if !ok {
		p.Logger.Warn("ignoring rpc call, no matching method",
			"connector_id", t.connectorID, "type", c.ConnectorType(),
			"method", t.iface+"."+t.method, "arity", len(t.params))
		return nil, nil
	}
	args, err := m.Decode(t.params)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", t.iface, t.method, err)
	}
	return &MethodInvocation{
		ConnectorID: t.connectorID,
		Interface:   t.iface,
		Method:      t.method,
		Args:        args,
		method:      m,
	}, nil
}

func (p *Parser) parseLegacy(t tuple, previous Invocation, tracker *connector.Tracker) (Invocation, error) {
	var name string
	if err := json.Unmarshal(t.params[0], &name); err != nil {
		return nil, fmt.Errorf("variable name: %w", err)
	}
	value, err := DecodeValue(t.params[1], tracker)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	if prev, ok := previous.(*LegacyInvocation); ok && prev.ConnectorID == t.connectorID {
		prev.SetVariable(name, value)
		return prev, nil
	}
	return NewLegacyInvocation(t.connectorID, name, value), nil
}
