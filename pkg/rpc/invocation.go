package rpc

import (
	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// Invocation is one decoded client to server call.
type Invocation interface {
	// Target returns the id of the addressed connector.
	Target() string

	// Name returns "interface.method" for logging.
	Name() string
}

// MethodInvocation calls a registered server RPC method.
type MethodInvocation struct {
	ConnectorID string
	Interface   string
	Method      string
	Args        []any

	method connector.Method
}

// Target returns the connector id.
func (m *MethodInvocation) Target() string { return m.ConnectorID }

// Name returns "interface.method".
func (m *MethodInvocation) Name() string { return m.Interface + "." + m.Method }

// Apply invokes the method on c.
func (m *MethodInvocation) Apply(c connector.Connector) error {
	return m.method.Invoke(c, m.Args)
}

// LegacyInvocation carries merged legacy variable changes for one connector.
type LegacyInvocation struct {
	ConnectorID string
	Variables   map[string]any
	order       []string
}

// NewLegacyInvocation creates a legacy invocation with a single variable.
func NewLegacyInvocation(connectorID, name string, value any) *LegacyInvocation {
	l := &LegacyInvocation{ConnectorID: connectorID, Variables: make(map[string]any, 1)}
	l.SetVariable(name, value)
	return l
}

// Target returns the connector id.
func (l *LegacyInvocation) Target() string { return l.ConnectorID }

// Name returns the legacy signature.
func (l *LegacyInvocation) Name() string {
	return protocol.LegacyInterface + "." + protocol.LegacyMethod
}

// SetVariable sets a variable, overwriting an earlier value of the same
// name.
func (l *LegacyInvocation) SetVariable(name string, value any) {
	if _, ok := l.Variables[name]; !ok {
		l.order = append(l.order, name)
	}
	l.Variables[name] = value
}

// VariableNames returns the variable names in first-seen order.
func (l *LegacyInvocation) VariableNames() []string {
	return l.order
}

// IsWindowClose reports whether the invocation is exactly close=true, which
// clients send for windows that may already be removed.
func (l *LegacyInvocation) IsWindowClose() bool {
	if len(l.Variables) != 1 {
		return false
	}
	v, ok := l.Variables[protocol.LegacyCloseVariable].(bool)
	return ok && v
}
