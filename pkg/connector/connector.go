package connector

import (
	"sync/atomic"
)

// Connector is a node in the UI tree.
type Connector interface {
	// ConnectorID returns the id assigned when the connector was registered.
	ConnectorID() string

	// ConnectorType returns the registered type name.
	ConnectorType() string

	// Parent returns the parent connector, nil for a root.
	Parent() Connector

	// Children returns the direct children.
	Children() []Connector

	// IsEnabled reports the connector's own enabled flag.
	IsEnabled() bool

	// IsVisible reports the connector's own visible flag.
	IsVisible() bool

	// State returns the shared state sent to the client. The value must
	// encode to a JSON object.
	State() any

	// RetrievePendingCalls returns and clears the queued client RPC calls.
	RetrievePendingCalls() []ClientMethodInvocation

	base() *Base
}

// ResponseListener is notified before a response including the connector is
// written. initial is true for the first response sent for the connector.
type ResponseListener interface {
	BeforeClientResponse(initial bool)
}

// VariableOwner receives merged legacy variable changes.
type VariableOwner interface {
	ChangeVariables(vars map[string]any) error
}

// ReadOnlyer is implemented by connectors that can be read-only.
type ReadOnlyer interface {
	IsReadOnly() bool
}

// ThemeResourceUser lists theme resource keys that must be embedded in the
// response.
type ThemeResourceUser interface {
	ThemeResources() []string
}

// ClientMethodInvocation is a queued server to client RPC call.
type ClientMethodInvocation struct {
	ConnectorID string
	Interface   string
	Method      string
	Params      []any

	// Seq orders calls across connectors.
	Seq uint64
}

var invocationSeq atomic.Uint64

// Base implements the bookkeeping part of Connector. Concrete connectors
// embed it and call Init before use.
//
//	type Label struct {
//	    connector.Base
//	    state LabelState
//	}
//
//	func NewLabel(text string) *Label {
//	    l := &Label{state: LabelState{Text: text}}
//	    l.Init(l, "demo.Label")
//	    return l
//	}
type Base struct {
	self     Connector
	id       string
	typeName string
	parent   Connector
	children []Connector
	enabled  bool
	visible  bool
	tracker  *Tracker
	pending  []ClientMethodInvocation
	handler  ErrorHandler
}

// Init binds the base to its owning connector. self must be the value that
// embeds b.
func (b *Base) Init(self Connector, typeName string) {
	b.self = self
	b.typeName = typeName
	b.enabled = true
	b.visible = true
}

func (b *Base) base() *Base { return b }

// ConnectorID returns the connector id, empty until registered.
func (b *Base) ConnectorID() string { return b.id }

// ConnectorType returns the registered type name.
func (b *Base) ConnectorType() string { return b.typeName }

// Parent returns the parent connector.
func (b *Base) Parent() Connector { return b.parent }

// Children returns the direct children.
func (b *Base) Children() []Connector { return b.children }

// IsEnabled reports the own enabled flag.
func (b *Base) IsEnabled() bool { return b.enabled }

// IsVisible reports the own visible flag.
func (b *Base) IsVisible() bool { return b.visible }

// State returns nil; connectors with shared state override it.
func (b *Base) State() any { return nil }

// Tracker returns the tracker the connector is registered with.
func (b *Base) Tracker() *Tracker { return b.tracker }

// SetEnabled sets the enabled flag and marks the connector dirty.
func (b *Base) SetEnabled(enabled bool) {
	if b.enabled == enabled {
		return
	}
	b.enabled = enabled
	b.MarkDirty()
}

// SetVisible sets the visible flag. The parent is marked dirty too since
// its visible children change. A connector becoming visible is resent with
// its whole subtree.
func (b *Base) SetVisible(visible bool) {
	if b.visible == visible {
		return
	}
	b.visible = visible
	if visible {
		markTreeDirty(b.self)
	} else {
		b.MarkDirty()
	}
	if b.parent != nil {
		b.parent.base().MarkDirty()
	}
}

func markTreeDirty(c Connector) {
	c.base().MarkDirty()
	for _, child := range c.Children() {
		markTreeDirty(child)
	}
}

// SetErrorHandler sets the handler for errors raised by this connector and
// its descendants.
func (b *Base) SetErrorHandler(h ErrorHandler) { b.handler = h }

// ErrorHandler returns the connector's own error handler.
func (b *Base) ErrorHandler() ErrorHandler { return b.handler }

// MarkDirty flags the connector for the next response. It is a no-op for
// unregistered connectors.
func (b *Base) MarkDirty() {
	if b.tracker != nil {
		b.tracker.MarkDirty(b.self)
	}
}

// AddChild appends child and registers it with this connector's tracker.
func (b *Base) AddChild(child Connector) {
	cb := child.base()
	if cb.parent != nil {
		cb.parent.base().RemoveChild(child)
	}
	cb.parent = b.self
	b.children = append(b.children, child)
	if b.tracker != nil {
		b.tracker.RegisterTree(child)
	}
	b.MarkDirty()
}

// RemoveChild detaches child and unregisters its subtree.
func (b *Base) RemoveChild(child Connector) {
	for i, c := range b.children {
		if c != child {
			continue
		}
		b.children = append(b.children[:i:i], b.children[i+1:]...)
		if b.tracker != nil {
			b.tracker.UnregisterTree(child)
		}
		child.base().parent = nil
		b.MarkDirty()
		return
	}
}

// Call queues a client RPC call and marks the connector dirty.
func (b *Base) Call(iface, method string, params ...any) {
	b.pending = append(b.pending, ClientMethodInvocation{
		ConnectorID: b.id,
		Interface:   iface,
		Method:      method,
		Params:      params,
		Seq:         invocationSeq.Add(1),
	})
	b.MarkDirty()
}

// RetrievePendingCalls returns and clears the queued calls.
func (b *Base) RetrievePendingCalls() []ClientMethodInvocation {
	calls := b.pending
	b.pending = nil
	for i := range calls {
		calls[i].ConnectorID = b.id
	}
	return calls
}

// Depth returns the number of ancestors of c.
func Depth(c Connector) int {
	d := 0
	for p := c.Parent(); p != nil; p = p.Parent() {
		d++
	}
	return d
}
