package connector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
)

// DebugMode turns tracker invariant violations into panics.
var DebugMode = false

// Tracker keeps track of the connectors of one UI: registration, dirty
// state, diff state used for shared state deltas, client-side
// initialization and stream variables. It is guarded by the session lock.
type Tracker struct {
	logger *slog.Logger

	connectors map[string]Connector
	nextID     int

	dirty    []Connector
	dirtySet map[Connector]struct{}
	late     []Connector
	writing  bool
	syncID   int

	initialized map[Connector]struct{}
	diffStates  map[Connector]map[string]json.RawMessage
	visible     map[Connector]bool

	streams map[string]map[string]StreamVariable
	seckeys map[StreamVariable]string

	dirtyListeners []func(Connector)
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:      logger.With("component", "tracker"),
		connectors:  make(map[string]Connector),
		dirtySet:    make(map[Connector]struct{}),
		initialized: make(map[Connector]struct{}),
		diffStates:  make(map[Connector]map[string]json.RawMessage),
		visible:     make(map[Connector]bool),
	}
}

// Register adds c to the tracker, assigning an id if it has none, and marks
// it dirty.
func (t *Tracker) Register(c Connector) error {
	b := c.base()
	if b.self == nil {
		b.self = c
	}
	if b.id == "" {
		t.nextID++
		b.id = strconv.Itoa(t.nextID)
		for t.connectors[b.id] != nil {
			t.nextID++
			b.id = strconv.Itoa(t.nextID)
		}
	}
	if existing, ok := t.connectors[b.id]; ok {
		if existing == c {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateID, b.id)
	}
	t.connectors[b.id] = c
	b.tracker = t
	t.logger.Debug("registered connector", "connector_id", b.id, "type", b.typeName)
	t.MarkDirty(c)
	return nil
}

// RegisterTree registers c and all its descendants.
func (t *Tracker) RegisterTree(c Connector) {
	if err := t.Register(c); err != nil {
		t.logger.Warn("connector registration failed", "error", err)
		return
	}
	for _, child := range c.Children() {
		t.RegisterTree(child)
	}
}

// Unregister removes c and everything tracked for it.
func (t *Tracker) Unregister(c Connector) {
	id := c.ConnectorID()
	if t.connectors[id] != c {
		t.logger.Warn("unregistering unknown connector", "connector_id", id)
		return
	}
	delete(t.connectors, id)
	t.MarkClean(c)
	delete(t.initialized, c)
	delete(t.diffStates, c)
	delete(t.visible, c)
	if vars, ok := t.streams[id]; ok {
		for _, sv := range vars {
			delete(t.seckeys, sv)
		}
		delete(t.streams, id)
	}
	c.base().tracker = nil
	t.logger.Debug("unregistered connector", "connector_id", id)
}

// UnregisterTree unregisters c and all its descendants.
func (t *Tracker) UnregisterTree(c Connector) {
	for _, child := range c.Children() {
		t.UnregisterTree(child)
	}
	t.Unregister(c)
}

// Get returns the connector with the given id, or nil.
func (t *Tracker) Get(id string) Connector {
	return t.connectors[id]
}

// Connectors returns all registered connectors.
func (t *Tracker) Connectors() []Connector {
	out := make([]Connector, 0, len(t.connectors))
	for _, c := range t.connectors {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connectors.
func (t *Tracker) Len() int { return len(t.connectors) }

// OnMarkedDirty registers fn to be called when a clean connector becomes
// dirty.
func (t *Tracker) OnMarkedDirty(fn func(Connector)) {
	t.dirtyListeners = append(t.dirtyListeners, fn)
}

// MarkDirty adds c to the dirty set. Marking a connector dirty while a
// response is being written is a bug: it is logged (and panics in debug
// mode), and the connector is carried over to the next response.
func (t *Tracker) MarkDirty(c Connector) {
	if t.writing {
		t.logger.Error("connector marked dirty while writing response",
			"connector_id", c.ConnectorID(), "type", c.ConnectorType())
		if DebugMode {
			panic("connector: connector " + c.ConnectorID() + " marked dirty while a response is being written")
		}
		t.late = append(t.late, c)
		return
	}
	t.addDirty(c)
}

func (t *Tracker) addDirty(c Connector) {
	if _, ok := t.dirtySet[c]; ok {
		return
	}
	t.dirtySet[c] = struct{}{}
	t.dirty = append(t.dirty, c)
	for _, fn := range t.dirtyListeners {
		fn(c)
	}
}

// MarkClean removes c from the dirty set.
func (t *Tracker) MarkClean(c Connector) {
	if _, ok := t.dirtySet[c]; !ok {
		return
	}
	delete(t.dirtySet, c)
	for i, d := range t.dirty {
		if d == c {
			t.dirty = append(t.dirty[:i:i], t.dirty[i+1:]...)
			break
		}
	}
}

// MarkAllDirty marks every registered connector dirty. Used to force a
// full resync of the client.
func (t *Tracker) MarkAllDirty() {
	for _, c := range t.connectors {
		t.addDirtyOrLate(c)
	}
	t.logger.Debug("all connectors are now dirty")
}

func (t *Tracker) addDirtyOrLate(c Connector) {
	if t.writing {
		t.late = append(t.late, c)
		return
	}
	t.addDirty(c)
}

// MarkAllClean empties the dirty set.
func (t *Tracker) MarkAllClean() {
	t.dirty = t.dirty[:0]
	clear(t.dirtySet)
	t.logger.Debug("all connectors are now clean")
}

// IsDirty reports whether c is in the dirty set.
func (t *Tracker) IsDirty(c Connector) bool {
	_, ok := t.dirtySet[c]
	return ok
}

// HasDirty reports whether any connector is dirty.
func (t *Tracker) HasDirty() bool { return len(t.dirty) > 0 }

// DirtyConnectors returns the dirty connectors in the order they became
// dirty.
func (t *Tracker) DirtyConnectors() []Connector {
	out := make([]Connector, len(t.dirty))
	copy(out, t.dirty)
	return out
}

// DirtyVisibleConnectors returns the dirty connectors the client can see.
func (t *Tracker) DirtyVisibleConnectors() []Connector {
	out := make([]Connector, 0, len(t.dirty))
	for _, c := range t.dirty {
		if t.IsConnectorVisibleToClient(c) {
			out = append(out, c)
		}
	}
	return out
}

// IsWritingResponse reports whether a response is being written.
func (t *Tracker) IsWritingResponse() bool { return t.writing }

// SetWritingResponse enters or leaves the writing state. Leaving it bumps
// the sync id and re-applies connectors dirtied during the write.
func (t *Tracker) SetWritingResponse(writing bool) {
	if t.writing == writing {
		t.logger.Error("writing response state unchanged", "writing", writing)
		if DebugMode {
			panic("connector: writing response state set twice to " + strconv.FormatBool(writing))
		}
		return
	}
	t.writing = writing
	if writing {
		return
	}
	t.syncID++
	late := t.late
	t.late = nil
	for _, c := range late {
		if t.connectors[c.ConnectorID()] == c {
			t.addDirty(c)
		}
	}
}

// SyncID returns the id of the next response.
func (t *Tracker) SyncID() int { return t.syncID }

// IsClientSideInitialized reports whether c has been sent to the client.
func (t *Tracker) IsClientSideInitialized(c Connector) bool {
	_, ok := t.initialized[c]
	return ok
}

// MarkClientSideInitialized records that c has been sent to the client.
func (t *Tracker) MarkClientSideInitialized(c Connector) {
	t.initialized[c] = struct{}{}
}

// MarkAllClientSidesUninitialized forgets what the client knows, including
// the diff states.
func (t *Tracker) MarkAllClientSidesUninitialized() {
	clear(t.initialized)
	clear(t.diffStates)
}

// DiffState returns the last state sent for c, nil if none.
func (t *Tracker) DiffState(c Connector) map[string]json.RawMessage {
	return t.diffStates[c]
}

// SetDiffState records the state sent for c.
func (t *Tracker) SetDiffState(c Connector, state map[string]json.RawMessage) {
	t.diffStates[c] = state
}

// IsConnectorEnabled reports whether c and all its ancestors are enabled.
func (t *Tracker) IsConnectorEnabled(c Connector) bool {
	for ; c != nil; c = c.Parent() {
		if !c.IsEnabled() {
			return false
		}
	}
	return true
}

// IsConnectorVisibleToClient reports whether c and all its ancestors are
// visible. Results are memoized until CleanConnectorMap.
func (t *Tracker) IsConnectorVisibleToClient(c Connector) bool {
	if v, ok := t.visible[c]; ok {
		return v
	}
	v := c.IsVisible()
	if v && c.Parent() != nil {
		v = t.IsConnectorVisibleToClient(c.Parent())
	}
	t.visible[c] = v
	return v
}

// CleanConnectorMap drops per-response caches and stream variables whose
// owner is gone. Connectors hidden from the client are marked
// uninitialized so they are sent in full once visible again.
func (t *Tracker) CleanConnectorMap() {
	clear(t.visible)
	for _, c := range t.connectors {
		if !t.IsConnectorVisibleToClient(c) {
			delete(t.initialized, c)
			delete(t.diffStates, c)
		}
	}
	clear(t.visible)
	for id, vars := range t.streams {
		if t.connectors[id] != nil {
			continue
		}
		for _, sv := range vars {
			delete(t.seckeys, sv)
		}
		delete(t.streams, id)
	}
}

// AddStreamVariable registers sv under the connector and variable name and
// returns its security key. The key is stable for the lifetime of sv.
func (t *Tracker) AddStreamVariable(connectorID, name string, sv StreamVariable) string {
	if t.streams == nil {
		t.streams = make(map[string]map[string]StreamVariable)
		t.seckeys = make(map[StreamVariable]string)
	}
	vars := t.streams[connectorID]
	if vars == nil {
		vars = make(map[string]StreamVariable)
		t.streams[connectorID] = vars
	}
	vars[name] = sv
	key, ok := t.seckeys[sv]
	if !ok {
		key = uuid.NewString()
		t.seckeys[sv] = key
	}
	return key
}

// StreamVariable returns the stream variable registered for the connector
// and name, or nil.
func (t *Tracker) StreamVariable(connectorID, name string) StreamVariable {
	return t.streams[connectorID][name]
}

// SecKey returns the security key of sv, empty if unregistered.
func (t *Tracker) SecKey(sv StreamVariable) string {
	return t.seckeys[sv]
}

// CleanStreamVariable removes the stream variable registered for the
// connector and name.
func (t *Tracker) CleanStreamVariable(connectorID, name string) {
	vars := t.streams[connectorID]
	sv, ok := vars[name]
	if !ok {
		return
	}
	delete(vars, name)
	delete(t.seckeys, sv)
	if len(vars) == 0 {
		delete(t.streams, connectorID)
	}
}
