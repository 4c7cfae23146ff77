package uidl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// DebugMode turns post-write invariant violations into panics.
var DebugMode = false

// TimedRedirect asks the client to navigate to URL when the session is
// about to expire.
type TimedRedirect struct {
	// Interval is the session timeout in seconds.
	Interval int
	URL      string
}

// InvalidLayout is a layout problem reported when layout analysis is
// requested.
type InvalidLayout struct {
	ConnectorID string `json:"id"`
	Message     string `json:"message"`
}

// Request describes one response to write. All pointers must be owned by
// the session whose lock the caller holds.
type Request struct {
	Tracker   *connector.Tracker
	Cache     *ClientCache
	Resources *ResourceRegistry

	RepaintAll     bool
	AnalyzeLayouts bool
	Async          bool

	// SecurityKey is written when set, answering an init burst.
	SecurityKey string

	// Highlight is the id of a connector to highlight after repaint.
	Highlight string

	TimedRedirect *TimedRedirect

	// Timings are the cumulative and last request durations in ms.
	Timings [2]int64

	// RunPending runs deferred session tasks before the dirty set is
	// snapshotted.
	RunPending func()

	// Theme resolves theme resource keys listed by connectors.
	Theme func(key string) (string, error)

	// AnalyzeLayout reports layout problems when AnalyzeLayouts is set.
	// The server does not compute layouts and leaves it nil, so such
	// responses carry an empty invalidLayouts list.
	AnalyzeLayout func() []InvalidLayout
}

// Writer assembles responses. It is safe for concurrent use across
// sessions.
type Writer struct {
	Registry *connector.Registry
	Logger   *slog.Logger
}

// NewWriter creates a writer resolving types through reg.
func NewWriter(reg *connector.Registry, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{Registry: reg, Logger: logger.With("component", "uidl")}
}

// WriteResponse writes a complete response envelope to w.
func (wr *Writer) WriteResponse(w io.Writer, req *Request) error {
	var buf bytes.Buffer
	buf.WriteString(protocol.JSONPrefix)
	buf.WriteString("[{")
	if err := wr.writeBody(&buf, req); err != nil {
		return err
	}
	buf.WriteString("}]")
	_, err := w.Write(buf.Bytes())
	return err
}

// Write writes the response fields, without envelope, to w.
func (wr *Writer) Write(w io.Writer, req *Request) error {
	var buf bytes.Buffer
	if err := wr.writeBody(&buf, req); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (wr *Writer) writeBody(buf *bytes.Buffer, req *Request) (err error) {
	tracker := req.Tracker
	cache := req.Cache
	if cache == nil {
		cache = NewClientCache()
	}

	if req.RunPending != nil {
		req.RunPending()
	}

	if req.RepaintAll {
		cache.Clear()
		tracker.MarkAllDirty()
		tracker.MarkAllClientSidesUninitialized()
	}

	tracker.CleanConnectorMap()
	dirty := tracker.DirtyVisibleConnectors()
	wr.Logger.Debug("creating response", "dirty", len(dirty), "repaint_all", req.RepaintAll)
	for _, c := range dirty {
		if l, ok := c.(connector.ResponseListener); ok {
			l.BeforeClientResponse(!tracker.IsClientSideInitialized(c))
		}
	}
	// Listeners may have dirtied, hidden or created connectors.
	tracker.CleanConnectorMap()
	dirty = tracker.DirtyVisibleConnectors()

	tracker.SetWritingResponse(true)
	defer func() {
		tracker.SetWritingResponse(false)
		tracker.CleanConnectorMap()
	}()

	o := newObjectWriter(buf)
	o.field(protocol.FieldSyncID, tracker.SyncID())
	if req.SecurityKey != "" {
		o.field(protocol.FieldSecurityKey, req.SecurityKey)
	}

	changes, err := legacyPaint(dirty, cache)
	if err != nil {
		return err
	}
	o.field("changes", changes)

	var invalid []InvalidLayout
	if req.AnalyzeLayouts && req.AnalyzeLayout != nil {
		invalid = req.AnalyzeLayout()
	}

	states, err := encodeStates(tracker, dirty)
	if err != nil {
		return err
	}
	o.field("state", states)

	types := make(map[string]string, len(dirty))
	for _, c := range dirty {
		types[c.ConnectorID()] = tagString(cache.Tag(c.ConnectorType()))
	}
	o.field("types", types)

	hierarchy := make(map[string][]string, len(dirty))
	for _, c := range dirty {
		children := []string{}
		for _, child := range c.Children() {
			if tracker.IsConnectorVisibleToClient(child) {
				children = append(children, child.ConnectorID())
			}
		}
		hierarchy[c.ConnectorID()] = children
	}
	o.field("hierarchy", hierarchy)

	tracker.MarkAllClean()

	o.field("rpc", pendingCalls(dirty))

	o.raw("meta", wr.meta(req, cache, invalid))

	o.field("resources", wr.themeResources(req, dirty))

	wr.writeTypes(o, req, cache, dirty)

	for _, c := range dirty {
		tracker.MarkClientSideInitialized(c)
	}

	if tracker.HasDirty() {
		wr.Logger.Error("connectors marked dirty at the end of the paint phase",
			"dirty", len(tracker.DirtyConnectors()))
		if DebugMode {
			panic("uidl: dirty set not empty after writing response")
		}
	}

	o.field("timings", []int64{req.Timings[0], req.Timings[1]})
	if o.err != nil {
		return fmt.Errorf("uidl: encode response: %w", o.err)
	}
	return nil
}

// legacyPaint paints legacy connectors, parents first.
func legacyPaint(dirty []connector.Connector, cache *ClientCache) ([]any, error) {
	var painters []connector.Connector
	for _, c := range dirty {
		if _, ok := c.(connector.LegacyPainter); ok {
			painters = append(painters, c)
		}
	}
	sort.SliceStable(painters, func(i, j int) bool {
		return connector.Depth(painters[i]) < connector.Depth(painters[j])
	})

	changes := make([]any, 0, len(painters))
	for _, c := range painters {
		target := connector.NewPaintTarget(tagString(cache.Tag(c.ConnectorType())))
		target.AddAttribute("id", c.ConnectorID())
		if err := c.(connector.LegacyPainter).PaintContent(target); err != nil {
			return nil, fmt.Errorf("uidl: paint connector %s (%s): %w", c.ConnectorID(), c.ConnectorType(), err)
		}
		changes = append(changes, []any{"change", map[string]string{"format": "uidl", "pid": c.ConnectorID()}, target})
	}
	return changes, nil
}

// encodeStates returns the shared state delta of every dirty connector
// against the state last sent to the client.
func encodeStates(tracker *connector.Tracker, dirty []connector.Connector) (map[string]map[string]json.RawMessage, error) {
	states := make(map[string]map[string]json.RawMessage)
	for _, c := range dirty {
		state := c.State()
		if state == nil {
			continue
		}
		data, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("uidl: encode state of connector %s (%s): %w", c.ConnectorID(), c.ConnectorType(), err)
		}
		var full map[string]json.RawMessage
		if err := json.Unmarshal(data, &full); err != nil {
			return nil, fmt.Errorf("uidl: state of connector %s is not an object: %w", c.ConnectorID(), err)
		}
		prev := tracker.DiffState(c)
		diff := make(map[string]json.RawMessage)
		for k, v := range full {
			if old, ok := prev[k]; ok && bytes.Equal(old, v) {
				continue
			}
			diff[k] = v
		}
		tracker.SetDiffState(c, full)
		if len(diff) > 0 {
			states[c.ConnectorID()] = diff
		}
	}
	return states, nil
}

// pendingCalls collects queued client calls in invocation order.
func pendingCalls(dirty []connector.Connector) [][]any {
	var calls []connector.ClientMethodInvocation
	for _, c := range dirty {
		calls = append(calls, c.RetrievePendingCalls()...)
	}
	slices.SortFunc(calls, func(a, b connector.ClientMethodInvocation) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	out := make([][]any, 0, len(calls))
	for _, call := range calls {
		params := call.Params
		if params == nil {
			params = []any{}
		}
		out = append(out, []any{call.ConnectorID, call.Interface, call.Method, params})
	}
	return out
}

func (wr *Writer) meta(req *Request, cache *ClientCache, invalid []InvalidLayout) []byte {
	m := newOrderedMap()
	if req.Async {
		m.Set("async", true)
	}
	if req.RepaintAll {
		m.Set("repaintAll", true)
		if req.AnalyzeLayouts {
			if invalid == nil {
				invalid = []InvalidLayout{}
			}
			m.Set("invalidLayouts", invalid)
		}
		if req.Highlight != "" {
			m.Set("hl", req.Highlight)
		}
	}
	if tr := req.TimedRedirect; tr != nil {
		if req.RepaintAll || cache.lastTimeout != tr.Interval {
			m.Set("timedRedirect", map[string]any{"interval": tr.Interval + 15, "url": tr.URL})
		}
		cache.lastTimeout = tr.Interval
	}
	data, err := m.MarshalJSON()
	if err != nil {
		wr.Logger.Error("encode meta", "error", err)
		return []byte("{}")
	}
	return data
}

func (wr *Writer) themeResources(req *Request, dirty []connector.Connector) map[string]string {
	out := make(map[string]string)
	if req.Theme == nil {
		return out
	}
	for _, c := range dirty {
		user, ok := c.(connector.ThemeResourceUser)
		if !ok {
			continue
		}
		for _, key := range user.ThemeResources() {
			if _, done := out[key]; done {
				continue
			}
			content, err := req.Theme(key)
			if err != nil {
				wr.Logger.Error("theme resource not found", "resource", key, "error", err)
				continue
			}
			out[key] = content
		}
	}
	return out
}

// writeTypes emits mappings for types the client has not seen, supertypes
// first, followed by their dependencies.
func (wr *Writer) writeTypes(o *objectWriter, req *Request, cache *ClientCache, dirty []connector.Connector) {
	var used []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		used = append(used, name)
	}
	for _, c := range dirty {
		add(c.ConnectorType())
		for _, super := range wr.Registry.Ancestors(c.ConnectorType()) {
			add(super)
		}
	}

	var fresh []string
	for _, name := range used {
		if cache.Cache(name) {
			fresh = append(fresh, name)
		}
	}
	if len(fresh) == 0 {
		return
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return wr.Registry.Depth(fresh[i]) < wr.Registry.Depth(fresh[j])
	})

	mappings := newOrderedMap()
	inheritance := newOrderedMap()
	for _, name := range fresh {
		mappings.Set(name, cache.Tag(name))
		if super := wr.Registry.Super(name); super != "" {
			inheritance.Set(tagString(cache.Tag(name)), cache.Tag(super))
		}
	}
	o.field("typeMappings", mappings)
	if inheritance.Len() > 0 {
		o.field("typeInheritanceMap", inheritance)
	}

	resources := req.Resources
	if resources == nil {
		resources = NewResourceRegistry(wr.Logger)
	}
	var scripts, styles []string
	for _, name := range fresh {
		info, ok := wr.Registry.Type(name)
		if !ok {
			continue
		}
		for _, s := range info.Scripts {
			scripts = appendUnique(scripts, resources.Register(s, name))
		}
		for _, s := range info.Styles {
			styles = appendUnique(styles, resources.Register(s, name))
		}
	}
	if len(scripts) > 0 {
		o.field("scriptDependencies", scripts)
	}
	if len(styles) > 0 {
		o.field("styleDependencies", styles)
	}
}

func appendUnique(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}
