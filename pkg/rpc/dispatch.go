package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/vango-dev/uisync/pkg/connector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Target is the UI an invocation list is applied to. It is passed
// explicitly through the dispatch chain.
type Target struct {
	Tracker *connector.Tracker

	// Closing reports whether the UI is closing. It is checked before every
	// invocation since an invocation may close the UI.
	Closing func() bool

	// ErrorHandler handles errors for connectors without their own handler.
	ErrorHandler connector.ErrorHandler

	// Logger carries session and UI attributes.
	Logger *slog.Logger
}

// Result counts what happened to each invocation.
type Result struct {
	Applied int
	Skipped int
	Failed  int
}

// Dispatcher applies invocations to connectors. It is safe for concurrent
// use; callers must hold the session lock of the target.
type Dispatcher struct {
	// Services resolves reserved ids of connectors outside the UI tree.
	Services map[string]connector.Connector

	// AllowDisabled lists interfaces that may be invoked on disabled
	// connectors, such as data requests that only read state.
	AllowDisabled map[string]bool

	Tracer trace.Tracer
}

// NewDispatcher creates a dispatcher using the global tracer provider.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{Tracer: otel.Tracer("uisync/rpc")}
}

// Dispatch applies invs in order. It never returns connector errors; they
// are routed to error handlers.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, invs []Invocation) Result {
	logger := target.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := d.Tracer
	if tracer == nil {
		tracer = otel.Tracer("uisync/rpc")
	}
	_, span := tracer.Start(ctx, "rpc.dispatch",
		trace.WithAttributes(attribute.Int("rpc.invocations", len(invs))))
	defer span.End()

	// Enabled state is evaluated once, before any invocation runs.
	enabled := make(map[connector.Connector]bool, len(invs))
	for _, inv := range invs {
		if c := d.resolve(target.Tracker, inv.Target()); c != nil && target.Tracker.IsConnectorEnabled(c) {
			enabled[c] = true
		}
	}

	var res Result
	for _, inv := range invs {
		c := d.resolve(target.Tracker, inv.Target())
		if c == nil {
			logger.Debug("rpc call for unknown connector", "connector_id", inv.Target(), "method", inv.Name())
			res.Skipped++
			continue
		}

		if !enabled[c] {
			if !d.allowedWhileDisabled(inv) {
				if l, ok := inv.(*LegacyInvocation); !ok || !l.IsWindowClose() {
					logger.Warn("ignoring rpc call for disabled connector",
						"connector_id", c.ConnectorID(), "type", c.ConnectorType(), "method", inv.Name())
				}
				res.Skipped++
				continue
			}
		}

		if _, service := d.Services[inv.Target()]; !service && target.Closing != nil && target.Closing() {
			logger.Debug("ignoring rpc call in closing ui", "connector_id", c.ConnectorID(), "method", inv.Name())
			res.Skipped++
			continue
		}

		if err := d.apply(c, inv); err != nil {
			res.Failed++
			span.AddEvent("rpc.error", trace.WithAttributes(
				attribute.String("rpc.connector_id", c.ConnectorID()),
				attribute.String("rpc.method", inv.Name()),
			))
			d.handleError(target, logger, c, err)
			continue
		}
		res.Applied++
	}
	span.SetAttributes(
		attribute.Int("rpc.applied", res.Applied),
		attribute.Int("rpc.skipped", res.Skipped),
		attribute.Int("rpc.failed", res.Failed),
	)
	return res
}

func (d *Dispatcher) resolve(tracker *connector.Tracker, id string) connector.Connector {
	if c, ok := d.Services[id]; ok {
		return c
	}
	return tracker.Get(id)
}

func (d *Dispatcher) allowedWhileDisabled(inv Invocation) bool {
	m, ok := inv.(*MethodInvocation)
	return ok && d.AllowDisabled[m.Interface]
}

func (d *Dispatcher) apply(c connector.Connector, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			he := &HandlerError{ConnectorID: c.ConnectorID(), Panic: r, Stack: debug.Stack()}
			if m, ok := inv.(*MethodInvocation); ok {
				he.Interface, he.Method = m.Interface, m.Method
			}
			err = he
		}
	}()

	switch inv := inv.(type) {
	case *MethodInvocation:
		return inv.Apply(c)
	case *LegacyInvocation:
		owner, ok := c.(connector.VariableOwner)
		if !ok {
			return fmt.Errorf("%w: %s (%s) sent %v", ErrNotVariableOwner,
				c.ConnectorID(), c.ConnectorType(), inv.VariableNames())
		}
		return owner.ChangeVariables(inv.Variables)
	default:
		return fmt.Errorf("rpc: unsupported invocation %T", inv)
	}
}

// handleError routes err to the connector's handler, falling back to the
// target's handler and finally the log.
func (d *Dispatcher) handleError(target Target, logger *slog.Logger, c connector.Connector, err error) {
	ev := &connector.ErrorEvent{Connector: c, Err: err}
	h := connector.FindErrorHandler(c)
	if h == nil {
		h = target.ErrorHandler
	}
	if h == nil {
		logger.Error("rpc invocation failed", "connector_id", c.ConnectorID(), "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("error handler panicked", "connector_id", c.ConnectorID(),
				"error", err, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h.HandleError(ev)
}
