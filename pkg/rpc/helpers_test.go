package rpc

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
)

const testToken = "abc"

var errClickFailed = errors.New("click failed")

type testButton struct {
	connector.Base
	events *[]string
	vars   map[string]any
}

func newTestButton(events *[]string) *testButton {
	b := &testButton{events: events, vars: map[string]any{}}
	b.Init(b, "test.Button")
	return b
}

func (b *testButton) ChangeVariables(vars map[string]any) error {
	for k, v := range vars {
		b.vars[k] = v
	}
	*b.events = append(*b.events, "vars:"+b.ConnectorID())
	return nil
}

type testLayout struct {
	connector.Base
}

func newTestLayout() *testLayout {
	l := &testLayout{}
	l.Init(l, "test.Layout")
	return l
}

func newTestRegistry() *connector.Registry {
	reg := connector.NewRegistry()
	reg.MustRegisterType(connector.TypeInfo{Name: "test.Component"})
	reg.MustRegisterType(connector.TypeInfo{Name: "test.Button", Super: "test.Component"})
	reg.MustRegisterType(connector.TypeInfo{Name: "test.Layout", Super: "test.Component"})

	reg.RegisterRPC("test.Button", "ButtonRpc", "click", connector.Method1(func(b *testButton, arg string) error {
		*b.events = append(*b.events, "click:"+b.ConnectorID()+":"+arg)
		return nil
	}))
	reg.RegisterRPC("test.Button", "ButtonRpc", "fail", connector.Method0(func(b *testButton) error {
		*b.events = append(*b.events, "fail:"+b.ConnectorID())
		return errClickFailed
	}))
	reg.RegisterRPC("test.Button", "ButtonRpc", "panic", connector.Method0(func(b *testButton) error {
		panic("boom")
	}))
	reg.RegisterRPC("test.Button", "DataRpc", "request", connector.Method1(func(b *testButton, n int) error {
		*b.events = append(*b.events, "data:"+b.ConnectorID())
		return nil
	}))
	return reg
}

type fixture struct {
	tracker *connector.Tracker
	layout  *testLayout
	buttons []*testButton
	events  []string
	logs    *bytes.Buffer
	logger  *slog.Logger
	parser  *Parser
}

func newFixture(t *testing.T, buttons int) *fixture {
	t.Helper()
	f := &fixture{logs: &bytes.Buffer{}}
	f.logger = slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.tracker = connector.NewTracker(f.logger)
	f.layout = newTestLayout()
	if err := f.tracker.Register(f.layout); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for i := 0; i < buttons; i++ {
		b := newTestButton(&f.events)
		f.layout.AddChild(b)
		f.buttons = append(f.buttons, b)
	}
	f.tracker.MarkAllClean()
	f.parser = NewParser(newTestRegistry(), f.logger)
	return f
}

func (f *fixture) parse(t *testing.T, payload string) *Burst {
	t.Helper()
	burst, err := f.parser.Parse(protocol.JoinBurst(testToken, payload), testToken, f.tracker)
	if err != nil {
		t.Fatalf("Parse(%s) error = %v", payload, err)
	}
	return burst
}

func (f *fixture) dispatch(t *testing.T, payload string, handler connector.ErrorHandler) Result {
	t.Helper()
	burst := f.parse(t, payload)
	d := NewDispatcher()
	return d.Dispatch(context.Background(), Target{
		Tracker:      f.tracker,
		ErrorHandler: handler,
		Logger:       f.logger,
	}, burst.Invocations)
}
