package rpc

import (
	"errors"
	"strings"
	"testing"

	"github.com/vango-dev/uisync/pkg/protocol"
)

func TestParseEmptyBurst(t *testing.T) {
	f := newFixture(t, 1)

	tests := []struct {
		name string
		msg  string
	}{
		{"empty_message", ""},
		{"token_only", testToken},
		{"empty_payload", testToken + "\x1d"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			burst, err := f.parser.Parse(tc.msg, testToken, f.tracker)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tc.msg, err)
			}
			if burst.Init || len(burst.Invocations) != 0 {
				t.Fatalf("Parse(%q) = %+v, want empty burst", tc.msg, burst)
			}
		})
	}
}

func TestParseInit(t *testing.T) {
	f := newFixture(t, 0)
	burst, err := f.parser.Parse("init", testToken, f.tracker)
	if err != nil {
		t.Fatalf("Parse(init) error = %v", err)
	}
	if !burst.Init {
		t.Fatal("Init = false, want true")
	}
}

func TestParseSecurityKeyMismatch(t *testing.T) {
	f := newFixture(t, 1)
	payload := `[["2","ButtonRpc","click",["x"]]]`

	burst, err := f.parser.Parse(protocol.JoinBurst("xyz", payload), testToken, f.tracker)
	if !IsSecurityError(err) {
		t.Fatalf("Parse() error = %v, want security error", err)
	}
	if burst != nil {
		t.Fatal("burst returned with security error")
	}
	if len(f.events) != 0 {
		t.Fatalf("events = %v, want none", f.events)
	}
	var se *SecurityError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *SecurityError", err)
	}
}

func TestParseMultipleBursts(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.parser.Parse(testToken+"\x1d[]\x1d[]", testToken, f.tracker)
	if !errors.Is(err, protocol.ErrMultiBurst) {
		t.Fatalf("Parse() error = %v, want %v", err, protocol.ErrMultiBurst)
	}
}

func TestParseBadEscape(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.parser.Parse(testToken+"\x1d[\x1bx]", testToken, f.tracker)
	if !errors.Is(err, protocol.ErrBadEscape) {
		t.Fatalf("Parse() error = %v, want %v", err, protocol.ErrBadEscape)
	}
}

func TestParseMalformed(t *testing.T) {
	f := newFixture(t, 1)
	tests := []struct {
		name    string
		payload string
	}{
		{"not_json", `[[`},
		{"not_array", `{"a":1}`},
		{"short_tuple", `[["2","ButtonRpc","click"]]`},
		{"legacy_params", `[["2","v","v",["a"]]]`},
		{"bad_param_type", `[["2","ButtonRpc","click",[5]]]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.parser.Parse(protocol.JoinBurst(testToken, tc.payload), testToken, f.tracker)
			if !protocol.IsProtocolError(err) {
				t.Fatalf("Parse(%s) error = %v, want protocol error", tc.payload, err)
			}
		})
	}
}

func TestParseEscapedPayload(t *testing.T) {
	f := newFixture(t, 1)
	burst := f.parse(t, `[["2","ButtonRpc","click",["a\u001db"]]]`)
	if len(burst.Invocations) != 1 {
		t.Fatalf("len(Invocations) = %d, want 1", len(burst.Invocations))
	}
	m := burst.Invocations[0].(*MethodInvocation)
	if m.Args[0] != "a\x1db" {
		t.Fatalf("arg = %q, want %q", m.Args[0], "a\x1db")
	}
}

func TestParseLegacyMerge(t *testing.T) {
	f := newFixture(t, 2)
	payload := `[` +
		`["2","v","v",["a",["i",1]]],` +
		`["2","v","v",["a",["i",2]]],` +
		`["2","v","v",["b",["i",3]]],` +
		`["3","v","v",["a",["s","x"]]],` +
		`["2","v","v",["c",["b",true]]]` +
		`]`
	burst := f.parse(t, payload)

	if len(burst.Invocations) != 3 {
		t.Fatalf("len(Invocations) = %d, want 3", len(burst.Invocations))
	}
	first := burst.Invocations[0].(*LegacyInvocation)
	if len(first.Variables) != 2 || first.Variables["a"] != 2 || first.Variables["b"] != 3 {
		t.Fatalf("merged variables = %v, want {a:2 b:3}", first.Variables)
	}
	if names := strings.Join(first.VariableNames(), ","); names != "a,b" {
		t.Fatalf("VariableNames() = %s, want a,b", names)
	}
	if burst.Invocations[1].Target() != "3" || burst.Invocations[2].Target() != "2" {
		t.Fatal("non-consecutive legacy invocations were merged")
	}
}

func TestParseLegacyMergeNotAcrossRPC(t *testing.T) {
	f := newFixture(t, 1)
	payload := `[` +
		`["2","v","v",["a",["i",1]]],` +
		`["2","ButtonRpc","click",["x"]],` +
		`["2","v","v",["b",["i",2]]]` +
		`]`
	burst := f.parse(t, payload)
	if len(burst.Invocations) != 3 {
		t.Fatalf("len(Invocations) = %d, want 3", len(burst.Invocations))
	}
}

func TestParseUnknownConnector(t *testing.T) {
	f := newFixture(t, 1)
	payload := `[["99","ButtonRpc","click",["x"]],["2","ButtonRpc","click",["y"]]]`
	burst := f.parse(t, payload)

	if len(burst.Invocations) != 1 || burst.Invocations[0].Target() != "2" {
		t.Fatalf("Invocations = %+v, want only connector 2", burst.Invocations)
	}
	if burst.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", burst.Skipped)
	}
	// Unknown connector forces a full resync.
	if !f.tracker.IsDirty(f.layout) || !f.tracker.IsDirty(f.buttons[0]) {
		t.Fatal("unknown connector did not mark all connectors dirty")
	}
}

func TestParseUnregisteredInterface(t *testing.T) {
	f := newFixture(t, 1)
	burst := f.parse(t, `[["2","Nope","click",["x"]],["2","ButtonRpc","click",[]]]`)
	if len(burst.Invocations) != 0 || burst.Skipped != 2 {
		t.Fatalf("burst = %+v, want two skipped", burst)
	}
	if f.tracker.HasDirty() {
		t.Fatal("unregistered interface should not force a resync")
	}
	if !strings.Contains(f.logs.String(), "no implementation registered") {
		t.Fatalf("missing warning, logs: %s", f.logs.String())
	}
}

func TestParseDragAndDropService(t *testing.T) {
	f := newFixture(t, 0)
	burst := f.parse(t, `[["DD","v","v",["drop",["s","x"]]]]`)
	if len(burst.Invocations) != 1 {
		t.Fatalf("len(Invocations) = %d, want 1", len(burst.Invocations))
	}
	if f.tracker.HasDirty() {
		t.Fatal("sentinel id forced a resync")
	}
}
