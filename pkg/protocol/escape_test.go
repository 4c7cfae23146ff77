package protocol

import (
	"errors"
	"testing"
)

func TestEscapeBurst(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `["1","a","b",[]]`, `["1","a","b",[]]`},
		{"separator", "a\x1db", "a\x1b\x4db"},
		{"escape", "a\x1bb", "a\x1b\x4bb"},
		{"both", "\x1b\x1d", "\x1b\x4b\x1b\x4d"},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := EscapeBurst(tc.in); got != tc.want {
				t.Errorf("EscapeBurst(%q) = %q, want %q", tc.in, got, tc.want)
			}
			got, err := UnescapeBurst(tc.want)
			if err != nil {
				t.Fatalf("UnescapeBurst(%q) error = %v", tc.want, err)
			}
			if got != tc.in {
				t.Errorf("UnescapeBurst(%q) = %q, want %q", tc.want, got, tc.in)
			}
		})
	}
}

func TestUnescapeBurstErrors(t *testing.T) {
	if _, err := UnescapeBurst("abc\x1b"); !errors.Is(err, ErrUnexpectedEnd) {
		t.Errorf("trailing escape error = %v, want %v", err, ErrUnexpectedEnd)
	}
	if _, err := UnescapeBurst("a\x1bxb"); !errors.Is(err, ErrBadEscape) {
		t.Errorf("bad escape error = %v, want %v", err, ErrBadEscape)
	}
	// An unescaped separator byte after escaping is not a valid escaped form.
	if _, err := UnescapeBurst("\x1b\x1d"); !errors.Is(err, ErrBadEscape) {
		t.Errorf("raw separator error = %v, want %v", err, ErrBadEscape)
	}
}

func TestSplitJoinBurst(t *testing.T) {
	msg := JoinBurst("token", "[\x1d]")
	parts := SplitBurst(msg)
	if len(parts) != 2 {
		t.Fatalf("len(SplitBurst()) = %d, want 2", len(parts))
	}
	if parts[0] != "token" {
		t.Errorf("token = %q, want %q", parts[0], "token")
	}
	payload, err := UnescapeBurst(parts[1])
	if err != nil {
		t.Fatalf("UnescapeBurst() error = %v", err)
	}
	if payload != "[\x1d]" {
		t.Errorf("payload = %q, want %q", payload, "[\x1d]")
	}
	if got := SplitBurst(""); got != nil {
		t.Errorf("SplitBurst(\"\") = %v, want nil", got)
	}
}
