package protocol

import (
	"bytes"
	"testing"
)

// FuzzEscapeRoundTrip checks unescape(escape(s)) == s.
func FuzzEscapeRoundTrip(f *testing.F) {
	f.Add("")
	f.Add("plain")
	f.Add("\x1b\x1d\x1b")
	f.Add("[\"1\",\"v\",\"v\",[\"text\",[\"s\",\"\x1d\"]]]")

	f.Fuzz(func(t *testing.T, s string) {
		got, err := UnescapeBurst(EscapeBurst(s))
		if err != nil {
			t.Fatalf("UnescapeBurst(EscapeBurst(%q)) error = %v", s, err)
		}
		if got != s {
			t.Fatalf("round trip = %q, want %q", got, s)
		}
	})
}

// FuzzUnescapeBurst tests that unescaping arbitrary input doesn't panic.
func FuzzUnescapeBurst(f *testing.F) {
	f.Add("\x1b")
	f.Add("\x1b\x4b\x1b\x4d")

	f.Fuzz(func(t *testing.T, s string) {
		_, _ = UnescapeBurst(s)
	})
}

// FuzzFramerSplit feeds a framed message in chunks of every size.
func FuzzFramerSplit(f *testing.F) {
	f.Add([]byte("hello"), 1)
	f.Add([]byte{}, 3)
	f.Add(bytes.Repeat([]byte("z"), 300), 7)

	f.Fuzz(func(t *testing.T, msg []byte, size int) {
		if size <= 0 || size > 1<<16 {
			return
		}
		var fr Framer
		var got []byte
		complete := false
		for _, chunk := range Fragment(WrapFrame(msg), size) {
			r, err := fr.Receive(bytes.NewReader(chunk))
			if err != nil {
				t.Fatalf("Receive() error = %v", err)
			}
			if r != nil {
				buf := new(bytes.Buffer)
				buf.ReadFrom(r)
				got = buf.Bytes()
				complete = true
			}
		}
		if !complete || !bytes.Equal(got, msg) {
			t.Fatalf("message = %q (complete %v), want %q", got, complete, msg)
		}
	})
}

// FuzzFramerReceive tests that arbitrary input doesn't panic.
func FuzzFramerReceive(f *testing.F) {
	f.Add([]byte("3|abc"))
	f.Add([]byte("x|"))

	f.Fuzz(func(t *testing.T, data []byte) {
		var fr Framer
		_, _ = fr.Receive(bytes.NewReader(data))
	})
}
