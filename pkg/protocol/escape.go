package protocol

import "strings"

// EscapeBurst escapes the burst separator and escape character in s so the
// result can be embedded in a burst payload.
func EscapeBurst(s string) string {
	if strings.IndexByte(s, EscapeChar) < 0 && strings.IndexByte(s, BurstSeparator) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == EscapeChar || c == BurstSeparator {
			b.WriteByte(EscapeChar)
			b.WriteByte(c + escapeShift)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// UnescapeBurst reverses EscapeBurst. An escape character at the end of the
// input or followed by anything other than an escaped form is an error; it
// means the client and server disagree on the protocol version.
func UnescapeBurst(s string) (string, error) {
	first := strings.IndexByte(s, EscapeChar)
	if first < 0 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:first])
	for i := first; i < len(s); i++ {
		c := s[i]
		if c != EscapeChar {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", NewError(ErrCodeUnexpectedEnd, "unexpected end of message")
		}
		switch s[i] {
		case EscapeChar + escapeShift:
			b.WriteByte(EscapeChar)
		case BurstSeparator + escapeShift:
			b.WriteByte(BurstSeparator)
		default:
			return "", NewError(ErrCodeBadEscape,
				"invalid escaped character, check that the client and server versions match")
		}
	}
	return b.String(), nil
}

// SplitBurst splits a message on the burst separator.
func SplitBurst(msg string) []string {
	if msg == "" {
		return nil
	}
	return strings.Split(msg, string(rune(BurstSeparator)))
}

// JoinBurst builds a message from a security token and a raw JSON payload.
func JoinBurst(token, payload string) string {
	return token + string(rune(BurstSeparator)) + EscapeBurst(payload)
}
