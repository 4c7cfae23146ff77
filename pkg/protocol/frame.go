package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// FragmentedMessage accumulates a length-prefixed message that may arrive
// in several deliveries.
type FragmentedMessage struct {
	length int
	buf    bytes.Buffer
}

// NewFragmentedMessage reads the length prefix from r and returns an empty
// accumulator for a message of that length. The bytes after the delimiter
// are left in r.
func NewFragmentedMessage(r io.ByteReader) (*FragmentedMessage, error) {
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	fm := &FragmentedMessage{length: length}
	if length <= 64<<10 {
		fm.buf.Grow(length)
	}
	return fm, nil
}

// Length returns the declared length of the message.
func (fm *FragmentedMessage) Length() int {
	return fm.length
}

// Len returns the number of bytes accumulated so far.
func (fm *FragmentedMessage) Len() int {
	return fm.buf.Len()
}

// Append reads all available bytes from r and reports whether the message is
// complete.
func (fm *FragmentedMessage) Append(r io.Reader) (bool, error) {
	remaining := int64(fm.length - fm.buf.Len())
	// Read one byte past the declared length to detect overflow.
	n, err := fm.buf.ReadFrom(io.LimitReader(r, remaining+1))
	if err != nil {
		return false, WrapError(ErrCodeTruncated, "read fragment", err)
	}
	if n > remaining {
		return false, NewError(ErrCodeOverflow, "message longer than declared length "+strconv.Itoa(fm.length))
	}
	return fm.buf.Len() == fm.length, nil
}

// Bytes returns the accumulated message.
func (fm *FragmentedMessage) Bytes() []byte {
	return fm.buf.Bytes()
}

// Reader returns a reader over the accumulated message.
func (fm *FragmentedMessage) Reader() io.Reader {
	return bytes.NewReader(fm.buf.Bytes())
}

func readLength(r io.ByteReader) (int, error) {
	var digits []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, NewError(ErrCodeTruncated, "stream ended before length delimiter")
			}
			return 0, WrapError(ErrCodeTruncated, "read length", err)
		}
		if c == MessageDelimiter {
			return parseLength(digits)
		}
		if c < '0' || c > '9' || len(digits) >= MaxLengthDigits {
			return 0, NewError(ErrCodeBadLength, "invalid length prefix")
		}
		digits = append(digits, c)
	}
}

func parseLength(digits []byte) (int, error) {
	length, err := strconv.Atoi(string(digits))
	if err != nil || length < 0 {
		return 0, NewError(ErrCodeBadLength, "invalid message length "+strconv.Quote(string(digits)))
	}
	if length > MaxMessageSize {
		return 0, NewError(ErrCodeTooLarge, "message length "+strconv.Itoa(length)+" exceeds limit")
	}
	return length, nil
}

// Framer reassembles length-prefixed messages for one connection. It holds
// at most one live accumulator. A length prefix split across deliveries is
// kept until its delimiter arrives. A Framer is not safe for concurrent use;
// the session lock serializes callers.
type Framer struct {
	prefix  []byte
	current *FragmentedMessage
}

// Receive consumes one delivery. It returns a reader over the complete
// message once the declared length is reached, or nil and no error if more
// deliveries are needed. After a complete message the next delivery must
// start with a new length prefix.
func (f *Framer) Receive(r io.Reader) (io.Reader, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	if f.current == nil {
		done, err := f.readPrefix(br)
		if err != nil || !done {
			return nil, err
		}
	}
	complete, err := f.current.Append(br)
	if err != nil {
		f.current = nil
		return nil, err
	}
	if !complete {
		return nil, nil
	}
	msg := f.current.Reader()
	f.current = nil
	return msg, nil
}

func (f *Framer) readPrefix(br *bufio.Reader) (bool, error) {
	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			f.prefix = f.prefix[:0]
			return false, WrapError(ErrCodeTruncated, "read length", err)
		}
		if c != MessageDelimiter {
			if c < '0' || c > '9' || len(f.prefix) >= MaxLengthDigits {
				f.prefix = f.prefix[:0]
				return false, NewError(ErrCodeBadLength, "invalid length prefix")
			}
			f.prefix = append(f.prefix, c)
			continue
		}
		length, err := parseLength(f.prefix)
		f.prefix = f.prefix[:0]
		if err != nil {
			return false, err
		}
		f.current = &FragmentedMessage{length: length}
		return true, nil
	}
}

// Pending reports whether a partial message is buffered.
func (f *Framer) Pending() bool {
	return f.current != nil || len(f.prefix) > 0
}

// Reset discards a partially received message.
func (f *Framer) Reset() {
	f.prefix = f.prefix[:0]
	f.current = nil
}

// ReadFramed reads exactly one framed message from a reader that carries the
// whole message, such as a request body. A short body is an error.
func ReadFramed(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	fm, err := NewFragmentedMessage(br)
	if err != nil {
		return nil, err
	}
	complete, err := fm.Append(br)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, NewError(ErrCodeTruncated,
			"stream ended after "+strconv.Itoa(fm.Len())+" of "+strconv.Itoa(fm.length)+" bytes")
	}
	return fm.Bytes(), nil
}

// WrapFrame prefixes msg with its length and the message delimiter.
func WrapFrame(msg []byte) []byte {
	prefix := strconv.Itoa(len(msg))
	out := make([]byte, 0, len(prefix)+1+len(msg))
	out = append(out, prefix...)
	out = append(out, MessageDelimiter)
	return append(out, msg...)
}

// Fragment splits a framed message into chunks of at most size bytes.
func Fragment(frame []byte, size int) [][]byte {
	if size <= 0 {
		size = FragmentLength
	}
	if len(frame) <= size {
		return [][]byte{frame}
	}
	out := make([][]byte, 0, len(frame)/size+1)
	for len(frame) > size {
		out = append(out, frame[:size])
		frame = frame[size:]
	}
	return append(out, frame)
}
