package upload

import (
	"bufio"
	"io"
	"strings"
)

const (
	crlf     = "\r\n"
	dashDash = "--"
)

// MultipartReader returns the bytes of a multipart body up to, not
// including, the first occurrence of CRLF--boundary. Bytes of a partial
// boundary match that turns out not to be the boundary are delivered in
// order.
type MultipartReader struct {
	r        *bufio.Reader
	boundary []byte

	// matchedCount is the number of boundary bytes matched, -1 outside a
	// match.
	matchedCount int
	// curBoundaryIndex points at the next partially matched byte to return.
	curBoundaryIndex int
	// bufferedByte is the byte that broke a partial match, -1 if none.
	bufferedByte int
	atTheEnd     bool
}

// NewMultipartReader reads a file part from r, which must be positioned
// at the first content byte.
func NewMultipartReader(r io.Reader, boundary string) *MultipartReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &MultipartReader{
		r:            br,
		boundary:     []byte(crlf + dashDash + boundary),
		matchedCount: -1,
		bufferedByte: -1,
	}
}

// Read implements io.Reader. It returns io.EOF once the boundary was
// matched and ErrUnexpectedEnd if the body ends first.
func (m *MultipartReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, err := m.readByte()
		if err != nil {
			return n, err
		}
		if b < 0 {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		p[n] = byte(b)
		n++
		// Hand back what we have rather than block for more input.
		if m.matchedCount == -1 && m.r.Buffered() == 0 {
			break
		}
	}
	return n, nil
}

func (m *MultipartReader) readByte() (int, error) {
	switch {
	case m.atTheEnd:
		return -1, nil
	case m.bufferedByte >= 0:
		return m.getBuffered()
	case m.matchedCount != -1:
		// The last failed match ended with the first boundary byte.
		return m.matchForBoundary()
	}
	b, err := m.r.ReadByte()
	if err != nil {
		return -1, endError(err)
	}
	if b == m.boundary[0] {
		return m.matchForBoundary()
	}
	return int(b), nil
}

// matchForBoundary expects the first boundary byte to be matched already.
// It returns -1 at the boundary, otherwise the first byte of the partial
// match.
func (m *MultipartReader) matchForBoundary() (int, error) {
	m.matchedCount = 0
	for {
		m.matchedCount++
		if m.matchedCount == len(m.boundary) {
			m.atTheEnd = true
			return -1, nil
		}
		b, err := m.r.ReadByte()
		if err != nil {
			return -1, endError(err)
		}
		if b != m.boundary[m.matchedCount] {
			m.bufferedByte = int(b)
			return m.getBuffered()
		}
	}
}

// getBuffered returns the partially matched boundary bytes, then the byte
// that broke the match.
func (m *MultipartReader) getBuffered() (int, error) {
	var b int
	if m.matchedCount == 0 {
		b = m.bufferedByte
		m.bufferedByte = -1
		m.matchedCount = -1
	} else {
		b = int(m.boundary[m.curBoundaryIndex])
		m.curBoundaryIndex++
		if m.curBoundaryIndex == m.matchedCount {
			m.curBoundaryIndex = 0
			m.matchedCount = 0
			if m.bufferedByte == int(m.boundary[0]) {
				// The breaking byte may start the real boundary.
				m.bufferedByte = -1
			}
		}
	}
	if b < 0 {
		return -1, ErrUnexpectedEnd
	}
	return b, nil
}

func endError(err error) error {
	if err == io.EOF {
		return ErrUnexpectedEnd
	}
	return err
}

// PartInfo is what the part headers say about the uploaded file.
type PartInfo struct {
	FileName string
	MimeType string

	// HeaderLength is the number of bytes consumed by the headers.
	HeaderLength int64
}

// ReadPartHeaders scans the body up to the blank line following the first
// file field's headers. The file name defaults to "unknown" and the type
// to application/octet-stream.
func ReadPartHeaders(r *bufio.Reader) (PartInfo, error) {
	info := PartInfo{FileName: "unknown", MimeType: "application/octet-stream"}
	fileFieldFound := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return info, endError(err)
		}
		info.HeaderLength += int64(len(line))
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		switch {
		case strings.HasPrefix(line, "Content-Disposition:") && strings.Index(line, "filename=") > 0:
			info.FileName = quotedFileName(line)
			fileFieldFound = true
		case fileFieldFound && line == "":
			return info, nil
		case strings.HasPrefix(line, "Content-Type"):
			if _, v, ok := strings.Cut(line, ": "); ok {
				info.MimeType = v
			}
		}
	}
}

func quotedFileName(line string) string {
	v := line[strings.LastIndex(line, "filename=")+len("filename="):]
	if v == "" {
		return ""
	}
	quote := v[0]
	v = v[1:]
	if i := strings.IndexByte(v, quote); i >= 0 {
		v = v[:i]
	}
	return v
}

// RemovePath strips any directory prefix some browsers send with the file
// name.
func RemovePath(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// BoundaryFromContentType extracts the multipart boundary. ok is false for
// raw posts.
func BoundaryFromContentType(contentType string) (boundary string, ok bool) {
	_, b, ok := strings.Cut(contentType, "boundary=")
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(b, ';'); i >= 0 {
		b = b[:i]
	}
	return strings.Trim(strings.TrimSpace(b), `"`), true
}

// trailerLength is the length of the closing boundary line of a body with
// the given boundary.
func trailerLength(boundary string) int64 {
	return int64(len(boundary) + len(crlf) + 2*len(dashDash) + len(crlf))
}
