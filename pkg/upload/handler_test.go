package upload_test

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/upload"
)

type uploadField struct {
	connector.Base
	readOnly bool
}

func (f *uploadField) IsReadOnly() bool { return f.readOnly }

type memoryVar struct {
	buf      bytes.Buffer
	started  int
	finished []connector.StreamingEndEvent
	failed   []error
	dispose  bool
	name     string
	mime     string
}

func (v *memoryVar) OutputStream() (io.WriteCloser, error)       { return nopCloser{&v.buf}, nil }
func (v *memoryVar) ListenProgress() bool                        { return false }
func (v *memoryVar) OnProgress(connector.StreamingProgressEvent) {}
func (v *memoryVar) IsInterrupted() bool                         { return false }

func (v *memoryVar) StreamingStarted(ev *connector.StreamingStartEvent) {
	v.started++
	v.name = ev.FileName
	v.mime = ev.MimeType
	if v.dispose {
		ev.Dispose()
	}
}

func (v *memoryVar) StreamingFinished(ev connector.StreamingEndEvent) {
	v.finished = append(v.finished, ev)
}

func (v *memoryVar) StreamingFailed(ev connector.StreamingErrorEvent) {
	v.failed = append(v.failed, ev.Err)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type uploadFixture struct {
	handler *upload.Handler
	tracker *connector.Tracker
	field   *uploadField
	sv      *memoryVar
	key     string
	errs    []error
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	f := &uploadFixture{tracker: connector.NewTracker(nil), sv: &memoryVar{}}
	f.field = &uploadField{}
	f.field.Init(f.field, "ui.Upload")
	if err := f.tracker.Register(f.field); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	f.key = f.tracker.AddStreamVariable(f.field.ConnectorID(), "file", f.sv)

	var mu sync.Mutex
	target := &upload.Target{
		Locker:  &mu,
		Tracker: f.tracker,
		HandleError: func(c connector.Connector, err error) {
			f.errs = append(f.errs, err)
		},
	}
	f.handler = upload.NewHandler(upload.ResolverFunc(func(r *http.Request, uiID string) (*upload.Target, error) {
		switch uiID {
		case "0":
			return target, nil
		case "expired":
			return nil, upload.ErrSessionExpired
		}
		return nil, upload.ErrUINotFound
	}), nil, nil)
	return f
}

func (f *uploadFixture) url(uiID, key string) string {
	return "/app/APP/UPLOAD/" + uiID + "/" + f.field.ConnectorID() + "/file/" + key
}

func newMultipartRequest(t *testing.T, url, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("part.Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer.Close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertHandled(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != upload.ResponseBody {
		t.Fatalf("body = %q, want %q", rec.Body.String(), upload.ResponseBody)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q, want text/html", ct)
	}
}

func TestHandler_MultipartUpload(t *testing.T) {
	f := newUploadFixture(t)
	content := []byte("line one\r\n--not the boundary\r\nline two")
	rec := serve(f.handler, newMultipartRequest(t, f.url("0", f.key), `C:\docs\report.txt`, "text/plain", content))

	assertHandled(t, rec)
	if !bytes.Equal(f.sv.buf.Bytes(), content) {
		t.Fatalf("received %q, want %q", f.sv.buf.Bytes(), content)
	}
	if f.sv.name != "report.txt" || f.sv.mime != "text/plain" {
		t.Fatalf("file = %q %q, want report.txt text/plain", f.sv.name, f.sv.mime)
	}
	if len(f.sv.finished) != 1 || f.sv.finished[0].BytesReceived != int64(len(content)) {
		t.Fatalf("finished events = %+v", f.sv.finished)
	}
	if f.sv.finished[0].ContentLength != int64(len(content)) {
		t.Fatalf("ContentLength = %d, want %d", f.sv.finished[0].ContentLength, len(content))
	}
	if len(f.errs) != 0 {
		t.Fatalf("errors = %v", f.errs)
	}
}

func TestHandler_RawPost(t *testing.T) {
	f := newUploadFixture(t)
	req := httptest.NewRequest(http.MethodPost, f.url("0", f.key), strings.NewReader("raw bytes"))
	req.Header.Set("Content-Type", "application/octet-stream")

	assertHandled(t, serve(f.handler, req))
	if f.sv.buf.String() != "raw bytes" {
		t.Fatalf("received %q", f.sv.buf.String())
	}
	if f.sv.name != "unknown" || f.sv.mime != "unknown" {
		t.Fatalf("file = %q %q, want unknown unknown", f.sv.name, f.sv.mime)
	}
}

func TestHandler_WrongSecurityKeyIgnored(t *testing.T) {
	f := newUploadFixture(t)
	rec := serve(f.handler, newMultipartRequest(t, f.url("0", "nope"), "a.txt", "", []byte("data")))

	assertHandled(t, rec)
	if f.sv.started != 0 || f.sv.buf.Len() != 0 {
		t.Fatal("upload with wrong key was processed")
	}
}

func TestHandler_RejectedOwner(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *uploadFixture)
	}{
		{"disabled", func(f *uploadFixture) { f.field.SetEnabled(false) }},
		{"read-only", func(f *uploadFixture) { f.field.readOnly = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t)
			tt.setup(f)
			assertHandled(t, serve(f.handler, newMultipartRequest(t, f.url("0", f.key), "a.txt", "", []byte("data"))))
			if f.sv.started != 0 {
				t.Fatal("stream variable started for rejected upload")
			}
			if len(f.errs) != 1 || !upload.IsRejected(f.errs[0]) {
				t.Fatalf("errors = %v, want one rejection", f.errs)
			}
		})
	}
}

func TestHandler_DisposeCleansVariable(t *testing.T) {
	f := newUploadFixture(t)
	f.sv.dispose = true
	assertHandled(t, serve(f.handler, newMultipartRequest(t, f.url("0", f.key), "a.txt", "", []byte("data"))))
	if f.tracker.StreamVariable(f.field.ConnectorID(), "file") != nil {
		t.Fatal("disposed stream variable still registered")
	}
}

func TestHandler_TruncatedBody(t *testing.T) {
	f := newUploadFixture(t)
	body := "--b\r\nContent-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n\r\nno closing boundary"
	req := httptest.NewRequest(http.MethodPost, f.url("0", f.key), strings.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=b")

	assertHandled(t, serve(f.handler, req))
	if len(f.sv.failed) != 1 || !errors.Is(f.sv.failed[0], upload.ErrUnexpectedEnd) {
		t.Fatalf("failed events = %v", f.sv.failed)
	}
	if len(f.errs) != 1 || !errors.Is(f.errs[0], upload.ErrUnexpectedEnd) {
		t.Fatalf("errors = %v", f.errs)
	}
}

func TestHandler_Statuses(t *testing.T) {
	f := newUploadFixture(t)
	tests := []struct {
		name   string
		method string
		url    string
		want   int
	}{
		{"get", http.MethodGet, f.url("0", f.key), http.StatusMethodNotAllowed},
		{"unknown UI", http.MethodPost, f.url("7", f.key), http.StatusNotFound},
		{"expired session", http.MethodPost, f.url("expired", f.key), http.StatusGone},
		{"short url", http.MethodPost, "/APP/UPLOAD/0/1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(f.handler, httptest.NewRequest(tt.method, tt.url, strings.NewReader("x")))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandler_ChunkedMultipartLength(t *testing.T) {
	f := newUploadFixture(t)
	content := []byte("chunked body")
	req := newMultipartRequest(t, f.url("0", f.key), "a.txt", "text/plain", content)
	req.ContentLength = -1
	assertHandled(t, serve(f.handler, req))

	if !bytes.Equal(f.sv.buf.Bytes(), content) {
		t.Fatalf("received %q, want %q", f.sv.buf.Bytes(), content)
	}
	if len(f.sv.finished) != 1 {
		t.Fatalf("finished events = %+v", f.sv.finished)
	}
	if got := f.sv.finished[0].ContentLength; got != -1 {
		t.Fatalf("ContentLength = %d, want -1 for an unknown length", got)
	}
}
