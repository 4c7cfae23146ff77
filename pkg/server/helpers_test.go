package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/vango-dev/uisync/pkg/connector"
	"github.com/vango-dev/uisync/pkg/protocol"
	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/rpc"
	"github.com/vango-dev/uisync/pkg/upload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testRoot struct {
	connector.Base
}

func newTestRoot() *testRoot {
	r := &testRoot{}
	r.Init(r, "test.Root")
	return r
}

type testButton struct {
	connector.Base
	clicks []string
}

func newTestButton() *testButton {
	b := &testButton{}
	b.Init(b, "test.Button")
	return b
}

func newTestRegistry() *connector.Registry {
	reg := connector.NewRegistry()
	reg.MustRegisterType(connector.TypeInfo{Name: "test.Root"})
	reg.MustRegisterType(connector.TypeInfo{Name: "test.Button"})
	reg.RegisterRPC("test.Button", "ButtonRpc", "click", connector.Method1(func(b *testButton, arg string) error {
		b.clicks = append(b.clicks, arg)
		b.Call("ButtonClientRpc", "clicked", arg)
		return nil
	}))
	reg.RegisterRPC("test.Button", "ButtonRpc", "panic", connector.Method0(func(b *testButton) error {
		panic("boom")
	}))
	return reg
}

type observed struct {
	opened   int
	closed   int
	results  []rpc.Result
	rejected []string
	pushes   []push.Transport
	uploads  int
}

type recordingObserver struct {
	mu sync.Mutex
	observed
}

func (o *recordingObserver) SessionOpened()                  { o.mu.Lock(); o.opened++; o.mu.Unlock() }
func (o *recordingObserver) SessionClosed()                  { o.mu.Lock(); o.closed++; o.mu.Unlock() }
func (o *recordingObserver) PushDisconnected(push.Transport) {}
func (o *recordingObserver) UploadDone(upload.Result, error) { o.mu.Lock(); o.uploads++; o.mu.Unlock() }

func (o *recordingObserver) Dispatched(res rpc.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
}

func (o *recordingObserver) MessageRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}

func (o *recordingObserver) PushConnected(t push.Transport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pushes = append(o.pushes, t)
}

func (o *recordingObserver) snapshot() observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.observed
	out.results = append([]rpc.Result(nil), o.results...)
	out.rejected = append([]string(nil), o.rejected...)
	out.pushes = append([]push.Transport(nil), o.pushes...)
	return out
}

type fixture struct {
	srv      *Server
	http     *httptest.Server
	client   *http.Client
	observer *recordingObserver

	// Set by the UI factory, guarded by the session lock.
	roots   []*testRoot
	buttons []*testButton
}

func newFixture(t *testing.T, config *Config) *fixture {
	t.Helper()
	if config == nil {
		config = DefaultConfig()
	}
	config.Logger = testLogger()

	f := &fixture{observer: &recordingObserver{}}
	f.srv = New(config, newTestRegistry(), func(req *InitRequest) (connector.Connector, error) {
		root := newTestRoot()
		button := newTestButton()
		root.AddChild(button)
		f.roots = append(f.roots, root)
		f.buttons = append(f.buttons, button)
		return root, nil
	})
	f.srv.SetObserver(f.observer)
	f.http = httptest.NewServer(f.srv)
	t.Cleanup(f.http.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	f.client = &http.Client{Jar: jar}
	return f
}

// session returns the session of the fixture client.
func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	u, _ := url.Parse(f.http.URL)
	for _, c := range f.client.Jar.Cookies(u) {
		if c.Name == f.srv.config.CookieName {
			if s := f.srv.sessions.Get(c.Value); s != nil {
				return s
			}
		}
	}
	t.Fatal("no session for client")
	return nil
}

// locked runs fn with the fixture session locked.
func (f *fixture) locked(t *testing.T, fn func(s *Session)) {
	t.Helper()
	s := f.session(t)
	s.Lock()
	defer s.Unlock()
	fn(s)
}

func (f *fixture) post(t *testing.T, path, contentType, body string) *http.Response {
	t.Helper()
	resp, err := f.client.Post(f.http.URL+path, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body error = %v", err)
	}
	return string(b)
}

// init opens a new UI and returns the decoded INIT reply and its UIDL.
func (f *fixture) init(t *testing.T, windowName string) (initResponse, map[string]json.RawMessage) {
	t.Helper()
	form := url.Values{paramWindowName: {windowName}}.Encode()
	resp := f.post(t, protocol.PathInit, "application/x-www-form-urlencoded", form)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("INIT status = %d, want 200", resp.StatusCode)
	}
	var ir initResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		t.Fatalf("decoding INIT reply error = %v", err)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(ir.UIDL), &body); err != nil {
		t.Fatalf("decoding initial uidl %q error = %v", ir.UIDL, err)
	}
	return ir, body
}

// uidl posts msg for uiID and returns the raw response.
func (f *fixture) uidl(t *testing.T, uiID int, msg string) string {
	t.Helper()
	resp := f.post(t, protocol.PathUIDL+"?"+protocol.ParamUIID+"="+strconv.Itoa(uiID), "text/plain", msg)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("UIDL status = %d, want 200", resp.StatusCode)
	}
	return readBody(t, resp)
}

// decodeResponse strips the envelope of a UIDL response.
func decodeResponse(t *testing.T, raw string) map[string]json.RawMessage {
	t.Helper()
	if !strings.HasPrefix(raw, protocol.JSONPrefix) {
		t.Fatalf("response %q lacks %s prefix", raw, protocol.JSONPrefix)
	}
	var out []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimPrefix(raw, protocol.JSONPrefix)), &out); err != nil {
		t.Fatalf("decoding response %q error = %v", raw, err)
	}
	if len(out) != 1 {
		t.Fatalf("response has %d objects, want 1", len(out))
	}
	return out[0]
}

func decodeField[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decoding %s error = %v", raw, err)
	}
	return v
}

func securityKey(t *testing.T, body map[string]json.RawMessage) string {
	t.Helper()
	raw, ok := body[protocol.FieldSecurityKey]
	if !ok {
		t.Fatalf("response lacks %s", protocol.FieldSecurityKey)
	}
	return decodeField[string](t, raw)
}

func httptestRecorder(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}
