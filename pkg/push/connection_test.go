package push

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeResource struct {
	id        string
	transport Transport

	mu     sync.Mutex
	sent   [][]byte
	closed int
	hold   *Future
	done   chan struct{}
	once   sync.Once
}

func newFakeResource(id string) *fakeResource {
	return &fakeResource{id: id, done: make(chan struct{})}
}

func (r *fakeResource) ID() string            { return r.id }
func (r *fakeResource) Transport() Transport  { return r.transport }
func (r *fakeResource) Done() <-chan struct{} { return r.done }

func (r *fakeResource) Send(msg []byte) *Future {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, append([]byte(nil), msg...))
	if r.hold != nil {
		return r.hold
	}
	return CompletedFuture(nil)
}

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	r.once.Do(func() { close(r.done) })
	return nil
}

func (r *fakeResource) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, m := range r.sent {
		out[i] = string(m)
	}
	return out
}

type fakeLocker struct {
	sync.Mutex
	held bool
}

func (l *fakeLocker) Lock()         { l.Mutex.Lock(); l.held = true }
func (l *fakeLocker) Unlock()       { l.held = false; l.Mutex.Unlock() }
func (l *fakeLocker) HasLock() bool { return l.held }

func newTestConnection(wait time.Duration) (*Connection, *fakeLocker, *int) {
	lock := &fakeLocker{}
	count := 0
	src := SourceFunc(func(w io.Writer) error {
		count++
		_, err := io.WriteString(w, "response "+strings.Repeat("#", count))
		return err
	})
	return NewConnection(lock, src, &Config{Mode: Automatic, DisconnectWait: wait}, nil), lock, &count
}

func TestConnectionPushWhileConnected(t *testing.T) {
	c, lock, _ := newTestConnection(0)
	res := newFakeResource("r1")
	if err := c.Connect(res); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("State() = %v, want connected", c.State())
	}

	lock.Lock()
	err := c.Push()
	lock.Unlock()
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if got := res.messages(); len(got) != 1 || got[0] != "response #" {
		t.Fatalf("sent = %q", got)
	}
}

func TestConnectionPushRequiresLock(t *testing.T) {
	c, _, count := newTestConnection(0)
	c.Connect(newFakeResource("r1"))
	if err := c.Push(); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("Push() without lock error = %v, want ErrNotLocked", err)
	}
	if *count != 0 {
		t.Fatal("response written without the lock")
	}
}

func TestConnectionPendingPushFlushedOnConnect(t *testing.T) {
	c, lock, _ := newTestConnection(0)

	lock.Lock()
	if err := c.Push(); err != nil {
		t.Fatalf("Push() while disconnected error = %v", err)
	}
	lock.Unlock()
	if !c.Pending() {
		t.Fatal("push while not connected not remembered")
	}

	res := newFakeResource("r1")
	lock.Lock()
	err := c.Connect(res)
	lock.Unlock()
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.Pending() {
		t.Fatal("pending flag not cleared")
	}
	if got := res.messages(); len(got) != 1 {
		t.Fatalf("sent = %q, want the deferred push", got)
	}
}

func TestConnectionLostAndReconnect(t *testing.T) {
	c, lock, _ := newTestConnection(0)
	r1 := newFakeResource("r1")
	c.Connect(r1)

	// A stale resource does not affect the current one.
	c.Lost(newFakeResource("other"))
	if c.State() != StateConnected {
		t.Fatalf("State() after unrelated loss = %v", c.State())
	}

	c.Lost(r1)
	if c.State() != StateReconnecting || c.Resource() != nil {
		t.Fatalf("State() = %v, resource = %v", c.State(), c.Resource())
	}

	lock.Lock()
	c.Push()
	lock.Unlock()

	r2 := newFakeResource("r2")
	lock.Lock()
	c.Connect(r2)
	lock.Unlock()
	if got := r2.messages(); len(got) != 1 {
		t.Fatalf("sent on reconnect = %q", got)
	}
}

func TestConnectionReplaceResourceClosesOld(t *testing.T) {
	c, _, _ := newTestConnection(0)
	r1, r2 := newFakeResource("r1"), newFakeResource("r2")
	c.Connect(r1)
	c.Connect(r2)
	if r1.closed != 1 {
		t.Fatalf("old resource closed %d times, want 1", r1.closed)
	}
	if c.Resource() != r2 {
		t.Fatal("new resource not bound")
	}
}

func TestConnectionDisconnectIdempotent(t *testing.T) {
	c, lock, _ := newTestConnection(0)
	res := newFakeResource("r1")
	c.Connect(res)
	lock.Lock()
	c.Push()
	lock.Unlock()

	c.Disconnect()
	c.Disconnect()
	if res.closed != 1 {
		t.Fatalf("resource closed %d times, want 1", res.closed)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("State() = %v, want disconnected", c.State())
	}

	lock.Lock()
	c.Push()
	lock.Unlock()
	if len(res.messages()) != 1 {
		t.Fatal("push after disconnect reached the old resource")
	}
}

func TestConnectionDisconnectWaitsForLastMessage(t *testing.T) {
	c, lock, _ := newTestConnection(time.Second)
	res := newFakeResource("r1")
	res.hold = NewFuture()
	c.Connect(res)
	lock.Lock()
	c.Push()
	lock.Unlock()

	go func() {
		time.Sleep(20 * time.Millisecond)
		res.hold.Complete(nil)
	}()
	start := time.Now()
	c.Disconnect()
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("Disconnect returned after %v, before the message completed", elapsed)
	}
	if res.closed != 1 {
		t.Fatal("resource not closed")
	}
}

func TestConnectionDisconnectTimeout(t *testing.T) {
	c, lock, _ := newTestConnection(30 * time.Millisecond)
	res := newFakeResource("r1")
	res.hold = NewFuture()
	c.Connect(res)
	lock.Lock()
	c.Push()
	lock.Unlock()

	start := time.Now()
	c.Disconnect()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Disconnect blocked for %v", elapsed)
	}
	if res.closed != 1 {
		t.Fatal("resource not closed after timeout")
	}
}

func TestConnectionReceiveFragments(t *testing.T) {
	c, _, _ := newTestConnection(0)
	if _, err := c.Receive(strings.NewReader("3|abc")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Receive() before connect error = %v, want ErrNotConnected", err)
	}
	c.Connect(newFakeResource("r1"))

	msg := strings.Repeat("x", 100)
	framed := "100|" + msg
	chunks := []string{framed[:44], framed[44:84], framed[84:]}
	for i, chunk := range chunks {
		r, err := c.Receive(strings.NewReader(chunk))
		if err != nil {
			t.Fatalf("chunk %d: error = %v", i, err)
		}
		if i < 2 {
			if r != nil {
				t.Fatalf("chunk %d: got a message before the last chunk", i)
			}
			continue
		}
		if r == nil {
			t.Fatal("no message after the last chunk")
		}
		got, _ := io.ReadAll(r)
		if !bytes.Equal(got, []byte(msg)) {
			t.Fatalf("message = %q", got)
		}
	}
}

func TestConnectionLongPollingResourceSpent(t *testing.T) {
	c, lock, _ := newTestConnection(0)
	res := newFakeResource("lp")
	res.transport = LongPolling
	c.Connect(res)

	lock.Lock()
	c.Push()
	lock.Unlock()

	deadline := time.Now().Add(time.Second)
	for c.State() != StateReconnecting {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, want reconnecting after long-poll response", c.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestParseModeAndTransport(t *testing.T) {
	for _, m := range []Mode{Disabled, Manual, Automatic} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("sometimes"); err == nil {
		t.Fatal("ParseMode accepted an unknown mode")
	}
	for _, tr := range []Transport{WebSocket, Streaming, LongPolling} {
		got, err := ParseTransport(tr.String())
		if err != nil || got != tr {
			t.Fatalf("ParseTransport(%q) = %v, %v", tr.String(), got, err)
		}
	}
	if _, err := ParseTransport("carrier-pigeon"); err == nil {
		t.Fatal("ParseTransport accepted an unknown transport")
	}
}
