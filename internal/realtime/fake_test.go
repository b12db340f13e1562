package realtime

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"
)

type emitted struct {
	event string
	args  []interface{}
}

type fakeEvent struct {
	name    string
	payload json.RawMessage
}

type fakeConn struct {
	mu      sync.Mutex
	emitted []emitted

	events    chan fakeEvent
	closed    chan struct{}
	closeOnce sync.Once

	// emitGate, when set, holds every Emit until it is closed
	emitGate chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan fakeEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Emit(event string, args ...interface{}) error {
	if f.emitGate != nil {
		<-f.emitGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, emitted{event: event, args: args})
	return nil
}

func (f *fakeConn) ReadEvent() (string, json.RawMessage, error) {
	select {
	case ev := <-f.events:
		return ev.name, ev.payload, nil
	case <-f.closed:
		return "", nil, io.EOF
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) push(name, payload string) {
	f.events <- fakeEvent{name: name, payload: json.RawMessage(payload)}
}

func (f *fakeConn) emittedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.emitted))
	for _, e := range f.emitted {
		names = append(names, e.event)
	}
	return names
}

type fakeDialer struct {
	mu     sync.Mutex
	tokens []string
	conns  []*fakeConn
	err    error
	gate   chan struct{}
}

func (d *fakeDialer) Dial(token string) (Conn, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recorder collects events delivered to handlers in delivery order
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string) *Handler {
	return NewHandler(func(Event) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
	})
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, c := range r.snapshot() {
		if c == name {
			n++
		}
	}
	return n
}
