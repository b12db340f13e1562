package ppews

import (
	"encoding/json"
	"io"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ppe_realtime/internal/realtime"
)

// memConn is an in-memory realtime.Conn that records control events
type memConn struct {
	mu      sync.Mutex
	emitted []string

	events    chan memEvent
	closed    chan struct{}
	closeOnce sync.Once
}

type memEvent struct {
	name    string
	payload json.RawMessage
}

func (c *memConn) Emit(event string, _ ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, event)
	return nil
}

func (c *memConn) ReadEvent() (string, json.RawMessage, error) {
	select {
	case ev := <-c.events:
		return ev.name, ev.payload, nil
	case <-c.closed:
		return "", nil, io.EOF
	}
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) push(topic realtime.Topic, payload string) {
	c.events <- memEvent{name: topic.EventName(), payload: json.RawMessage(payload)}
}

func (c *memConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.emitted...)
}

type memDialer struct {
	mu    sync.Mutex
	conns []*memConn
}

func (d *memDialer) Dial(string) (realtime.Conn, error) {
	c := &memConn{events: make(chan memEvent, 16), closed: make(chan struct{})}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *memDialer) last() *memConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *memDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
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

func adminView(token string, counter *atomic.Int64) Options {
	return Options{
		IsAdmin: true,
		Token:   token,
		OnDistributed: func(realtime.Event) {
			counter.Add(1)
		},
	}
}

func TestSharedClient_UnmountKeepsRoomForOtherViews(t *testing.T) {
	d := &memDialer{}
	client := realtime.NewClient(d, nil)

	var gotA, gotB atomic.Int64
	a := New(client, nil, nil)
	b := New(client, nil, nil)
	a.Mount(adminView("t", &gotA))
	b.Mount(adminView("t", &gotB))
	waitFor(t, "connection", client.IsConnected)
	conn := d.last()
	waitFor(t, "room join", func() bool { return len(conn.sent()) > 0 })

	a.Unmount()

	if want := []realtime.Room{realtime.AdminRoom()}; !reflect.DeepEqual(client.Rooms(), want) {
		t.Errorf("Expected rooms %v after one view left, got %v", want, client.Rooms())
	}
	if room, ok := b.Room(); !ok || room != realtime.AdminRoom() {
		t.Errorf("Expected remaining view to hold the admin room, got %v", room)
	}

	conn.push(realtime.TopicDistributed, `{"recipient":{"name":"Bob"}}`)
	waitFor(t, "event on remaining view", func() bool { return gotB.Load() == 1 })
	if gotA.Load() != 0 {
		t.Errorf("Unmounted view received %d events", gotA.Load())
	}

	if want := []string{realtime.EventJoinAdminRoom}; !reflect.DeepEqual(conn.sent(), want) {
		t.Errorf("Expected control events %v, got %v", want, conn.sent())
	}

	b.Unmount()
	want := []string{realtime.EventJoinAdminRoom, realtime.EventLeaveAdminRoom}
	waitFor(t, "room leave", func() bool { return len(conn.sent()) == len(want) })
	if !reflect.DeepEqual(conn.sent(), want) {
		t.Errorf("Expected control events %v after the last view left, got %v", want, conn.sent())
	}
	if len(client.Rooms()) != 0 {
		t.Errorf("Expected no rooms, got %v", client.Rooms())
	}
}

func TestSharedClient_ViewRebindsAfterAnotherLogsOut(t *testing.T) {
	d := &memDialer{}
	client := realtime.NewClient(d, nil)

	var gotA, gotB atomic.Int64
	optsA, optsB := adminView("t", &gotA), adminView("t", &gotB)
	a := New(client, nil, nil)
	b := New(client, nil, nil)
	a.Mount(optsA)
	b.Mount(optsB)
	waitFor(t, "connection", client.IsConnected)

	a.Disconnect()
	a.Mount(optsA)
	b.Update(optsB)
	waitFor(t, "reconnection", func() bool { return d.count() == 2 && client.IsConnected() })

	if refs := client.RoomRefs(realtime.AdminRoom()); refs != 2 {
		t.Errorf("Expected both views to hold the admin room, got %d", refs)
	}
	if n := client.SubscriberCount(realtime.TopicDistributed); n != 2 {
		t.Errorf("Expected 2 subscribers, got %d", n)
	}

	d.last().push(realtime.TopicDistributed, `{}`)
	waitFor(t, "event on both views", func() bool { return gotA.Load() == 1 && gotB.Load() == 1 })
}

func TestSharedClient_StaleViewDoesNotReleaseNewHolder(t *testing.T) {
	d := &memDialer{}
	client := realtime.NewClient(d, nil)

	var gotA, gotB atomic.Int64
	optsA := adminView("t", &gotA)
	a := New(client, nil, nil)
	b := New(client, nil, nil)
	a.Mount(optsA)
	b.Mount(adminView("t", &gotB))
	waitFor(t, "connection", client.IsConnected)

	a.Disconnect()
	a.Mount(optsA)
	waitFor(t, "reconnection", func() bool { return d.count() == 2 && client.IsConnected() })

	// b's membership was wiped by a's logout
	b.Unmount()

	if refs := client.RoomRefs(realtime.AdminRoom()); refs != 1 {
		t.Errorf("Expected the admin room to keep its holder, got %d", refs)
	}
	for _, ev := range d.last().sent() {
		if ev == realtime.EventLeaveAdminRoom {
			t.Errorf("Expected no leave, got %v", d.last().sent())
		}
	}

	d.last().push(realtime.TopicDistributed, `{}`)
	waitFor(t, "event on remaining view", func() bool { return gotA.Load() == 1 })
}
