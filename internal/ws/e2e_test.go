package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ppe_realtime/internal/auth"
	"ppe_realtime/internal/eventlog"
	"ppe_realtime/internal/notify"
	"ppe_realtime/internal/ppews"
	"ppe_realtime/internal/realtime"
	"ppe_realtime/internal/ws"
	"ppe_realtime/models"
)

const waitTimeout = 5 * time.Second

func startServer(t *testing.T, opts ws.Options) (*ws.Server, string) {
	t.Helper()
	auth.InitJWT("e2e-secret")

	if opts.Store == nil {
		opts.Store = eventlog.NewMemoryStore(0)
	}
	srv := ws.NewServer(opts)

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() failed: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", srv.Handler())
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
		cancel()
	})
	return srv, ts.URL + "/socket.io/"
}

func token(t *testing.T, id auth.Identity) string {
	t.Helper()
	s, err := auth.GenerateToken(id, time.Now().Add(time.Hour), "ppe_realtime")
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func publish(t *testing.T, srv *ws.Server, req ws.PublishRequest) *models.WSEvent {
	t.Helper()
	ev, err := srv.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	return ev
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingNotifier) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, n.Text)
}

func (r *recordingNotifier) has(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.texts {
		if t == text {
			return true
		}
	}
	return false
}

// frame is one event read off a raw connection
type frame struct {
	event   string
	payload map[string]interface{}
}

type rawConn struct {
	conn   realtime.Conn
	frames chan frame
}

func dialRaw(t *testing.T, url, tok string) *rawConn {
	t.Helper()
	d := &realtime.SocketIODialer{URL: url, HandshakeTimeout: waitTimeout}
	conn, err := d.Dial(tok)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}

	rc := &rawConn{conn: conn, frames: make(chan frame, 64)}
	go func() {
		defer close(rc.frames)
		for {
			event, payload, err := conn.ReadEvent()
			if err != nil {
				return
			}
			var fields map[string]interface{}
			_ = json.Unmarshal(payload, &fields)
			rc.frames <- frame{event: event, payload: fields}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return rc
}

func (rc *rawConn) emit(t *testing.T, event string, args ...interface{}) {
	t.Helper()
	if err := rc.conn.Emit(event, args...); err != nil {
		t.Fatalf("Emit(%s) failed: %v", event, err)
	}
}

// next returns the next frame, skipping the greeting
func (rc *rawConn) next(t *testing.T) frame {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case f, ok := <-rc.frames:
			if !ok {
				t.Fatal("Connection closed")
			}
			if f.event == "connected" {
				continue
			}
			return f
		case <-timer.C:
			t.Fatal("Timed out waiting for an event")
		}
	}
}

func (rc *rawConn) expect(t *testing.T, event string) frame {
	t.Helper()
	f := rc.next(t)
	if f.event != event {
		t.Fatalf("Expected %s, got %s %v", event, f.event, f.payload)
	}
	return f
}

func TestE2E_AdminSubscriptionReceivesEvents(t *testing.T) {
	srv, url := startServer(t, ws.Options{})

	client := realtime.NewClient(&realtime.SocketIODialer{URL: url, HandshakeTimeout: waitTimeout}, nil)
	defer client.Disconnect()

	notifier := &recordingNotifier{}
	received := make(chan realtime.Event, 4)

	sub := ppews.New(client, notifier, nil)
	sub.Mount(ppews.Options{
		UserID:            "a1",
		IsAdmin:           true,
		Token:             token(t, auth.Identity{UserID: "a1", Role: auth.RoleAdmin}),
		ShowNotifications: true,
		OnDistributed:     func(ev realtime.Event) { received <- ev },
	})
	defer sub.Unmount()

	waitFor(t, "admin room join", func() bool { return srv.RoomSizes()["admin"] == 1 })
	if !sub.IsConnected() {
		t.Error("Expected subscription to report connected")
	}

	stored := publish(t, srv, ws.PublishRequest{
		Topic:        realtime.TopicDistributed,
		Payload:      json.RawMessage(`{"issuance":{"item_id":{"item_name":"Helmet"},"user_id":{"full_name":"Alice"}}}`),
		DepartmentID: "d1",
		UserID:       "u1",
	})

	select {
	case ev := <-received:
		if ev["eventId"] != stored.EventUID {
			t.Errorf("Expected eventId %s, got %v", stored.EventUID, ev["eventId"])
		}
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for distributed event")
	}

	waitFor(t, "notification", func() bool { return notifier.has("Helmet distributed to Alice") })
	waitFor(t, "replay cursor", func() bool { return client.LastEventID() == stored.EventUID })
}

func TestE2E_ManagerOnlySeesOwnDepartment(t *testing.T) {
	srv, url := startServer(t, ws.Options{})
	rc := dialRaw(t, url, token(t, auth.Identity{UserID: "m1", Role: auth.RoleManager, DepartmentID: "d1"}))

	rc.emit(t, realtime.EventJoinManagerRoom, map[string]string{"departmentId": "d2"})
	refused := rc.expect(t, realtime.EventRoomError)
	if refused.payload["room"] != "manager:d2" {
		t.Errorf("Expected refusal for manager:d2, got %v", refused.payload)
	}

	rc.emit(t, realtime.EventJoinManagerRoom, map[string]string{"departmentId": "d1"})
	joined := rc.expect(t, realtime.EventRoomJoined)
	if joined.payload["room"] != "manager:d1" {
		t.Errorf("Expected manager:d1 joined, got %v", joined.payload)
	}

	publish(t, srv, ws.PublishRequest{Topic: realtime.TopicReturned, DepartmentID: "d2"})
	own := publish(t, srv, ws.PublishRequest{Topic: realtime.TopicReturned, DepartmentID: "d1"})

	got := rc.expect(t, realtime.TopicReturned.EventName())
	if got.payload["eventId"] != own.EventUID {
		t.Errorf("Expected only the d1 event, got %v", got.payload)
	}
}

func TestE2E_EventSentOncePerConnection(t *testing.T) {
	srv, url := startServer(t, ws.Options{})
	rc := dialRaw(t, url, token(t, auth.Identity{UserID: "a1", Role: auth.RoleAdmin}))

	rc.emit(t, realtime.EventJoinAdminRoom)
	rc.expect(t, realtime.EventRoomJoined)
	rc.emit(t, realtime.EventJoinUserRoom, map[string]string{"userId": "u1"})
	rc.expect(t, realtime.EventRoomJoined)

	first := publish(t, srv, ws.PublishRequest{Topic: realtime.TopicOverdue, UserID: "u1"})
	second := publish(t, srv, ws.PublishRequest{Topic: realtime.TopicOverdue, UserID: "u1"})

	if f := rc.expect(t, realtime.TopicOverdue.EventName()); f.payload["eventId"] != first.EventUID {
		t.Errorf("Expected %s, got %v", first.EventUID, f.payload)
	}
	if f := rc.expect(t, realtime.TopicOverdue.EventName()); f.payload["eventId"] != second.EventUID {
		t.Errorf("Expected %s without a duplicate in between, got %v", second.EventUID, f.payload)
	}
}

func TestE2E_BadTokenSetsErrorStatus(t *testing.T) {
	_, url := startServer(t, ws.Options{})

	client := realtime.NewClient(&realtime.SocketIODialer{URL: url, HandshakeTimeout: waitTimeout}, nil)
	defer client.Disconnect()

	client.Connect("not-a-token")
	waitFor(t, "error status", func() bool { return client.Status() == realtime.StatusError })
	if client.IsConnected() {
		t.Error("Expected client not to be connected")
	}
}

func TestE2E_ReplayMissedEvents(t *testing.T) {
	srv, url := startServer(t, ws.Options{})

	anchor := publish(t, srv, ws.PublishRequest{Topic: realtime.TopicDistributed, UserID: "u1"})
	publish(t, srv, ws.PublishRequest{Topic: realtime.TopicDistributed, UserID: "u2"})
	missed := publish(t, srv, ws.PublishRequest{Topic: realtime.TopicLowStock, UserID: "u1"})

	rc := dialRaw(t, url, token(t, auth.Identity{UserID: "u1", Role: auth.RoleEmployee}))
	rc.emit(t, realtime.EventJoinUserRoom, map[string]string{"userId": "u1"})
	rc.expect(t, realtime.EventRoomJoined)

	rc.emit(t, realtime.EventRequestReplay, map[string]string{"lastEventId": anchor.EventUID})
	replayed := rc.expect(t, realtime.TopicLowStock.EventName())
	if replayed.payload["eventId"] != missed.EventUID {
		t.Errorf("Expected replay of %s, got %v", missed.EventUID, replayed.payload)
	}

	live := publish(t, srv, ws.PublishRequest{Topic: realtime.TopicReported, UserID: "u1"})
	if f := rc.expect(t, realtime.TopicReported.EventName()); f.payload["eventId"] != live.EventUID {
		t.Errorf("Expected the live event next, got %v", f.payload)
	}
}

func TestE2E_ReplayReset(t *testing.T) {
	srv, url := startServer(t, ws.Options{ReplayLimit: 2})

	first := publish(t, srv, ws.PublishRequest{Topic: realtime.TopicOverdue})
	publish(t, srv, ws.PublishRequest{Topic: realtime.TopicOverdue})
	last := publish(t, srv, ws.PublishRequest{Topic: realtime.TopicOverdue})

	rc := dialRaw(t, url, token(t, auth.Identity{UserID: "a1", Role: auth.RoleAdmin}))

	tests := []struct {
		name       string
		lastID     string
		wantCursor string
	}{
		{"gap too large", first.EventUID, last.EventUID},
		{"unknown id", "gone", last.EventUID},
		{"no cursor", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc.emit(t, realtime.EventRequestReplay, map[string]string{"lastEventId": tt.lastID})
			reset := rc.expect(t, realtime.EventReplayReset)
			if reset.payload["lastEventId"] != tt.wantCursor {
				t.Errorf("Expected cursor %q, got %v", tt.wantCursor, reset.payload["lastEventId"])
			}
		})
	}
}
