package realtime

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Status is the state of the client's connection
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Handler wraps a subscriber callback. The pointer is the subscription's
// identity: Unsubscribe must be given the same *Handler that was subscribed.
type Handler struct {
	fn func(Event)
}

// NewHandler creates a handler for fn
func NewHandler(fn func(Event)) *Handler {
	return &Handler{fn: fn}
}

// Handle calls the wrapped function
func (h *Handler) Handle(ev Event) {
	h.fn(ev)
}

// Client owns a single connection to the push-event server and fans
// pushed events out to topic subscribers.
type Client struct {
	dialer Dialer
	logger *logrus.Entry

	mu         sync.Mutex
	status     Status
	token      string
	conn       Conn
	generation uint64
	handlers   map[Topic][]*Handler

	// rooms keeps join order; roomRefs counts the views holding each room
	rooms    []Room
	roomRefs map[Room]int

	// session changes whenever subscriptions or rooms are dropped wholesale
	session uint64

	// outbox holds control events in the order they were decided; flushing
	// is set while one goroutine writes them out without holding mu
	outbox   []outgoing
	flushing bool

	// lastEventID is the newest eventId seen; it is sent back on reconnect
	// so the server can replay what was missed.
	lastEventID string
}

// NewClient creates a disconnected client
func NewClient(dialer Dialer, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		dialer:   dialer,
		logger:   logger.WithField("component", "realtime-client"),
		status:   StatusDisconnected,
		handlers: make(map[Topic][]*Handler),
		roomRefs: make(map[Room]int),
	}
}

// control is a join, leave or replay request waiting to be written
type control struct {
	event   string
	payload map[string]interface{}
}

type outgoing struct {
	conn Conn
	control
}

// Connect starts connecting with token and returns immediately.
// Calling it again with the same token while connecting or connected does
// nothing. A different token replaces the current connection.
func (c *Client) Connect(token string) {
	if token == "" {
		c.logger.Warn("Connect called without a token, ignoring")
		return
	}

	c.mu.Lock()
	if c.token == token && (c.status == StatusConnecting || c.status == StatusConnected) {
		c.mu.Unlock()
		return
	}

	old := c.conn
	if c.token != token {
		// rooms and replay cursor belong to the previous session
		c.rooms = nil
		c.roomRefs = make(map[Room]int)
		c.lastEventID = ""
		c.session++
	}
	c.conn = nil
	c.generation++
	gen := c.generation
	c.token = token
	c.status = StatusConnecting
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	go c.dial(gen, token)
}

func (c *Client) dial(gen uint64, token string) {
	conn, err := c.dialer.Dial(token)

	c.mu.Lock()
	if gen != c.generation {
		// superseded by Disconnect or another Connect
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		c.status = StatusError
		c.mu.Unlock()
		c.logger.WithError(err).Warn("Realtime connection failed")
		return
	}

	c.conn = conn
	c.status = StatusConnected
	c.logger.Info("Realtime connection established")

	msgs := make([]control, 0, len(c.rooms)+1)
	for _, r := range c.rooms {
		msgs = append(msgs, control{r.joinEvent(), r.payload()})
	}
	if c.lastEventID != "" {
		msgs = append(msgs, control{EventRequestReplay, map[string]interface{}{"lastEventId": c.lastEventID}})
	}

	go c.readLoop(gen, conn)
	c.sendAndUnlock(conn, msgs...)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		event, payload, err := conn.ReadEvent()
		if err != nil {
			c.mu.Lock()
			current := gen == c.generation
			if current {
				c.status = StatusDisconnected
				c.conn = nil
			}
			c.mu.Unlock()

			_ = conn.Close()
			if current {
				c.logger.WithError(err).Warn("Realtime connection lost")
			}
			return
		}

		if event == EventReplayReset {
			c.resetReplay(gen, decodeEvent(payload))
			continue
		}

		topic, ok := TopicFromEvent(event)
		if !ok {
			c.logger.WithField("event", event).Debug("Ignoring unknown event")
			continue
		}

		c.dispatch(gen, topic, decodeEvent(payload))
	}
}

// decodeEvent never fails: anything that is not a JSON object becomes an empty Event
func decodeEvent(payload json.RawMessage) Event {
	if len(payload) == 0 {
		return Event{}
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil || ev == nil {
		return Event{}
	}
	return ev
}

// resetReplay moves the cursor to the server's newest event; events in
// between are lost to this client.
func (c *Client) resetReplay(gen uint64, ev Event) {
	latest, _ := ev["lastEventId"].(string)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.generation {
		c.lastEventID = latest
		c.logger.WithField("lastEventId", latest).Info("Server could not replay missed events")
	}
}

func (c *Client) dispatch(gen uint64, topic Topic, ev Event) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if id, ok := ev["eventId"].(string); ok && id != "" {
		c.lastEventID = id
	}
	// snapshot so handlers may subscribe/unsubscribe while we iterate
	handlers := append([]*Handler(nil), c.handlers[topic]...)
	c.mu.Unlock()

	for _, h := range handlers {
		c.invoke(topic, h, ev)
	}
}

func (c *Client) invoke(topic Topic, h *Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("topic", topic).Errorf("Subscriber panicked: %v", r)
		}
	}()
	h.Handle(ev)
}

// Disconnect closes the connection and forgets all subscriptions and rooms
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	wasIdle := c.status == StatusDisconnected && conn == nil && c.token == ""
	c.generation++
	c.conn = nil
	c.token = ""
	c.status = StatusDisconnected
	c.handlers = make(map[Topic][]*Handler)
	c.rooms = nil
	c.roomRefs = make(map[Room]int)
	c.lastEventID = ""
	c.session++
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !wasIdle {
		c.logger.Info("Realtime client disconnected")
	}
}

// IsConnected reports whether the connection is currently up
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnected
}

// Status returns the current connection status
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns a counter that changes whenever Disconnect or a new token
// drops every subscription and room. Holders of a room compare it to know
// whether their membership still stands.
func (c *Client) Session() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// LastEventID returns the id of the newest event received, if any
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// Subscribe registers h for topic. Registering the same handler twice is a no-op.
func (c *Client) Subscribe(topic Topic, h *Handler) {
	if h == nil || h.fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.handlers[topic] {
		if existing == h {
			return
		}
	}
	c.handlers[topic] = append(c.handlers[topic], h)
}

// Unsubscribe removes h from topic. Unknown handlers are ignored.
func (c *Client) Unsubscribe(topic Topic, h *Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.handlers[topic]
	for i, existing := range list {
		if existing == h {
			// copy so an in-flight dispatch snapshot is never mutated
			next := make([]*Handler, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			c.handlers[topic] = next
			return
		}
	}
}

// SubscriberCount returns the number of handlers registered for topic
func (c *Client) SubscriberCount(topic Topic) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[topic])
}

func (c *Client) SubscribeToDistributed(h *Handler)     { c.Subscribe(TopicDistributed, h) }
func (c *Client) UnsubscribeFromDistributed(h *Handler) { c.Unsubscribe(TopicDistributed, h) }
func (c *Client) SubscribeToReturned(h *Handler)        { c.Subscribe(TopicReturned, h) }
func (c *Client) UnsubscribeFromReturned(h *Handler)    { c.Unsubscribe(TopicReturned, h) }
func (c *Client) SubscribeToReported(h *Handler)        { c.Subscribe(TopicReported, h) }
func (c *Client) UnsubscribeFromReported(h *Handler)    { c.Unsubscribe(TopicReported, h) }
func (c *Client) SubscribeToOverdue(h *Handler)         { c.Subscribe(TopicOverdue, h) }
func (c *Client) UnsubscribeFromOverdue(h *Handler)     { c.Unsubscribe(TopicOverdue, h) }
func (c *Client) SubscribeToLowStock(h *Handler)        { c.Subscribe(TopicLowStock, h) }
func (c *Client) UnsubscribeFromLowStock(h *Handler)    { c.Unsubscribe(TopicLowStock, h) }

func (c *Client) JoinAdminRoom()  { c.Join(AdminRoom()) }
func (c *Client) LeaveAdminRoom() { c.Leave(AdminRoom()) }

func (c *Client) JoinManagerRoom(departmentID string)  { c.Join(ManagerRoom(departmentID)) }
func (c *Client) LeaveManagerRoom(departmentID string) { c.Leave(ManagerRoom(departmentID)) }

func (c *Client) JoinUserRoom(userID string)  { c.Join(UserRoom(userID)) }
func (c *Client) LeaveUserRoom(userID string) { c.Leave(UserRoom(userID)) }

// Join takes one reference on r. The server is told on the first
// reference only, once connected; rooms joined before the connection is up
// are sent when it is.
func (c *Client) Join(r Room) {
	if !r.Valid() {
		c.logger.WithField("room", r.Name()).Debug("Ignoring join of room without an id")
		return
	}
	c.mu.Lock()
	c.roomRefs[r]++
	if c.roomRefs[r] > 1 {
		c.mu.Unlock()
		return
	}
	c.rooms = append(c.rooms, r)
	if c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.sendAndUnlock(c.conn, control{r.joinEvent(), r.payload()})
}

// Leave drops one reference on r. The server is told when the last one goes.
func (c *Client) Leave(r Room) {
	if !r.Valid() {
		return
	}
	c.mu.Lock()
	refs := c.roomRefs[r]
	if refs == 0 {
		c.mu.Unlock()
		return
	}
	if refs > 1 {
		c.roomRefs[r] = refs - 1
		c.mu.Unlock()
		return
	}

	delete(c.roomRefs, r)
	for i, existing := range c.rooms {
		if existing == r {
			c.rooms = append(c.rooms[:i:i], c.rooms[i+1:]...)
			break
		}
	}
	if c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.sendAndUnlock(c.conn, control{r.leaveEvent(), r.payload()})
}

// Rooms returns the rooms this client is a member of
func (c *Client) Rooms() []Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Room(nil), c.rooms...)
}

// RoomRefs returns how many holders r currently has
func (c *Client) RoomRefs(r Room) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomRefs[r]
}

// sendAndUnlock queues msgs for conn and releases c.mu, which must be held.
// If no other goroutine is writing, the caller drains the queue itself.
func (c *Client) sendAndUnlock(conn Conn, msgs ...control) {
	if conn == nil || len(msgs) == 0 {
		c.mu.Unlock()
		return
	}
	for _, m := range msgs {
		c.outbox = append(c.outbox, outgoing{conn: conn, control: m})
	}
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	c.mu.Unlock()

	c.flush()
}

func (c *Client) flush() {
	for {
		c.mu.Lock()
		batch := c.outbox
		c.outbox = nil
		current := c.conn
		if len(batch) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		for _, m := range batch {
			if m.conn != current {
				// replaced or closed; a new connection re-sends its rooms
				continue
			}
			var err error
			if m.payload == nil {
				err = m.conn.Emit(m.event)
			} else {
				err = m.conn.Emit(m.event, m.payload)
			}
			if err != nil {
				c.logger.WithError(err).WithField("event", m.event).Warn("Failed to send control event")
			}
		}
	}
}
