// Package ppews keeps a view subscribed to PPE realtime events for as long
// as it is mounted.
package ppews

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ppe_realtime/internal/notify"
	"ppe_realtime/internal/realtime"
)

// Channel is the part of *realtime.Client a Subscription drives
type Channel interface {
	Connect(token string)
	Disconnect()
	IsConnected() bool
	Status() realtime.Status
	Session() uint64
	Subscribe(topic realtime.Topic, h *realtime.Handler)
	Unsubscribe(topic realtime.Topic, h *realtime.Handler)
	Join(r realtime.Room)
	Leave(r realtime.Room)
}

var _ Channel = (*realtime.Client)(nil)

// Callback receives the raw event payload
type Callback func(realtime.Event)

// Options is everything a view passes on each render
type Options struct {
	UserID            string
	DepartmentID      string
	IsAdmin           bool
	IsManager         bool
	Token             string
	ShowNotifications bool

	OnDistributed Callback
	OnReturned    Callback
	OnReported    Callback
	OnOverdue     Callback
	OnLowStock    Callback
}

func (o Options) callback(topic realtime.Topic) Callback {
	switch topic {
	case realtime.TopicDistributed:
		return o.OnDistributed
	case realtime.TopicReturned:
		return o.OnReturned
	case realtime.TopicReported:
		return o.OnReported
	case realtime.TopicOverdue:
		return o.OnOverdue
	case realtime.TopicLowStock:
		return o.OnLowStock
	}
	return nil
}

// identity holds the inputs that decide the connection and the room.
// Changing any of them rebinds the subscription.
type identity struct {
	token        string
	userID       string
	departmentID string
	isAdmin      bool
	isManager    bool
}

func (o Options) identity() identity {
	return identity{
		token:        o.Token,
		userID:       o.UserID,
		departmentID: o.DepartmentID,
		isAdmin:      o.IsAdmin,
		isManager:    o.IsManager,
	}
}

// SelectRoom picks the single room for opts: admin, then manager with a
// department, then the user's own room.
func SelectRoom(opts Options) (realtime.Room, bool) {
	return opts.identity().room()
}

func (id identity) room() (realtime.Room, bool) {
	switch {
	case id.isAdmin:
		return realtime.AdminRoom(), true
	case id.isManager && id.departmentID != "":
		return realtime.ManagerRoom(id.departmentID), true
	case id.userID != "":
		return realtime.UserRoom(id.userID), true
	}
	return realtime.Room{}, false
}

// State of a Subscription
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
)

type binding struct {
	ident   identity
	room    realtime.Room
	hasRoom bool
	// session of the channel when the room was joined
	session uint64
}

// Subscription is a per-view adapter over a shared Channel
type Subscription struct {
	channel  Channel
	notifier notify.Notifier
	logger   *logrus.Entry

	// latest is read by the wrapper handlers on every event
	mu     sync.Mutex
	latest Options

	// lifecycle serializes Mount/Update/Unmount/Disconnect
	lifecycle sync.Mutex
	bound     *binding
	handlers  map[realtime.Topic]*realtime.Handler
}

// New creates an unmounted Subscription
func New(channel Channel, notifier notify.Notifier, logger *logrus.Entry) *Subscription {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Subscription{
		channel:  channel,
		notifier: notifier,
		logger:   logger.WithField("component", "ppe-subscription"),
		handlers: make(map[realtime.Topic]*realtime.Handler, len(realtime.Topics)),
	}
	for _, topic := range realtime.Topics {
		topic := topic
		s.handlers[topic] = realtime.NewHandler(func(ev realtime.Event) {
			s.handle(topic, ev)
		})
	}
	return s
}

// Mount is the first render of the view
func (s *Subscription) Mount(opts Options) {
	s.Update(opts)
}

// Update applies a new render. Callbacks are swapped in place; a change of
// token, user, department or role flags tears the old binding down before
// the new one is set up.
func (s *Subscription) Update(opts Options) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	s.latest = opts
	s.mu.Unlock()

	next := opts.identity()
	if s.bound != nil && s.bound.ident == next {
		s.refresh()
		return
	}

	s.teardown()
	if next.token == "" {
		return
	}
	s.setup(next)
}

// Unmount removes every subscription and leaves the room. The shared
// channel stays connected.
func (s *Subscription) Unmount() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.teardown()

	s.mu.Lock()
	s.latest = Options{}
	s.mu.Unlock()
}

// Disconnect tears down the underlying channel, e.g. on logout
func (s *Subscription) Disconnect() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.channel.Disconnect()
	s.bound = nil
}

// KeepConnected retries the current binding every interval while the
// channel is down. It returns when ctx is done.
func (s *Subscription) KeepConnected(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsConnected() {
				s.retry()
			}
		}
	}
}

func (s *Subscription) retry() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.bound == nil {
		return
	}
	s.refresh()
}

// refresh brings an unchanged binding back in line with the channel.
// The caller holds lifecycle and s.bound is set.
func (s *Subscription) refresh() {
	ident := s.bound.ident
	if s.channel.Session() != s.bound.session {
		// another holder disconnected the channel; our room and handlers are gone
		s.logger.Info("Realtime channel was reset, binding again")
		s.bound = nil
		s.setup(ident)
		return
	}

	switch s.channel.Status() {
	case realtime.StatusError, realtime.StatusDisconnected:
		// the channel keeps rooms and handlers across a redial
		s.logger.Info("Realtime channel is down, reconnecting")
		s.channel.Connect(ident.token)
	}
}

// IsConnected passes through the channel status
func (s *Subscription) IsConnected() bool {
	return s.channel.IsConnected()
}

// State reports where the subscription is in its lifecycle
func (s *Subscription) State() State {
	s.lifecycle.Lock()
	bound := s.bound != nil
	s.lifecycle.Unlock()

	if !bound {
		return StateIdle
	}
	switch s.channel.Status() {
	case realtime.StatusConnected:
		return StateActive
	case realtime.StatusConnecting:
		return StateConnecting
	}
	return StateIdle
}

// Room returns the room currently joined, if any
func (s *Subscription) Room() (realtime.Room, bool) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.bound == nil || !s.bound.hasRoom {
		return realtime.Room{}, false
	}
	return s.bound.room, true
}

func (s *Subscription) setup(ident identity) {
	s.channel.Connect(ident.token)
	for _, topic := range realtime.Topics {
		s.channel.Subscribe(topic, s.handlers[topic])
	}

	b := &binding{ident: ident, session: s.channel.Session()}
	if room, ok := ident.room(); ok {
		s.channel.Join(room)
		b.room = room
		b.hasRoom = true
	}
	s.bound = b

	s.logger.WithField("room", b.room.Name()).Debug("Subscription bound")
}

// teardown undoes exactly what setup did for the current binding
func (s *Subscription) teardown() {
	if s.bound == nil {
		return
	}
	for _, topic := range realtime.Topics {
		s.channel.Unsubscribe(topic, s.handlers[topic])
	}
	// after a reset the room may belong to other holders only
	if s.bound.hasRoom && s.channel.Session() == s.bound.session {
		s.channel.Leave(s.bound.room)
	}

	s.logger.WithField("room", s.bound.room.Name()).Debug("Subscription released")
	s.bound = nil
}

func (s *Subscription) handle(topic realtime.Topic, ev realtime.Event) {
	s.mu.Lock()
	show := s.latest.ShowNotifications
	cb := s.latest.callback(topic)
	s.mu.Unlock()

	if show {
		s.notify(topic, ev)
	}
	if cb != nil {
		s.invoke(topic, cb, ev)
	}
}

func (s *Subscription) notify(topic realtime.Topic, ev realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("topic", topic).Errorf("Notifier panicked: %v", r)
		}
	}()
	s.notifier.Notify(notify.Describe(topic, ev))
}

func (s *Subscription) invoke(topic realtime.Topic, cb Callback, ev realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("topic", topic).Errorf("View callback panicked: %v", r)
		}
	}()
	cb(ev)
}
