package ws

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/sirupsen/logrus"

	"ppe_realtime/internal/bus"
	"ppe_realtime/internal/eventlog"
	"ppe_realtime/internal/realtime"
)

// Options configures the push-event server
type Options struct {
	Store          eventlog.Store
	Bus            *bus.Bus
	Logger         *logrus.Entry
	ReplayLimit    int
	AllowedOrigins []string // empty allows any origin
}

// Server is the Socket.IO endpoint PPE clients connect to
type Server struct {
	io          *socketio.Server
	store       eventlog.Store
	bus         *bus.Bus
	logger      *logrus.Entry
	replayLimit int
	instanceID  string
}

// NewServer creates the Socket.IO server and registers its handlers
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = 500
	}
	if opts.Bus == nil {
		opts.Bus = bus.New(nil, "", logger)
	}

	checkOrigin := originChecker(opts.AllowedOrigins)
	s := &Server{
		io: socketio.NewServer(&engineio.Options{
			Transports: []transport.Transport{
				&polling.Transport{CheckOrigin: checkOrigin},
				&websocket.Transport{CheckOrigin: checkOrigin},
			},
		}),
		store:       opts.Store,
		bus:         opts.Bus,
		logger:      logger.WithField("component", "ws-server"),
		replayLimit: opts.ReplayLimit,
		instanceID:  uuid.NewString(),
	}

	s.io.OnConnect("/", s.onConnect)
	s.io.OnDisconnect("/", func(c socketio.Conn, reason string) {
		s.logger.WithFields(logrus.Fields{"conn": c.ID(), "reason": reason}).Info("Client disconnected")
	})
	s.io.OnError("/", func(c socketio.Conn, e error) {
		entry := s.logger.WithError(e)
		if c != nil {
			entry = entry.WithField("conn", c.ID())
		}
		entry.Warn("Socket error")
	})

	s.registerRoomHandlers()
	s.io.OnEvent("/", realtime.EventRequestReplay, s.handleRequestEvents)

	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (s *Server) onConnect(c socketio.Conn) error {
	u := c.URL()
	claims, err := authenticate(u.Query(), c.RemoteHeader())
	if err != nil {
		s.logger.WithError(err).WithField("conn", c.ID()).Warn("Rejecting unauthenticated connection")
		return err
	}
	c.SetContext(&session{claims: claims})

	s.logger.WithFields(logrus.Fields{
		"conn": c.ID(),
		"uid":  claims.UserID,
		"role": claims.Role,
	}).Info("Client connected")

	// the write loop starts only after this handler returns
	go c.Emit("connected", map[string]interface{}{
		"ok":     true,
		"userId": claims.UserID,
	})
	return nil
}

// Start subscribes to the bus and runs the Socket.IO accept loop
func (s *Server) Start(ctx context.Context) error {
	if err := s.bus.Start(ctx, s.deliver); err != nil {
		return err
	}

	go func() {
		if err := s.io.Serve(); err != nil {
			s.logger.WithError(err).Error("Socket.IO server stopped")
		}
	}()

	s.logger.WithField("instance", s.instanceID).Info("Socket.IO server initialized")
	return nil
}

// Close stops the bus and the Socket.IO server
func (s *Server) Close() error {
	_ = s.bus.Close()
	return s.io.Close()
}

// Handler returns the authenticated HTTP handler to mount at the Socket.IO path
func (s *Server) Handler() http.Handler {
	return WrapWithAuth(s.io, s.logger)
}

// RoomSizes returns the number of local connections in every named room.
// Per-connection id rooms are left out.
func (s *Server) RoomSizes() map[string]int {
	sizes := make(map[string]int)
	for _, room := range s.io.Rooms("/") {
		if !isNamedRoom(room) {
			continue
		}
		sizes[room] = s.io.RoomLen("/", room)
	}
	return sizes
}

// RoomNames returns the named rooms sorted
func (s *Server) RoomNames() []string {
	sizes := s.RoomSizes()
	names := make([]string, 0, len(sizes))
	for name := range sizes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectionCount returns the number of open sessions
func (s *Server) ConnectionCount() int {
	return s.io.Count()
}

func isNamedRoom(room string) bool {
	return room == realtime.AdminRoom().Name() ||
		strings.HasPrefix(room, string(realtime.RoomManager)+":") ||
		strings.HasPrefix(room, string(realtime.RoomUser)+":")
}

// deliver emits a bus message to every local connection in its rooms,
// once per connection even when it sits in several of them.
func (s *Server) deliver(msg bus.Message) {
	topic := realtime.Topic(msg.Topic)
	if !topic.Valid() {
		s.logger.WithField("topic", msg.Topic).Warn("Dropping event with unknown topic")
		return
	}
	event := topic.EventName()

	seen := make(map[string]bool)
	for _, room := range msg.Rooms {
		s.io.ForEach("/", room, func(c socketio.Conn) {
			if seen[c.ID()] {
				return
			}
			seen[c.ID()] = true
			c.Emit(event, msg.Payload)
		})
	}

	s.logger.WithFields(logrus.Fields{
		"eventId": msg.EventID,
		"topic":   msg.Topic,
		"sent":    len(seen),
	}).Debug("Event delivered")
}
