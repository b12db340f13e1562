package ws

import (
	"context"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/sirupsen/logrus"

	"ppe_realtime/internal/eventlog"
	"ppe_realtime/internal/realtime"
)

// ReplayRequest is the argument of request:events
type ReplayRequest struct {
	LastEventID string `json:"lastEventId"`
}

const replayTimeout = 10 * time.Second

// handleRequestEvents re-emits the events a reconnecting client missed.
// When the gap cannot be replayed the client gets events:reset instead.
func (s *Server) handleRequestEvents(c socketio.Conn, req ReplayRequest) {
	log := s.logger.WithFields(logrus.Fields{"conn": c.ID(), "lastEventId": req.LastEventID})

	if s.store == nil || req.LastEventID == "" {
		s.sendReset(c, "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()

	events, found, err := s.store.After(ctx, req.LastEventID, s.replayLimit)
	if err != nil {
		log.WithError(err).Warn("Failed to query incremental events")
		s.sendReset(c, "")
		return
	}
	if !found {
		log.Info("Unknown lastEventId, resetting client")
		s.sendReset(c, s.latest(ctx))
		return
	}
	if len(events) >= s.replayLimit {
		log.WithField("count", len(events)).Info("Too many missed events, resetting client")
		s.sendReset(c, s.latest(ctx))
		return
	}

	rooms := c.Rooms()
	sent := 0
	for i := range events {
		ev := &events[i]
		if !eventlog.VisibleTo(ev, rooms) {
			continue
		}
		topic := realtime.Topic(ev.Topic)
		if !topic.Valid() {
			continue
		}
		c.Emit(topic.EventName(), wirePayload(ev))
		sent++
	}

	log.WithField("sent", sent).Info("Replayed missed events")
}

func (s *Server) latest(ctx context.Context) string {
	id, err := s.store.Latest(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to query latest event")
		return ""
	}
	return id
}

func (s *Server) sendReset(c socketio.Conn, latest string) {
	c.Emit(realtime.EventReplayReset, map[string]interface{}{
		"lastEventId": latest,
	})
}
