package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"ppe_realtime/internal/bus"
	"ppe_realtime/internal/realtime"
	"ppe_realtime/models"
)

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrInvalidPayload = errors.New("payload must be a JSON object")
	// ErrFanout means the event was logged but could not be broadcast
	ErrFanout = errors.New("event fan-out failed")
)

// PublishRequest describes one PPE event to push. DepartmentID and UserID
// widen delivery beyond the admin room.
type PublishRequest struct {
	Topic        realtime.Topic
	Payload      json.RawMessage
	DepartmentID string
	UserID       string
}

// Publish logs the event then broadcasts it through the bus to every
// instance. The payload gains an "eventId" key clients use to resume.
func (s *Server) Publish(ctx context.Context, req PublishRequest) (*models.WSEvent, error) {
	if !req.Topic.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, req.Topic)
	}

	eventUID := uuid.NewString()
	payload, err := stampPayload(req.Payload, eventUID)
	if err != nil {
		return nil, err
	}

	rooms := TargetRooms(req.DepartmentID, req.UserID)
	roomsJSON, err := json.Marshal(rooms)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rooms: %w", err)
	}

	event := &models.WSEvent{
		EventUID:     eventUID,
		Topic:        string(req.Topic),
		DepartmentID: req.DepartmentID,
		UserID:       req.UserID,
		Rooms:        datatypes.JSON(roomsJSON),
		Payload:      datatypes.JSON(payload),
	}

	if s.store != nil {
		if err := s.store.Append(ctx, event); err != nil {
			return nil, err
		}
	}

	log := s.logger.WithFields(logrus.Fields{
		"eventId": eventUID,
		"topic":   req.Topic,
		"rooms":   rooms,
	})

	err = s.bus.Publish(ctx, bus.Message{
		EventID: eventUID,
		Topic:   string(req.Topic),
		Rooms:   rooms,
		Payload: payload,
		Origin:  s.instanceID,
	})
	if err != nil {
		log.WithError(err).Error("Event stored but not broadcast")
		return event, fmt.Errorf("%w: %w", ErrFanout, err)
	}

	log.Info("Event published")
	return event, nil
}

// stampPayload checks that raw is a JSON object and sets its eventId.
// An empty payload becomes {"eventId": ...}.
func stampPayload(raw json.RawMessage, eventUID string) (json.RawMessage, error) {
	fields := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var decoded map[string]interface{}
		if err := dec.Decode(&decoded); err != nil || decoded == nil {
			return nil, ErrInvalidPayload
		}
		fields = decoded
	}
	fields["eventId"] = eventUID

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return out, nil
}

// wirePayload is what a logged event looks like on the socket
func wirePayload(ev *models.WSEvent) json.RawMessage {
	if len(ev.Payload) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(ev.Payload)
}
