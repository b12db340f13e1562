package events

import (
	"context"
	"encoding/json"
	"errors"

	"ppe_realtime/api/v1/middleware"
	"ppe_realtime/internal/eventlog"
	"ppe_realtime/internal/httpx"
	"ppe_realtime/internal/realtime"
	"ppe_realtime/internal/ws"
	"ppe_realtime/models"

	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Publisher pushes an event to connected clients
type Publisher interface {
	Publish(ctx context.Context, req ws.PublishRequest) (*models.WSEvent, error)
}

// RoomStats reports socket room occupancy
type RoomStats interface {
	RoomSizes() map[string]int
	ConnectionCount() int
}

// PublishRequest represents publish event request
type PublishRequest struct {
	Topic        string          `json:"topic" binding:"required"`
	Payload      json.RawMessage `json:"payload"`
	DepartmentID string          `json:"departmentId"`
	UserID       string          `json:"userId"`
}

// ListRequest represents list events request
type ListRequest struct {
	LastEventID string `form:"lastEventId"`
	Limit       int    `form:"limit"`
}

// RoomsResponse represents room occupancy response
type RoomsResponse struct {
	Rooms       map[string]int `json:"rooms"`
	Connections int            `json:"connections"`
}

// Handler handles PPE event API
type Handler struct {
	publisher Publisher
	stats     RoomStats
	store     eventlog.Store
}

// NewHandler creates a new events handler
func NewHandler(publisher Publisher, stats RoomStats, store eventlog.Store) *Handler {
	return &Handler{
		publisher: publisher,
		stats:     stats,
		store:     store,
	}
}

// Publish handles POST /api/v1/ppe/events
func (h *Handler) Publish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing(err.Error()))
		return
	}

	topic := realtime.Topic(req.Topic)
	if !topic.Valid() {
		httpx.FailErr(c, httpx.ErrUnknownTopic(req.Topic))
		return
	}

	ev, err := h.publisher.Publish(c.Request.Context(), ws.PublishRequest{
		Topic:        topic,
		Payload:      req.Payload,
		DepartmentID: req.DepartmentID,
		UserID:       req.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ws.ErrUnknownTopic):
			httpx.FailErr(c, httpx.ErrUnknownTopic(req.Topic))
		case errors.Is(err, ws.ErrInvalidPayload):
			httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		case errors.Is(err, ws.ErrFanout):
			appErr := httpx.ErrPublishError("event stored but not broadcast", err)
			if ev != nil {
				appErr = appErr.WithData(gin.H{"eventId": ev.EventUID})
			}
			httpx.FailErr(c, appErr)
		default:
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to store event", err))
		}
		return
	}

	httpx.OK(c, ev)
}

// List handles GET /api/v1/ppe/events.
// Without lastEventId it returns the newest events; with it, the events
// after that id. Events outside the caller's rooms are filtered out.
func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}
	if req.Limit < 1 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}

	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		httpx.FailErr(c, httpx.ErrUnauthorized(""))
		return
	}

	ctx := c.Request.Context()
	var (
		page    []models.WSEvent
		hasMore bool
		cursor  string
	)

	if req.LastEventID == "" {
		recent, err := h.store.Recent(ctx, req.Limit)
		if err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch events", err))
			return
		}
		page = recent
	} else {
		after, found, err := h.store.After(ctx, req.LastEventID, req.Limit+1)
		if err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch events", err))
			return
		}
		if !found {
			latest, err := h.store.Latest(ctx)
			if err != nil {
				httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch latest event", err))
				return
			}
			httpx.FailErr(c, httpx.ErrReplayExpired(latest))
			return
		}
		if len(after) > req.Limit {
			after = after[:req.Limit]
			hasMore = true
		}
		page = after
		cursor = req.LastEventID
	}

	// The cursor advances over filtered events too
	if len(page) > 0 {
		cursor = page[len(page)-1].EventUID
	}

	items := make([]models.WSEvent, 0, len(page))
	rooms := ws.OwnRooms(claims)
	for i := range page {
		if claims.IsAdmin() || eventlog.VisibleTo(&page[i], rooms) {
			items = append(items, page[i])
		}
	}

	httpx.OKEvents(c, items, cursor, hasMore)
}

// Rooms handles GET /api/v1/ppe/rooms
func (h *Handler) Rooms(c *gin.Context) {
	httpx.OK(c, RoomsResponse{
		Rooms:       h.stats.RoomSizes(),
		Connections: h.stats.ConnectionCount(),
	})
}
