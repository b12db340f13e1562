package ws

import (
	socketio "github.com/googollee/go-socket.io"
	"github.com/sirupsen/logrus"

	"ppe_realtime/internal/auth"
	"ppe_realtime/internal/httpx"
	"ppe_realtime/internal/realtime"
)

// RoomRequest is the argument of the manager and user room events
type RoomRequest struct {
	DepartmentID string `json:"departmentId"`
	UserID       string `json:"userId"`
}

// CanJoin decides room membership. Admins may join any room; managers
// their own department; every user their own room.
func CanJoin(claims *auth.Claims, room realtime.Room) bool {
	if claims == nil || !room.Valid() {
		return false
	}
	if claims.IsAdmin() {
		return true
	}
	switch room.Kind {
	case realtime.RoomManager:
		return claims.IsManagerOf(room.Key)
	case realtime.RoomUser:
		return claims.UserID != "" && claims.UserID == room.Key
	}
	return false
}

// TargetRooms lists the rooms an event is routed to. The admin room
// always receives every event.
func TargetRooms(departmentID, userID string) []string {
	rooms := []string{realtime.AdminRoom().Name()}
	if departmentID != "" {
		rooms = append(rooms, realtime.ManagerRoom(departmentID).Name())
	}
	if userID != "" {
		rooms = append(rooms, realtime.UserRoom(userID).Name())
	}
	return rooms
}

func (s *Server) registerRoomHandlers() {
	s.io.OnEvent("/", realtime.EventJoinAdminRoom, func(c socketio.Conn) {
		s.join(c, realtime.AdminRoom())
	})
	s.io.OnEvent("/", realtime.EventLeaveAdminRoom, func(c socketio.Conn) {
		s.leave(c, realtime.AdminRoom())
	})
	s.io.OnEvent("/", realtime.EventJoinManagerRoom, func(c socketio.Conn, req RoomRequest) {
		s.join(c, realtime.ManagerRoom(req.DepartmentID))
	})
	s.io.OnEvent("/", realtime.EventLeaveManagerRoom, func(c socketio.Conn, req RoomRequest) {
		s.leave(c, realtime.ManagerRoom(req.DepartmentID))
	})
	s.io.OnEvent("/", realtime.EventJoinUserRoom, func(c socketio.Conn, req RoomRequest) {
		s.join(c, realtime.UserRoom(req.UserID))
	})
	s.io.OnEvent("/", realtime.EventLeaveUserRoom, func(c socketio.Conn, req RoomRequest) {
		s.leave(c, realtime.UserRoom(req.UserID))
	})
}

func (s *Server) join(c socketio.Conn, room realtime.Room) {
	claims, _ := claimsOf(c)
	log := s.logger.WithFields(logrus.Fields{"conn": c.ID(), "room": room.Name()})

	if !CanJoin(claims, room) {
		log.Warn("Room join refused")
		appErr := httpx.ErrRoomForbidden(room.Name())
		c.Emit(realtime.EventRoomError, map[string]interface{}{
			"room":    room.Name(),
			"code":    appErr.Code,
			"message": appErr.Message,
		})
		return
	}

	c.Join(room.Name())
	log.Debug("Joined room")
	c.Emit(realtime.EventRoomJoined, map[string]interface{}{"room": room.Name()})
}

func (s *Server) leave(c socketio.Conn, room realtime.Room) {
	if !room.Valid() {
		return
	}
	c.Leave(room.Name())
	s.logger.WithFields(logrus.Fields{"conn": c.ID(), "room": room.Name()}).Debug("Left room")
}

// OwnRooms lists the rooms a non-admin may read: their user room and, for
// a manager, the department room.
func OwnRooms(claims *auth.Claims) []string {
	if claims == nil {
		return nil
	}
	var rooms []string
	if claims.IsManagerOf(claims.DepartmentID) {
		rooms = append(rooms, realtime.ManagerRoom(claims.DepartmentID).Name())
	}
	if claims.UserID != "" {
		rooms = append(rooms, realtime.UserRoom(claims.UserID).Name())
	}
	return rooms
}
