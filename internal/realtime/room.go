package realtime

// RoomKind is the broadcast scope of a room
type RoomKind string

const (
	RoomAdmin   RoomKind = "admin"
	RoomManager RoomKind = "manager"
	RoomUser    RoomKind = "user"
)

// Room is a server-side broadcast scope. Key is the department id for
// manager rooms and the user id for user rooms; empty for the admin room.
type Room struct {
	Kind RoomKind
	Key  string
}

// Name returns the server room name, e.g. "admin", "manager:d1", "user:u1"
func (r Room) Name() string {
	if r.Kind == RoomAdmin {
		return string(RoomAdmin)
	}
	return string(r.Kind) + ":" + r.Key
}

// Valid reports whether the room can be joined. Scoped rooms need a key.
func (r Room) Valid() bool {
	switch r.Kind {
	case RoomAdmin:
		return true
	case RoomManager, RoomUser:
		return r.Key != ""
	}
	return false
}

// Control events exchanged with the push-event server
const (
	EventJoinAdminRoom    = "join_admin_room"
	EventLeaveAdminRoom   = "leave_admin_room"
	EventJoinManagerRoom  = "join_manager_room"
	EventLeaveManagerRoom = "leave_manager_room"
	EventJoinUserRoom     = "join_user_room"
	EventLeaveUserRoom    = "leave_user_room"

	EventRoomJoined    = "room:joined"
	EventRoomError     = "room:error"
	EventRequestReplay = "request:events"
	EventReplayReset   = "events:reset"
)

func (r Room) joinEvent() string {
	switch r.Kind {
	case RoomManager:
		return EventJoinManagerRoom
	case RoomUser:
		return EventJoinUserRoom
	}
	return EventJoinAdminRoom
}

func (r Room) leaveEvent() string {
	switch r.Kind {
	case RoomManager:
		return EventLeaveManagerRoom
	case RoomUser:
		return EventLeaveUserRoom
	}
	return EventLeaveAdminRoom
}

// payload is the control event argument, nil for the admin room
func (r Room) payload() map[string]interface{} {
	switch r.Kind {
	case RoomManager:
		return map[string]interface{}{"departmentId": r.Key}
	case RoomUser:
		return map[string]interface{}{"userId": r.Key}
	}
	return nil
}

// AdminRoom returns the global admin room
func AdminRoom() Room { return Room{Kind: RoomAdmin} }

// ManagerRoom returns the room of one department
func ManagerRoom(departmentID string) Room {
	return Room{Kind: RoomManager, Key: departmentID}
}

// UserRoom returns the personal room of one user
func UserRoom(userID string) Room {
	return Room{Kind: RoomUser, Key: userID}
}
