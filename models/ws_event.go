package models

import (
	"time"

	"gorm.io/datatypes"
)

// WSEvent is a PPE event as pushed to socket clients. ID orders the log;
// EventUID is the id clients see and send back as lastEventId.
type WSEvent struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	EventUID     string         `gorm:"column:event_uid;type:char(36);not null;uniqueIndex" json:"eventId"`
	Topic        string         `gorm:"column:topic;type:varchar(32);not null;index:idx_topic_id" json:"topic"`
	DepartmentID string         `gorm:"column:department_id;type:varchar(64);index" json:"departmentId,omitempty"`
	UserID       string         `gorm:"column:user_id;type:varchar(64);index" json:"userId,omitempty"`
	Rooms        datatypes.JSON `gorm:"column:rooms;type:json;not null" json:"rooms"`
	Payload      datatypes.JSON `gorm:"column:payload;type:json;not null" json:"payload"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName specifies the table name for WSEvent
func (WSEvent) TableName() string {
	return "ws_events"
}
