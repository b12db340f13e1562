// Package eventlog persists published PPE events so clients can replay what
// they missed while disconnected.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ppe_realtime/models"
)

// Store is an append-only, id-ordered event log
type Store interface {
	Append(ctx context.Context, ev *models.WSEvent) error
	// After returns up to limit events logged after the event with eventUID.
	// found is false when eventUID is unknown.
	After(ctx context.Context, eventUID string, limit int) (events []models.WSEvent, found bool, err error)
	// Recent returns the newest limit events, oldest first
	Recent(ctx context.Context, limit int) ([]models.WSEvent, error)
	// Latest returns the uid of the newest event, or "" for an empty log
	Latest(ctx context.Context) (string, error)
}

// Rooms decodes the room list stored with ev
func Rooms(ev *models.WSEvent) []string {
	var rooms []string
	if len(ev.Rooms) == 0 {
		return nil
	}
	if err := json.Unmarshal(ev.Rooms, &rooms); err != nil {
		return nil
	}
	return rooms
}

// VisibleTo reports whether ev was routed to any of rooms
func VisibleTo(ev *models.WSEvent, rooms []string) bool {
	for _, target := range Rooms(ev) {
		for _, r := range rooms {
			if r == target {
				return true
			}
		}
	}
	return false
}

// GormStore keeps the log in the ws_events table
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Append(ctx context.Context, ev *models.WSEvent) error {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to write event to database: %w", err)
	}
	return nil
}

func (s *GormStore) After(ctx context.Context, eventUID string, limit int) ([]models.WSEvent, bool, error) {
	var anchor models.WSEvent
	err := s.db.WithContext(ctx).
		Select("id").
		Where("event_uid = ?", eventUID).
		Take(&anchor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up event %s: %w", eventUID, err)
	}

	var events []models.WSEvent
	err = s.db.WithContext(ctx).
		Where("id > ?", anchor.ID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, true, fmt.Errorf("failed to query incremental events: %w", err)
	}
	return events, true, nil
}

func (s *GormStore) Recent(ctx context.Context, limit int) ([]models.WSEvent, error) {
	var events []models.WSEvent
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *GormStore) Latest(ctx context.Context) (string, error) {
	var event models.WSEvent
	err := s.db.WithContext(ctx).
		Select("event_uid").
		Order("id DESC").
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest event: %w", err)
	}
	return event.EventUID, nil
}
