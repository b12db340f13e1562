package eventlog

import (
	"context"
	"sync"
	"time"

	"ppe_realtime/models"
)

// MemoryStore is an in-process Store for tests and single-node demos.
// Capacity bounds the log; the oldest events are dropped first.
type MemoryStore struct {
	mu       sync.Mutex
	events   []models.WSEvent
	nextID   int64
	capacity int
}

// NewMemoryStore creates a store holding at most capacity events (0 = unbounded)
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{capacity: capacity, nextID: 1}
}

func (s *MemoryStore) Append(_ context.Context, ev *models.WSEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = s.nextID
	s.nextID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, *ev)
	if s.capacity > 0 && len(s.events) > s.capacity {
		s.events = append([]models.WSEvent(nil), s.events[len(s.events)-s.capacity:]...)
	}
	return nil
}

func (s *MemoryStore) After(_ context.Context, eventUID string, limit int) ([]models.WSEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ev := range s.events {
		if ev.EventUID != eventUID {
			continue
		}
		rest := s.events[i+1:]
		if limit > 0 && len(rest) > limit {
			rest = rest[:limit]
		}
		return append([]models.WSEvent(nil), rest...), true, nil
	}
	return nil, false, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]models.WSEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	return append([]models.WSEvent(nil), s.events[start:]...), nil
}

func (s *MemoryStore) Latest(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == 0 {
		return "", nil
	}
	return s.events[len(s.events)-1].EventUID, nil
}
