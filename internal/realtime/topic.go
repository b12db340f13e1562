package realtime

// Topic identifies one kind of PPE event pushed by the server
type Topic string

const (
	TopicDistributed Topic = "distributed"
	TopicReturned    Topic = "returned"
	TopicReported    Topic = "reported"
	TopicOverdue     Topic = "overdue"
	TopicLowStock    Topic = "low_stock"
)

// Topics lists every topic in a fixed order
var Topics = []Topic{
	TopicDistributed,
	TopicReturned,
	TopicReported,
	TopicOverdue,
	TopicLowStock,
}

// EventName returns the Socket.IO event name carrying this topic
func (t Topic) EventName() string {
	return "ppe_" + string(t)
}

// Valid reports whether t is one of the known topics
func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// TopicFromEvent maps a Socket.IO event name back to its topic
func TopicFromEvent(event string) (Topic, bool) {
	for _, t := range Topics {
		if t.EventName() == event {
			return t, true
		}
	}
	return "", false
}

// Event is the loosely-typed payload of a pushed event.
// Field shapes vary per topic; readers must tolerate missing keys.
type Event map[string]interface{}
