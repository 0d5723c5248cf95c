package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix,
// e.g. "message." receives every message lifecycle event.
const (
	MessageAppended        = "message.appended"
	MessageConfirmed       = "message.confirmed"
	MessageFailed          = "message.failed"
	MessageRetried         = "message.retried"
	ConversationUpdated    = "conversation.updated"
	PresenceChanged        = "presence.changed"
	ConnectionStateChanged = "connection.state_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
