package realtime

import "github.com/RaRa-D-Boy/devCom-sub000/internal/models"

// EventType identifies what happened to the message a stream event carries.
type EventType string

const (
	// EventInsert is a newly committed message
	EventInsert EventType = "insert"

	// EventUpdate is an edit to an existing message
	EventUpdate EventType = "update"

	// EventDelete is a soft delete; the message carries the tombstoned state
	EventDelete EventType = "delete"
)

// Event is one unit of stream delivery. It always carries the full,
// current-state message rather than a diff, so listeners never need to
// merge partial data. Delivery is at least once: the same event may arrive
// more than once and listeners must merge idempotently by message id.
type Event struct {
	Type    EventType      `json:"type"`
	Message models.Message `json:"message"`
}

// ConversationKey is the subscription key for one conversation's events.
func ConversationKey(conversationID string) string {
	return "conversation:" + conversationID
}

// ParticipantKey is the subscription key for all events across a
// participant's conversations.
func ParticipantKey(participantID string) string {
	return "participant:" + participantID
}
