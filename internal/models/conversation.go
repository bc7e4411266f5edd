package models

import "time"

// ConversationKind distinguishes the two conversation variants.
// Each variant has its own required fields; code should switch on Kind
// rather than probing optional fields.
type ConversationKind string

const (
	// KindOneOnOne is a direct conversation between exactly two participants.
	KindOneOnOne ConversationKind = "one_on_one"

	// KindGroup is a conversation owned by a group; membership is resolved
	// through the group directory rather than stored on the row.
	KindGroup ConversationKind = "group"
)

// Conversation represents one ongoing exchange.
// For the one-on-one variant the two participant identifiers are stored in
// canonical order so that the pair (A,B) and (B,A) always map to the same row.
type Conversation struct {
	// ID is the unique identifier for the conversation
	ID string `json:"id"`

	// Kind selects the variant: one_on_one or group
	Kind ConversationKind `json:"kind"`

	// ParticipantLow is the lesser participant id under lexicographic order.
	// Only set for one-on-one conversations.
	ParticipantLow string `json:"participant_low,omitempty"`

	// ParticipantHigh is the greater participant id under lexicographic order.
	// Only set for one-on-one conversations.
	ParticipantHigh string `json:"participant_high,omitempty"`

	// GroupID links a group conversation to its owning group.
	// Only set for group conversations.
	GroupID string `json:"group_id,omitempty"`

	// CreatedAt is when the conversation was first created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every new message, used for chat-list ordering
	UpdatedAt time.Time `json:"updated_at"`
}

// CanonicalPair returns the two identifiers of a one-on-one pair in
// canonical (low, high) order.
func CanonicalPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// HasParticipant reports whether id is one of the two direct participants.
// Group membership is not stored on the row and always reports false here;
// callers must consult the group directory for the group variant.
func (c *Conversation) HasParticipant(id string) bool {
	if c.Kind != KindOneOnOne {
		return false
	}
	return id == c.ParticipantLow || id == c.ParticipantHigh
}

// Peer returns the other participant of a one-on-one conversation.
func (c *Conversation) Peer(viewer string) string {
	if viewer == c.ParticipantLow {
		return c.ParticipantHigh
	}
	return c.ParticipantLow
}

// OpenConversationRequest is the request body for resolving a conversation
type OpenConversationRequest struct {
	ViewerID string `json:"viewer_id"`
	PeerID   string `json:"peer_id"`
}
