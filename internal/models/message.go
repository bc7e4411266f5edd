package models

import "time"

// Tombstone is the display placeholder for a soft-deleted message.
const Tombstone = "This message was deleted"

// Message represents one unit of communication within a conversation.
// Rows are append-only; edits and deletes mutate flags in place and the
// id never changes.
type Message struct {
	// ID is the server-assigned unique identifier, set at insert time.
	// Never client-generated, so optimistic copies can never collide with it.
	ID string `json:"id"`

	// ConversationID is the owning conversation
	ConversationID string `json:"conversation_id"`

	// AuthorID is the sender's participant id; it never changes
	AuthorID string `json:"author_id"`

	// Content is the text body. May be empty only if attachments are present.
	Content string `json:"content"`

	// CreatedAt is the insertion timestamp, immutable
	CreatedAt time.Time `json:"created_at"`

	// EditedAt is set on successful edit
	EditedAt *time.Time `json:"edited_at,omitempty"`

	// IsEdited is true once the content has been replaced by an edit
	IsEdited bool `json:"is_edited"`

	// IsDeleted marks a soft-deleted message; the row and id persist
	IsDeleted bool `json:"is_deleted"`

	// ReplyToID is an optional back-reference to another message in the
	// same conversation. Lookup only, not ownership.
	ReplyToID string `json:"reply_to_id,omitempty"`

	// ReplyTo is a snapshot of the replied-to message for preview rendering
	ReplyTo *ReplyContext `json:"reply_to,omitempty"`

	// Attachments is the ordered list of attached media; empty list allowed
	Attachments []Attachment `json:"attachments,omitempty"`
}

// DisplayContent returns the content to render, substituting the tombstone
// for soft-deleted messages.
func (m *Message) DisplayContent() string {
	if m.IsDeleted {
		return Tombstone
	}
	return m.Content
}

// ReplyContext holds a snapshot of the message being replied to.
// The referenced message may itself be later edited or deleted; the
// snapshot is taken at append time and not kept in sync.
type ReplyContext struct {
	AuthorID string `json:"author_id"`
	Content  string `json:"content"`
}

// Attachment describes one attached media item.
type Attachment struct {
	// URL is the storage location of the blob
	URL string `json:"url"`

	// Kind is the media kind, e.g. "image", "video", "file"
	Kind string `json:"kind"`

	// Size is the blob size in bytes
	Size int64 `json:"size"`

	// Name is the display name shown in the UI
	Name string `json:"name"`
}

// SendMessageRequest is the request body for appending a message
type SendMessageRequest struct {
	AuthorID    string       `json:"author_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyToID   string       `json:"reply_to_id,omitempty"`
}

// EditMessageRequest is the request body for editing a message
type EditMessageRequest struct {
	EditorID string `json:"editor_id"`
	Content  string `json:"content"`
}

// GetMessagesResponse is the response for fetching a history page
type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}
