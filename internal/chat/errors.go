package chat

import "errors"

// Validation errors: caller mistakes, surfaced immediately, never retried.
var (
	// ErrInvalidParticipants rejects a self-chat or a missing participant id
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrNotAParticipant rejects a write by someone outside the conversation
	ErrNotAParticipant = errors.New("not a participant of this conversation")

	// ErrEmptyMessage rejects a message with no content and no attachments
	ErrEmptyMessage = errors.New("message has no content or attachments")
)

// Authorization and state errors.
var (
	// ErrNotAuthor rejects an edit or delete by anyone but the author
	ErrNotAuthor = errors.New("not the author of this message")

	// ErrAlreadyDeleted rejects an edit of a soft-deleted message
	ErrAlreadyDeleted = errors.New("message already deleted")
)

// ErrStoreUnavailable wraps infrastructure failures of one-shot store calls.
// These fail fast; any retry is the caller's decision.
var ErrStoreUnavailable = errors.New("store unavailable")
