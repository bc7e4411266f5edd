package store

import (
	"context"
	"errors"
	"time"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// ErrConversationExists is the store-agnostic conflict signal returned when
// inserting a conversation whose canonical participant pair already has a row.
// Implementations must map their native uniqueness-violation error to this
// value so race resolution never depends on a vendor error code.
var ErrConversationExists = errors.New("conversation already exists")

// Store is the persistence capability the messaging core requires from its
// backing service: conversation rows with a uniqueness constraint over the
// canonical participant pair, and append-only message rows with
// server-assigned ids.
type Store interface {
	// CreateConversation inserts a new conversation row. Returns
	// ErrConversationExists if a row for the same canonical pair exists.
	CreateConversation(ctx context.Context, conv *models.Conversation) error

	// GetConversationByPair looks up the one-on-one conversation for a
	// canonical (low, high) pair, matching either stored order in case
	// legacy rows were written unordered. Returns ErrNotFound on miss.
	GetConversationByPair(ctx context.Context, low, high string) (*models.Conversation, error)

	// GetConversation looks up a conversation by id. Returns ErrNotFound on miss.
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// TouchConversation bumps the conversation's updated_at timestamp.
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// InsertMessage persists a message, assigning its id and created_at.
	// The returned message is the fully-populated stored row.
	InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error)

	// GetMessage looks up a message by id. Returns ErrNotFound on miss.
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// ListMessages returns at most limit messages of a conversation ordered
	// oldest to newest. If before is non-empty it is a cursor (message id or
	// RFC3339 timestamp) and only strictly earlier messages are returned.
	ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error)

	// UpdateMessage replaces the stored row for msg.ID with msg.
	UpdateMessage(ctx context.Context, msg *models.Message) error
}
