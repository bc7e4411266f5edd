package store

import (
	"context"
	"time"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
)

// messageGetter is the slice of Store the cursor resolver needs.
type messageGetter interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
}

// cursor is a resolved "before" pagination cursor.
type cursor struct {
	at     time.Time
	anchor *models.Message // nil when the cursor was a bare timestamp
}

// resolveCursor classifies a before cursor for the remote stores. A
// timestamp cursor passes through; a message-id cursor resolves to its row's
// (created_at, id) anchor. An id that is unknown or belongs to a different
// conversation is ErrNotFound, the same contract the in-memory store keeps.
func resolveCursor(ctx context.Context, g messageGetter, conversationID, before string) (cursor, error) {
	if t, err := time.Parse(time.RFC3339Nano, before); err == nil {
		return cursor{at: t}, nil
	}

	msg, err := g.GetMessage(ctx, before)
	if err != nil {
		return cursor{}, err
	}
	if msg.ConversationID != conversationID {
		return cursor{}, ErrNotFound
	}
	return cursor{at: msg.CreatedAt, anchor: msg}, nil
}
