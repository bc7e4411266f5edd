package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and by standalone mode when
// no database is configured. It enforces the same contracts as the durable
// implementations: canonical-pair uniqueness with a distinct conflict
// signal, server-assigned ids, and monotonically non-decreasing created_at
// per conversation.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message // conversationID -> messages in commit order
	byID          map[string]string           // messageID -> conversationID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		byID:          make(map[string]string),
	}
}

// CreateConversation inserts a conversation, rejecting a duplicate canonical
// pair with ErrConversationExists.
func (m *Memory) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv.Kind == models.KindOneOnOne {
		for _, existing := range m.conversations {
			if existing.Kind != models.KindOneOnOne {
				continue
			}
			if existing.ParticipantLow == conv.ParticipantLow && existing.ParticipantHigh == conv.ParticipantHigh {
				return ErrConversationExists
			}
		}
	}

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	cp := *conv
	m.conversations[conv.ID] = &cp
	return nil
}

// GetConversationByPair looks up a one-on-one conversation matching the pair
// in either stored order.
func (m *Memory) GetConversationByPair(ctx context.Context, low, high string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conv := range m.conversations {
		if conv.Kind != models.KindOneOnOne {
			continue
		}
		if (conv.ParticipantLow == low && conv.ParticipantHigh == high) ||
			(conv.ParticipantLow == high && conv.ParticipantHigh == low) {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// GetConversation looks up a conversation by id.
func (m *Memory) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

// TouchConversation bumps updated_at.
func (m *Memory) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
	return nil
}

// InsertMessage assigns the id and created_at and appends the row.
// created_at never moves backwards within a conversation.
func (m *Memory) InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return nil, ErrNotFound
	}

	stored := *msg
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	list := m.messages[msg.ConversationID]
	if n := len(list); n > 0 && stored.CreatedAt.Before(list[n-1].CreatedAt) {
		stored.CreatedAt = list[n-1].CreatedAt
	}

	m.messages[msg.ConversationID] = append(list, stored)
	m.byID[stored.ID] = msg.ConversationID
	out := stored
	return &out, nil
}

// GetMessage looks up a message by id.
func (m *Memory) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, _, err := m.locate(id)
	if err != nil {
		return nil, err
	}
	cp := *msg
	return &cp, nil
}

// ListMessages returns the latest messages strictly earlier than the cursor,
// ordered oldest to newest.
func (m *Memory) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.messages[conversationID]
	end := len(list)

	if before != "" {
		var err error
		end, err = m.cursorIndex(conversationID, before)
		if err != nil {
			return nil, err
		}
	}

	start := 0
	if limit > 0 && end-start > limit {
		start = end - limit
	}

	page := make([]models.Message, end-start)
	copy(page, list[start:end])
	return page, nil
}

// UpdateMessage replaces the stored row in place.
func (m *Memory) UpdateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, idx, err := m.locate(msg.ID)
	if err != nil {
		return err
	}
	updated := *msg
	updated.CreatedAt = stored.CreatedAt // immutable
	m.messages[m.byID[msg.ID]][idx] = updated
	return nil
}

// locate finds a message and its index; callers hold the lock.
func (m *Memory) locate(id string) (*models.Message, int, error) {
	convID, ok := m.byID[id]
	if !ok {
		return nil, 0, ErrNotFound
	}
	list := m.messages[convID]
	for i := range list {
		if list[i].ID == id {
			return &list[i], i, nil
		}
	}
	return nil, 0, ErrNotFound
}

// cursorIndex turns a "before" cursor into an exclusive end index into the
// conversation's commit-ordered list. The cursor is either a message id in
// the same conversation or an RFC3339 timestamp.
func (m *Memory) cursorIndex(conversationID, before string) (int, error) {
	list := m.messages[conversationID]

	if convID, ok := m.byID[before]; ok && convID == conversationID {
		_, idx, err := m.locate(before)
		if err != nil {
			return 0, err
		}
		return idx, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, before); err == nil {
		return sort.Search(len(list), func(i int) bool {
			return !list[i].CreatedAt.Before(t)
		}), nil
	}
	return 0, ErrNotFound
}
