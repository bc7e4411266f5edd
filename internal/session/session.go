package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/chat"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/realtime"
)

// ErrSessionClosed rejects any operation on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Status is the session's connectivity as mirrored from its subscription.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
)

// Session is the per-viewer facade the UI drives: one participant identity
// bound to one conversation, an ordered message list merging confirmed and
// optimistic entries, and optimistic send/edit/delete with rollback.
//
// Confirmed messages are kept sorted by (created_at, id); optimistic entries
// sort after the last confirmed message in send-call order and are
// reconciled by correlation token, never by content.
type Session struct {
	svc      *chat.Service
	viewerID string
	conv     models.Conversation

	unsubscribe func()
	onError     func(error)

	mu        sync.Mutex
	closed    bool
	status    Status
	confirmed []models.Message
	pending   []pendingSend

	// deferred holds echoes of the viewer's own inserts that arrived while a
	// send was still in flight, keyed by server id. They merge in when the
	// send resolves, so the optimistic entry and its echo never show together.
	deferred map[string]models.Message
}

// pendingSend is an optimistic message awaiting store confirmation. Its
// correlation token lives in a different id space than server ids, so the
// two can never collide.
type pendingSend struct {
	token string
	msg   models.Message
}

// Open resolves the conversation for (viewer, peer), loads the initial
// history backlog, and subscribes to the live stream. On any failure no
// session is returned; there is no partially-initialized state. onError, if
// non-nil, receives asynchronous stream errors.
func Open(ctx context.Context, svc *chat.Service, mgr *realtime.Manager, viewerID, peerID string, onError func(error)) (*Session, error) {
	conv, err := svc.ResolveOrCreateConversation(ctx, viewerID, peerID)
	if err != nil {
		return nil, err
	}

	history, err := svc.FetchHistory(ctx, conv.ID, chat.DefaultHistoryLimit, "")
	if err != nil {
		return nil, err
	}

	s := &Session{
		svc:       svc,
		viewerID:  viewerID,
		conv:      *conv,
		onError:   onError,
		status:    StatusConnecting,
		confirmed: history,
		deferred:  make(map[string]models.Message),
	}

	s.unsubscribe = mgr.Subscribe(realtime.ConversationKey(conv.ID), realtime.Listener{
		OnEvent:  s.handleEvent,
		OnError:  s.handleStreamError,
		OnStatus: s.handleStatus,
	})
	return s, nil
}

// Conversation returns the conversation this session is bound to.
func (s *Session) Conversation() models.Conversation {
	return s.conv
}

// Status reports the mirrored subscription state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Messages returns the visible list: confirmed messages in created_at order
// followed by optimistic entries in send order. Optimistic entries carry an
// empty ID. Returns nil after Close.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	out := make([]models.Message, 0, len(s.confirmed)+len(s.pending))
	out = append(out, s.confirmed...)
	for _, p := range s.pending {
		out = append(out, p.msg)
	}
	return out
}

// Send appends an optimistic entry immediately, then writes through the
// store. On success the optimistic entry is replaced by the confirmed
// message, matched by its correlation token. On failure the entry is
// removed and the error surfaced; there is no automatic retry.
func (s *Session) Send(ctx context.Context, content string, attachments []models.Attachment, replyToID string) (*models.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	token := uuid.New().String()
	s.pending = append(s.pending, pendingSend{
		token: token,
		msg: models.Message{
			ConversationID: s.conv.ID,
			AuthorID:       s.viewerID,
			Content:        content,
			Attachments:    attachments,
			CreatedAt:      time.Now().UTC(),
		},
	})
	s.mu.Unlock()

	stored, err := s.svc.AppendMessage(ctx, s.conv.ID, s.viewerID, content, attachments, replyToID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		// The session stopped caring mid-flight; discard quietly.
		return nil, ErrSessionClosed
	}

	s.dropPending(token)
	if err != nil {
		return nil, err
	}

	// A stream event may have delivered the confirmed row already.
	if s.indexOf(stored.ID) < 0 {
		s.insertConfirmed(*stored)
	}
	return stored, nil
}

// Edit optimistically rewrites the local copy, writes through the store, and
// rolls the local copy back if the store refuses.
func (s *Session) Edit(ctx context.Context, messageID, newContent string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	var previous *models.Message
	if idx := s.indexOf(messageID); idx >= 0 {
		prev := s.confirmed[idx]
		previous = &prev
		now := time.Now().UTC()
		s.confirmed[idx].Content = newContent
		s.confirmed[idx].IsEdited = true
		s.confirmed[idx].EditedAt = &now
	}
	s.mu.Unlock()

	edited, err := s.svc.EditMessage(ctx, messageID, s.viewerID, newContent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	if err != nil {
		if previous != nil {
			s.restore(*previous)
		}
		return err
	}
	s.upsert(*edited)
	return nil
}

// Delete optimistically tombstones the local copy, writes through the store,
// and rolls back on failure. Deleting an already-deleted message succeeds.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	var previous *models.Message
	if idx := s.indexOf(messageID); idx >= 0 {
		prev := s.confirmed[idx]
		previous = &prev
		s.confirmed[idx].Content = ""
		s.confirmed[idx].Attachments = nil
		s.confirmed[idx].IsDeleted = true
	}
	s.mu.Unlock()

	err := s.svc.SoftDeleteMessage(ctx, messageID, s.viewerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	if err != nil {
		if previous != nil {
			s.restore(*previous)
		}
		return err
	}
	return nil
}

// Close unsubscribes from the stream and makes the session unusable.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = StatusDisconnected
	s.mu.Unlock()

	s.unsubscribe()
}

// handleEvent merges one stream event into the local list. Merging is
// idempotent and keyed by message id, so at-least-once delivery and
// out-of-order arrival both converge to the same list.
func (s *Session) handleEvent(ev realtime.Event) {
	if ev.Message.ConversationID != s.conv.ID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if _, held := s.deferred[ev.Message.ID]; held {
		s.deferred[ev.Message.ID] = ev.Message
		return
	}
	if ev.Type == realtime.EventInsert &&
		ev.Message.AuthorID == s.viewerID &&
		len(s.pending) > 0 &&
		s.indexOf(ev.Message.ID) < 0 {
		// Likely the echo of an in-flight send; hold it until the send
		// resolves rather than listing it next to its optimistic entry.
		s.deferred[ev.Message.ID] = ev.Message
		return
	}
	s.upsert(ev.Message)
}

func (s *Session) handleStreamError(err error) {
	log.Printf("[Session] Stream error on conversation %s: %v", s.conv.ID, err)
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Session) handleStatus(state realtime.State) {
	var status Status
	switch state {
	case realtime.StateLive:
		status = StatusConnected
	case realtime.StateConnecting:
		status = StatusConnecting
	default:
		status = StatusDisconnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.status = status
}

// upsert updates a known id in place or inserts an unseen one at its
// created_at position; callers hold the lock.
func (s *Session) upsert(msg models.Message) {
	if idx := s.indexOf(msg.ID); idx >= 0 {
		s.confirmed[idx] = msg
		return
	}
	s.insertConfirmed(msg)
}

// insertConfirmed places msg at its sorted (created_at, id) position rather
// than at the tail, tolerating out-of-order delivery; callers hold the lock.
func (s *Session) insertConfirmed(msg models.Message) {
	idx := sort.Search(len(s.confirmed), func(i int) bool {
		m := s.confirmed[i]
		if !m.CreatedAt.Equal(msg.CreatedAt) {
			return m.CreatedAt.After(msg.CreatedAt)
		}
		return m.ID > msg.ID
	})
	s.confirmed = append(s.confirmed, models.Message{})
	copy(s.confirmed[idx+1:], s.confirmed[idx:])
	s.confirmed[idx] = msg
}

// restore puts a pre-mutation copy back if the row is still present;
// callers hold the lock.
func (s *Session) restore(msg models.Message) {
	if idx := s.indexOf(msg.ID); idx >= 0 {
		s.confirmed[idx] = msg
	}
}

// indexOf finds a confirmed message by id, or -1; callers hold the lock.
func (s *Session) indexOf(id string) int {
	for i := range s.confirmed {
		if s.confirmed[i].ID == id {
			return i
		}
	}
	return -1
}

// dropPending removes the optimistic entry for token and, once no send is in
// flight, merges any held echoes; callers hold the lock.
func (s *Session) dropPending(token string) {
	for i, p := range s.pending {
		if p.token == token {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	if len(s.pending) > 0 {
		return
	}
	for id, msg := range s.deferred {
		delete(s.deferred, id)
		s.upsert(msg)
	}
}
