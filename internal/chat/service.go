package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/realtime"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/store"
)

// DefaultHistoryLimit is the history page size when the caller passes none.
const DefaultHistoryLimit = 50

// replyPreviewLimit bounds the reply snapshot content shown in previews.
const replyPreviewLimit = 120

// BlobCleaner removes attachment blobs from external object storage.
// Cleanup is best effort: a failure is logged and never blocks a delete.
type BlobCleaner interface {
	Remove(ctx context.Context, att models.Attachment) error
}

// GroupDirectory resolves membership for group conversations, whose members
// are not stored on the conversation row.
type GroupDirectory interface {
	IsMember(ctx context.Context, groupID, participantID string) (bool, error)
}

// Service is the messaging core's write and read path: it resolves chat
// identity between participant pairs and validates every message mutation
// before handing it to the store. Each committed mutation is published as a
// full-state event, keyed by conversation and by participant.
type Service struct {
	store   store.Store
	events  realtime.Publisher
	cleaner BlobCleaner
	groups  GroupDirectory

	// pubMu keeps publish order identical to commit order across
	// concurrent mutations of the same store.
	pubMu sync.Mutex
}

// NewService creates a Service. cleaner and groups may be nil: without a
// cleaner, deleted attachments are left to external garbage collection;
// without a directory, writes to group conversations are denied.
func NewService(st store.Store, events realtime.Publisher, cleaner BlobCleaner, groups GroupDirectory) *Service {
	return &Service{
		store:   st,
		events:  events,
		cleaner: cleaner,
		groups:  groups,
	}
}

// ResolveOrCreateConversation returns the single canonical conversation for
// an unordered pair of participants, creating it lazily on first use.
//
// The pair is canonicalized into (low, high) order before lookup and insert,
// so (A,B) and (B,A) always resolve to the same row. When both peers race to
// create the pair, the loser's insert fails with the store's conflict signal
// and resolves to the winner's row instead of surfacing an error. The
// operation is idempotent: N concurrent calls all return the same id and
// exactly one row exists afterward.
func (s *Service) ResolveOrCreateConversation(ctx context.Context, participantA, participantB string) (*models.Conversation, error) {
	if participantA == "" || participantB == "" || participantA == participantB {
		return nil, ErrInvalidParticipants
	}

	low, high := models.CanonicalPair(participantA, participantB)

	conv, err := s.store.GetConversationByPair(ctx, low, high)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeFailure(err)
	}

	now := time.Now().UTC()
	fresh := &models.Conversation{
		Kind:            models.KindOneOnOne,
		ParticipantLow:  low,
		ParticipantHigh: high,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.store.CreateConversation(ctx, fresh)
	if err == nil {
		return fresh, nil
	}
	if !errors.Is(err, store.ErrConversationExists) {
		return nil, storeFailure(err)
	}

	// The peer created the same pair concurrently; adopt their row.
	conv, err = s.store.GetConversationByPair(ctx, low, high)
	if err != nil {
		return nil, storeFailure(err)
	}
	return conv, nil
}

// AppendMessage validates and persists one message, bumps the conversation's
// updated_at, and publishes the committed row as an insert event.
//
// A replyToID referencing a nonexistent or cross-conversation message is
// dropped silently rather than failing the append.
func (s *Service) AppendMessage(ctx context.Context, conversationID, authorID, content string, attachments []models.Attachment, replyToID string) (*models.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAParticipant
	}
	if err != nil {
		return nil, storeFailure(err)
	}

	ok, err := s.isParticipant(ctx, conv, authorID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if !ok {
		return nil, ErrNotAParticipant
	}

	if content == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	msg := &models.Message{
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        content,
		Attachments:    attachments,
	}
	if err := s.resolveReply(ctx, msg, replyToID); err != nil {
		return nil, err
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	stored, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, storeFailure(err)
	}

	if err := s.store.TouchConversation(ctx, conversationID, stored.CreatedAt); err != nil {
		// Non-fatal: the message is committed, only list ordering lags.
		log.Printf("[Chat] Failed to bump conversation %s activity: %v", conversationID, err)
	}

	s.publish(conv, realtime.Event{Type: realtime.EventInsert, Message: *stored})
	return stored, nil
}

// FetchHistory returns at most limit messages of a conversation ordered
// oldest to newest. A non-empty before cursor (message id or RFC3339
// timestamp) restricts the page to strictly earlier messages for backward
// pagination. limit <= 0 selects DefaultHistoryLimit.
func (s *Service) FetchHistory(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	page, err := s.store.ListMessages(ctx, conversationID, limit, before)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, storeFailure(err)
	}
	return page, nil
}

// EditMessage replaces the content of the editor's own message and publishes
// the new state as an update event.
func (s *Service) EditMessage(ctx context.Context, messageID, editorID, newContent string) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, storeFailure(err)
	}

	if msg.AuthorID != editorID {
		return nil, ErrNotAuthor
	}
	if msg.IsDeleted {
		return nil, ErrAlreadyDeleted
	}

	now := time.Now().UTC()
	msg.Content = newContent
	msg.IsEdited = true
	msg.EditedAt = &now

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, storeFailure(err)
	}

	s.publishFor(ctx, msg, realtime.EventUpdate)
	return msg, nil
}

// SoftDeleteMessage marks the requester's own message deleted, clears its
// attachments, and publishes the tombstoned state as a delete event.
// Deleting an already-deleted message is a no-op success. Attachment blob
// removal runs in the background and its failure never blocks the delete.
func (s *Service) SoftDeleteMessage(ctx context.Context, messageID, requesterID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return storeFailure(err)
	}

	if msg.AuthorID != requesterID {
		return ErrNotAuthor
	}
	if msg.IsDeleted {
		return nil
	}

	orphaned := msg.Attachments
	msg.Content = ""
	msg.Attachments = nil
	msg.IsDeleted = true

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return storeFailure(err)
	}

	s.publishFor(ctx, msg, realtime.EventDelete)

	if s.cleaner != nil && len(orphaned) > 0 {
		go s.cleanBlobs(orphaned)
	}
	return nil
}

// Authorize reports whether participantID may read conversationID, with the
// same membership rules as writes. Returns ErrNotAParticipant when not.
func (s *Service) Authorize(ctx context.Context, conversationID, participantID string) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotAParticipant
	}
	if err != nil {
		return storeFailure(err)
	}

	ok, err := s.isParticipant(ctx, conv, participantID)
	if err != nil {
		return storeFailure(err)
	}
	if !ok {
		return ErrNotAParticipant
	}
	return nil
}

// isParticipant checks write access for both conversation variants.
func (s *Service) isParticipant(ctx context.Context, conv *models.Conversation, participantID string) (bool, error) {
	switch conv.Kind {
	case models.KindOneOnOne:
		return conv.HasParticipant(participantID), nil
	case models.KindGroup:
		if s.groups == nil {
			return false, nil
		}
		return s.groups.IsMember(ctx, conv.GroupID, participantID)
	default:
		return false, nil
	}
}

// resolveReply attaches the reply back-reference and preview snapshot when
// the referenced message exists in the same conversation. A dangling or
// cross-conversation link is dropped silently; an infrastructure failure on
// the lookup is not.
func (s *Service) resolveReply(ctx context.Context, msg *models.Message, replyToID string) error {
	if replyToID == "" {
		return nil
	}

	target, err := s.store.GetMessage(ctx, replyToID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeFailure(err)
	}
	if target.ConversationID != msg.ConversationID {
		return nil
	}

	msg.ReplyToID = target.ID
	msg.ReplyTo = &models.ReplyContext{
		AuthorID: target.AuthorID,
		Content:  truncate(target.DisplayContent(), replyPreviewLimit),
	}
	return nil
}

// publishFor publishes an event for a message whose conversation row may
// need loading for the participant keys.
func (s *Service) publishFor(ctx context.Context, msg *models.Message, typ realtime.EventType) {
	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		log.Printf("[Chat] Publishing %s for message %s without participant keys: %v", typ, msg.ID, err)
		s.events.Publish(realtime.ConversationKey(msg.ConversationID), realtime.Event{Type: typ, Message: *msg})
		return
	}
	s.publish(conv, realtime.Event{Type: typ, Message: *msg})
}

// publish fans one event out to the conversation key and, for the one-on-one
// variant, to both participants' cross-conversation keys.
func (s *Service) publish(conv *models.Conversation, ev realtime.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(realtime.ConversationKey(conv.ID), ev)
	if conv.Kind == models.KindOneOnOne {
		s.events.Publish(realtime.ParticipantKey(conv.ParticipantLow), ev)
		s.events.Publish(realtime.ParticipantKey(conv.ParticipantHigh), ev)
	}
}

// cleanBlobs removes orphaned attachment blobs, logging failures only.
func (s *Service) cleanBlobs(attachments []models.Attachment) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, att := range attachments {
		if err := s.cleaner.Remove(ctx, att); err != nil {
			log.Printf("[Chat] Failed to remove attachment blob %s: %v", att.URL, err)
		}
	}
}

func storeFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
