package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/chat"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/store"
)

// ConversationHandler contains HTTP handlers for conversation operations.
// All handlers follow RESTful conventions and return JSON responses.
type ConversationHandler struct {
	svc *chat.Service
}

// NewConversationHandler creates a new ConversationHandler instance.
func NewConversationHandler(svc *chat.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// ResolveConversation handles POST /api/conversations
// Returns the canonical conversation for the (viewer, peer) pair, creating
// it on first use.
func (h *ConversationHandler) ResolveConversation(w http.ResponseWriter, r *http.Request) {
	var req models.OpenConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.svc.ResolveOrCreateConversation(r.Context(), req.ViewerID, req.PeerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// GetMessages handles GET /api/conversations/{id}/messages
// Returns a history page ordered oldest to newest.
// Query params:
//   - limit: page size (default 50)
//   - before: cursor (message id or RFC3339 timestamp) for backward pagination
func (h *ConversationHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		http.Error(w, "conversation ID is required", http.StatusBadRequest)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid 'limit' value", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	messages, err := h.svc.FetchHistory(r.Context(), conversationID, limit, r.URL.Query().Get("before"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.GetMessagesResponse{Messages: messages})
}

// SendMessage handles POST /api/conversations/{id}/messages
// Appends a message to the conversation.
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		http.Error(w, "conversation ID is required", http.StatusBadRequest)
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.AuthorID == "" {
		http.Error(w, "author_id is required", http.StatusBadRequest)
		return
	}

	msg, err := h.svc.AppendMessage(r.Context(), conversationID, req.AuthorID, req.Content, req.Attachments, req.ReplyToID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidParticipants), errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrNotAParticipant), errors.Is(err, chat.ErrNotAuthor):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, chat.ErrAlreadyDeleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, chat.ErrStoreUnavailable):
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
