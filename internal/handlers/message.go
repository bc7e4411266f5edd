package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/chat"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
)

// MessageHandler contains HTTP handlers for per-message mutations.
type MessageHandler struct {
	svc *chat.Service
}

// NewMessageHandler creates a new MessageHandler instance.
func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// EditMessage handles PATCH /api/messages/{id}
// Replaces the content of the editor's own message.
func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if messageID == "" {
		http.Error(w, "message ID is required", http.StatusBadRequest)
		return
	}

	var req models.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.EditorID == "" {
		http.Error(w, "editor_id is required", http.StatusBadRequest)
		return
	}

	msg, err := h.svc.EditMessage(r.Context(), messageID, req.EditorID, req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /api/messages/{id}
// Soft-deletes the requester's own message. Idempotent: deleting an
// already-deleted message succeeds.
// Query params:
//   - requester_id: participant requesting the delete
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if messageID == "" {
		http.Error(w, "message ID is required", http.StatusBadRequest)
		return
	}

	requesterID := r.URL.Query().Get("requester_id")
	if requesterID == "" {
		http.Error(w, "requester_id is required", http.StatusBadRequest)
		return
	}

	if err := h.svc.SoftDeleteMessage(r.Context(), messageID, requesterID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
