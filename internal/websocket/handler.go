package websocket

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/chat"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections.
type Handler struct {
	hub *Hub
	svc *chat.Service
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, svc *chat.Service) *Handler {
	return &Handler{hub: hub, svc: svc}
}

// ServeWS handles WebSocket upgrade requests at /ws/conversations/{id}
// Query params: participant_id
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		http.Error(w, "conversation ID required", http.StatusBadRequest)
		return
	}

	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		http.Error(w, "participant_id required", http.StatusBadRequest)
		return
	}

	if err := h.svc.Authorize(r.Context(), conversationID, participantID); err != nil {
		http.Error(w, "not a participant", http.StatusForbidden)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade failed: %v", err)
		return
	}

	log.Printf("[WebSocket] New connection: conversation=%s, participant=%s",
		conversationID, participantID)

	// Create client and register with hub
	client := NewClient(h.hub, conn, conversationID, participantID)
	h.hub.register <- client

	// Start read/write pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}
