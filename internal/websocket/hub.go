package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/realtime"
)

// Hub maintains the set of connected clients per conversation and forwards
// the conversation's stream events to them. It owns one SubscriptionManager
// subscription per conversation with at least one connected client; the
// subscription is released when the last client disconnects.
type Hub struct {
	// manager provides the per-conversation event streams
	manager *realtime.Manager

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// outbound carries marshalled events from subscription callbacks
	// into the hub's event loop
	outbound chan outboundEvent

	// mutex for thread-safe conversation operations
	mu sync.RWMutex

	// conversations maps conversationID to its connected clients and
	// subscription handle
	conversations map[string]*conversationClients
}

type conversationClients struct {
	clients     map[*Client]bool
	unsubscribe func()
}

type outboundEvent struct {
	conversationID string
	payload        []byte
}

// NewHub creates a new Hub instance.
func NewHub(manager *realtime.Manager) *Hub {
	return &Hub{
		manager:       manager,
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		outbound:      make(chan outboundEvent, 64),
		conversations: make(map[string]*conversationClients),
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case ev := <-h.outbound:
			h.broadcastToConversation(ev)
		}
	}
}

// registerClient adds a client to its conversation, opening the stream
// subscription on the first client.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conv := h.conversations[client.ConversationID]
	if conv == nil {
		conv = &conversationClients{clients: make(map[*Client]bool)}
		conv.unsubscribe = h.subscribe(client.ConversationID)
		h.conversations[client.ConversationID] = conv
	}

	conv.clients[client] = true
	log.Printf("[WebSocket] Client %s joined conversation %s (total: %d)",
		client.ParticipantID, client.ConversationID, len(conv.clients))
}

// unregisterClient removes a client, releasing the stream subscription when
// the last client of a conversation leaves.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conv, ok := h.conversations[client.ConversationID]
	if !ok {
		return
	}
	if _, exists := conv.clients[client]; !exists {
		return
	}

	delete(conv.clients, client)
	close(client.send)

	log.Printf("[WebSocket] Client %s left conversation %s (remaining: %d)",
		client.ParticipantID, client.ConversationID, len(conv.clients))

	if len(conv.clients) == 0 {
		delete(h.conversations, client.ConversationID)
		conv.unsubscribe()
		log.Printf("[WebSocket] Conversation %s has no clients, stream released", client.ConversationID)
	}
}

// subscribe opens the manager subscription for one conversation and bridges
// its callbacks into the hub's event loop.
func (h *Hub) subscribe(conversationID string) func() {
	return h.manager.Subscribe(realtime.ConversationKey(conversationID), realtime.Listener{
		OnEvent: func(ev realtime.Event) {
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[WebSocket] Failed to marshal event for conversation %s: %v", conversationID, err)
				return
			}
			h.outbound <- outboundEvent{conversationID: conversationID, payload: payload}
		},
		OnError: func(err error) {
			log.Printf("[WebSocket] Stream error on conversation %s: %v", conversationID, err)
		},
	})
}

// broadcastToConversation fans one event out to every connected client.
func (h *Hub) broadcastToConversation(ev outboundEvent) {
	h.mu.RLock()
	conv := h.conversations[ev.conversationID]
	var clients []*Client
	if conv != nil {
		for client := range conv.clients {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- ev.payload:
		default:
			// Client's buffer is full, remove them
			h.mu.Lock()
			if conv, ok := h.conversations[ev.conversationID]; ok {
				if conv.clients[client] {
					delete(conv.clients, client)
					close(client.send)
					if len(conv.clients) == 0 {
						delete(h.conversations, ev.conversationID)
						conv.unsubscribe()
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// GetClientCount returns the number of connected clients for a conversation.
func (h *Hub) GetClientCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conv, ok := h.conversations[conversationID]; ok {
		return len(conv.clients)
	}
	return 0
}
