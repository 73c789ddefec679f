package status

import (
	"sync"

	"github.com/google/uuid"

	"ballotwatch/internal/election"
)

// client is one connected notification stream.
type client struct {
	id string
	ch chan election.Notification
}

// Hub fans notifications out to stream clients. Slow clients miss messages
// rather than block the producer.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	buffer  int
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client), buffer: 16}
}

func (h *Hub) register() *client {
	c := &client{id: uuid.NewString(), ch: make(chan election.Notification, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	return c
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		close(c.ch)
		delete(h.clients, id)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends n to every client.
func (h *Hub) Broadcast(n election.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		trySend(c, n)
	}
}

// Stop disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.ch)
		delete(h.clients, id)
	}
}

func trySend(c *client, n election.Notification) bool {
	select {
	case c.ch <- n:
		return true
	default:
		return false
	}
}
