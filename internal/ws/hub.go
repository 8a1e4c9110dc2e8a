package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Hub is the connection registry. It maps room names to member connections
// and each connection to the rooms it occupies.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]map[string]struct{}
	log     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]map[string]struct{}),
		log:     log,
	}
}

// Admit registers an authenticated client and places it in its user room.
func (h *Hub) Admit(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.mu.Unlock()
		return
	}
	h.clients[c] = make(map[string]struct{})
	h.joinLocked(c, UserRoom(c.info.UserID))
	h.mu.Unlock()
	observability.IncWSActive()
}

// Join adds c to room. Unknown clients and empty rooms are ignored.
func (h *Hub) Join(c *Client, room string) bool {
	if room == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	h.joinLocked(c, room)
	return true
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.clients[c][room] = struct{}{}
}

// InRoom reports whether c is currently a member of room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// LeaveAll removes c from every room. It reports whether c was registered.
func (h *Hub) LeaveAll(c *Client) bool {
	h.mu.Lock()
	rooms, ok := h.clients[c]
	if !ok {
		h.mu.Unlock()
		return false
	}
	for room := range rooms {
		if members, exists := h.rooms[room]; exists {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.clients, c)
	h.mu.Unlock()
	observability.DecWSActive()
	return true
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast queues env to every member of room except the excluded client.
// It returns the number of clients the frame was queued for. A member whose
// buffer is full is evicted.
func (h *Hub) Broadcast(room string, env models.Envelope, except *Client) int {
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error("encode broadcast frame", "event", env.Event, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		h.evict(c)
	}
	observability.AddWSDeliveries(env.Event, delivered)
	return delivered
}

// SendTo queues env to a single client.
func (h *Hub) SendTo(c *Client, env models.Envelope) bool {
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error("encode frame", "event", env.Event, "error", err)
		return false
	}
	if c.enqueue(payload) {
		observability.AddWSDeliveries(env.Event, 1)
		return true
	}
	h.evict(c)
	return false
}

func (h *Hub) evict(c *Client) {
	if !h.LeaveAll(c) {
		return
	}
	observability.IncWSEviction()
	h.log.Warn("evicting slow websocket consumer", "conn_id", c.info.ConnID, "user_id", c.info.UserID)
	c.close()
}

// Shutdown closes every registered connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.LeaveAll(c)
		c.close()
	}
}
