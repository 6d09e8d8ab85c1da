package realtime

import (
	"log"
	"sync"

	"battmon-cloud/internal/observability/metrics"
)

// globalRoom receives alarm and fleet-wide events for every connected
// client. Equipment ids are positive, so 0 never collides.
const globalRoom = 0

// Hub tracks connected dashboard clients and their equipment rooms.
type Hub struct {
	mu sync.RWMutex

	// room mapping: equipment id -> clients
	rooms map[int]map[*Client]bool

	// reverse mapping: client -> joined rooms
	clientRooms map[*Client]map[int]bool

	logger *log.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		rooms:       make(map[int]map[*Client]bool),
		clientRooms: make(map[*Client]map[int]bool),
		logger:      logger,
	}
}

// Register adds a new connection. Every client starts in the global room.
func (h *Hub) Register(c *Client) {
	h.join(globalRoom, c)
}

// Join subscribes the client to one equipment room.
func (h *Hub) Join(equipment int, c *Client) {
	if equipment <= 0 {
		return
	}
	h.join(equipment, c)
}

func (h *Hub) join(room int, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true

	if h.clientRooms[c] == nil {
		h.clientRooms[c] = make(map[int]bool)
	}
	h.clientRooms[c][room] = true
}

// Leave removes the client from one equipment room.
func (h *Hub) Leave(equipment int, c *Client) {
	if equipment <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms[equipment], c)
	if len(h.rooms[equipment]) == 0 {
		delete(h.rooms, equipment)
	}
	delete(h.clientRooms[c], equipment)
}

// Unregister removes the client from every room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.clientRooms[c] {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.clientRooms, c)
}

// BroadcastTo sends msg to every client in the equipment room. Slow
// clients are skipped rather than blocking the caller.
func (h *Hub) BroadcastTo(equipment int, msg []byte) {
	h.broadcast(equipment, msg)
}

// BroadcastGlobal sends msg to every connected client.
func (h *Hub) BroadcastGlobal(msg []byte) {
	h.broadcast(globalRoom, msg)
}

func (h *Hub) broadcast(room int, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.rooms[room]
	if clients == nil {
		return
	}
	for client := range clients {
		select {
		case client.send <- msg:
		default:
			// slow client, skip
			metrics.IncBroadcastDropped()
		}
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientRooms)
}

// RoomSize reports subscribers of one equipment room.
func (h *Hub) RoomSize(equipment int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[equipment])
}
