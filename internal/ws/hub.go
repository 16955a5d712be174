package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sendBuffer is the per-connection outbound queue depth. A client that
// falls further behind than this starts losing frames instead of
// blocking delivery to everyone else.
const sendBuffer = 64

// Client is one live WebSocket connection tracked by the hub. All
// writes to the underlying connection go through the send channel and
// are performed by a single writePump goroutine, so every connection
// observes outbound events in the order they were enqueued.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	closed bool // guarded by the hub mutex
}

func (c *Client) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	c.conn.Close()
}

// Hub tracks live connections keyed by an opaque connection id and
// delivers outbound events to one connection or to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Add registers the connection under a fresh id and starts its write
// pump. The returned client is owned by the caller's read loop.
func (h *Hub) Add(conn *websocket.Conn) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	go c.writePump()
	return c
}

// Remove drops the connection from the hub and shuts down its write
// pump. Safe to call more than once for the same id.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Send delivers the payload to a single connection. Unknown ids are a
// no-op; a full queue drops the frame rather than blocking the caller.
func (h *Hub) Send(connID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: marshal payload: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.enqueue(h.clients[connID], data)
}

// Broadcast delivers the payload to every live connection, bound or
// not. A slow connection only loses its own frames.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: marshal payload: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, data)
	}
}

// enqueue must be called with at least the read lock held.
func (h *Hub) enqueue(c *Client, data []byte) {
	if c == nil || c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("ws: dropping frame for lagging connection %s", c.ID)
	}
}

// Shutdown closes every connection. Used on server shutdown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		if !c.closed {
			c.closed = true
			close(c.send)
		}
	}
}
