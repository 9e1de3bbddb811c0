// Package notify broadcasts sync status changes to attached UI clients over
// WebSocket.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/probuild/fieldsync/internal/logging"
	"github.com/probuild/fieldsync/internal/models"
	"github.com/probuild/fieldsync/internal/uuid"
)

// Event types sent to clients.
const (
	EventSyncStatus = "sync.status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The engine only serves the local UI shell.
		return true
	},
}

// Envelope wraps all WebSocket messages.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains active client connections and broadcasts status snapshots.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			logging.Debug("Status client connected",
				map[string]interface{}{"client_id": c.id})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			logging.Debug("Status client disconnected",
				map[string]interface{}{"client_id": c.id})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client; drop it rather than block the hub.
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastStatus sends a status snapshot to all connected clients. Safe to
// use directly as a scheduler subscription callback.
func (h *Hub) BroadcastStatus(status models.SyncStatus) {
	envelope := Envelope{
		Type:      EventSyncStatus,
		Data:      status,
		Timestamp: time.Now().Unix(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal status broadcast", err, nil)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logging.Warn("Status broadcast buffer full, dropping message", nil)
	}
}

// ServeWS upgrades an HTTP request to a WebSocket status subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed", err, nil)
		return
	}

	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 16),
	}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// readPump discards inbound frames; the subscription is one-way. It exists to
// observe the close handshake.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
