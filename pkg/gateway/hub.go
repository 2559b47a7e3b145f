// Package gateway streams server events to WebSocket subscribers. Clients
// connect read-only; the server pushes sequence-numbered JSON events as
// sessions change and documents are ingested.
package gateway

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Event names pushed to subscribers.
const (
	EventSessionCreated   = "session.created"
	EventSessionDeleted   = "session.deleted"
	EventQueryAnswered    = "query.answered"
	EventDocumentIngested = "document.ingested"
)

// defaultWriteTimeout bounds how long a broadcast waits on one subscriber's
// socket.
const defaultWriteTimeout = 10 * time.Second

// EventMessage is one server-initiated event on the wire.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Client is one connected subscriber.
type Client struct {
	ID          string
	ConnectedAt time.Time

	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// WriteJSON sends one message to the client. Writes are serialized because
// broadcasts may come from concurrent request handlers, and carry a deadline
// so a stalled subscriber cannot hold the write lock indefinitely.
func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Hub tracks subscribers and broadcasts events to all of them.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*Client
	upgrader     websocket.Upgrader
	logger       zerolog.Logger
	seq          atomic.Int64
	writeTimeout time.Duration
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
	}
}

// HandleWS upgrades an HTTP request to a WebSocket subscription and blocks
// until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		ConnectedAt:  time.Now(),
		conn:         conn,
		writeTimeout: h.writeTimeout,
	}

	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()

	h.logger.Info().
		Str("client_id", clientID).
		Str("remote", r.RemoteAddr).
		Msg("subscriber connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info().Str("client_id", clientID).Msg("subscriber disconnected")
	}()

	// Subscribers do not send application messages. The read loop only
	// drains control frames and detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every connected subscriber. Broken clients are
// logged and skipped; the per-write deadline bounds how long a stalled
// subscriber can delay the caller.
func (h *Hub) Broadcast(event string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Seq:       h.seq.Add(1),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.WriteJSON(msg); err != nil {
			h.logger.Warn().
				Err(err).
				Str("client_id", c.ID).
				Str("event", event).
				Msg("failed to deliver event")
		}
	}
}
