package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"station-alerts/internal/logging"
	"station-alerts/internal/models"
)

const (
	maxConnsPerUser = 10
	writeWait       = 5 * time.Second
	// sendBuffer is how many alerts may queue for one client before it is
	// disconnected as too slow.
	sendBuffer = 64
	// allUsers keys connections that want every alert.
	allUsers = ""
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Subscriber is one WebSocket client. Messages queue on send and a single
// writer goroutine drains them, so a slow client never blocks the hub.
type Subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newSubscriber(conn *websocket.Conn) *Subscriber {
	s := &Subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	go s.writeLoop()
	return s
}

func (s *Subscriber) writeLoop() {
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			_ = s.conn.Close()
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// stop ends the writer after the queued messages. Callers hold the hub mutex
// and have already removed s from the hub.
func (s *Subscriber) stop() {
	s.once.Do(func() { close(s.send) })
}

// drop disconnects s without flushing its queue.
func (s *Subscriber) drop() {
	s.stop()
	_ = s.conn.Close()
}

// Hub fans delivered alerts out to WebSocket clients, optionally filtered by
// station owner.
type Hub struct {
	connections map[string]map[*Subscriber]bool // user -> set of subscribers
	mutex       sync.Mutex
	logger      *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		connections: make(map[string]map[*Subscriber]bool),
		logger:      logger.Component("ws"),
	}
}

// Serve upgrades the request and streams alerts until the client goes away.
// The optional "user" query parameter limits the feed to one owner.
func (h *Hub) Serve(c *gin.Context) {
	user := c.Query("user")
	if h.full(user) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	sub, ok := h.AddConnection(user, conn)
	if !ok {
		_ = conn.Close()
		return
	}
	defer h.RemoveConnection(user, sub)

	// Drain client frames so close and ping are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) full(user string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connections[user]) >= maxConnsPerUser
}

// AddConnection registers conn for user and reports whether it was accepted.
func (h *Hub) AddConnection(user string, conn *websocket.Conn) (*Subscriber, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, exists := h.connections[user]; !exists {
		h.connections[user] = make(map[*Subscriber]bool)
	}
	if len(h.connections[user]) >= maxConnsPerUser {
		h.logger.Warnf("Max connections reached for user %q", user)
		return nil, false
	}
	sub := newSubscriber(conn)
	h.connections[user][sub] = true
	h.logger.Infof("Added WebSocket connection for user %q (total: %d)", user, len(h.connections[user]))
	return sub, true
}

func (h *Hub) RemoveConnection(user string, sub *Subscriber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if conns, exists := h.connections[user]; exists {
		if conns[sub] {
			delete(conns, sub)
			sub.drop()
		}
		if len(conns) == 0 {
			delete(h.connections, user)
		}
		h.logger.Infof("Removed WebSocket connection for user %q (remaining: %d)", user, len(conns))
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

// Mirror queues the alert for its owner's connections and for unfiltered
// ones. It never waits on a client; one whose queue is full is disconnected.
func (h *Hub) Mirror(_ context.Context, alert models.Alert) error {
	message, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	dropped := h.enqueueLocked(alert.Record.User, message)
	if alert.Record.User != allUsers {
		dropped += h.enqueueLocked(allUsers, message)
	}
	if dropped > 0 {
		return fmt.Errorf("dropped %d slow websocket connections", dropped)
	}
	return nil
}

func (h *Hub) enqueueLocked(user string, message []byte) int {
	conns, exists := h.connections[user]
	if !exists {
		return 0
	}
	dropped := 0
	for sub := range conns {
		select {
		case sub.send <- message:
		default:
			h.logger.Warnf("WebSocket client for user %q is not keeping up, disconnecting", user)
			delete(conns, sub)
			sub.drop()
			dropped++
		}
	}
	if len(conns) == 0 {
		delete(h.connections, user)
	}
	return dropped
}

// Close flushes and closes every connection.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for user, conns := range h.connections {
		for sub := range conns {
			sub.stop()
		}
		delete(h.connections, user)
	}
}
