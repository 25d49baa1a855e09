package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub fans the live total out to every connected viewer. Viewers are
// read-only; anything they send is discarded.
type Hub struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   Config

	broadcastCh chan uint64
}

// Connection is one WebSocket viewer.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	hub  *Hub

	ConnectedAt time.Time
}

// Config holds configuration for viewer connections.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewHub(config Config) *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan uint64, 1000),
	}
}

// Start drains the broadcast channel until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("Live feed hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Live feed hub shutting down")
			return
		case total := <-h.broadcastCh:
			h.fanOut(total)
		}
	}
}

// HandleLive upgrades GET /live requests and registers the viewer.
func (h *Hub) HandleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		hub:         h,
		ConnectedAt: time.Now(),
	}

	h.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Msg("Viewer connected")
}

// BroadcastTotal queues a total for fan-out. Never blocks the accept path;
// if the hub is backed up the update is dropped, the next one supersedes it
// anyway.
func (h *Hub) BroadcastTotal(total uint64) {
	select {
	case h.broadcastCh <- total:
	default:
		log.Warn().Uint64("total", total).Msg("Broadcast channel full, dropping update")
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn] = true
}

func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn]; exists {
		delete(h.connections, conn)
		close(conn.Send)
		log.Info().Str("connection_id", conn.ID).Msg("Viewer disconnected")
	}
}

func (h *Hub) fanOut(total uint64) {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(map[string]uint64{"total": total})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal total update")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Viewer cannot keep up, cut it loose.
			log.Warn().Str("connection_id", conn.ID).Msg("Send buffer full, closing connection")
			h.unregister(conn)
			conn.Conn.Close()
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("Failed to write to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("Unexpected WebSocket close")
			}
			break
		}
		// The feed is one-way, viewer messages carry nothing actionable.
		log.Debug().Str("connection_id", c.ID).Int("bytes", len(message)).Msg("Ignoring viewer message")
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
