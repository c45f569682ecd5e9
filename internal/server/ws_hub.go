package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/models"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AdminWSHub fans out job lifecycle events to connected operator clients on
// GET /admin/ws. It is an operations feed, not a client-facing API — per
// spec.md's Non-goals, end users never see it. Grounded on the teacher's
// jobmanager.JobWSHub; models.JobEvent already matches the broadcast shape
// this hub expects, so the adaptation is a rename, not a rewrite.
type AdminWSHub struct {
	clients    map[*adminWSClient]bool
	broadcast  chan models.JobEvent
	register   chan *adminWSClient
	unregister chan *adminWSClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *common.Logger
}

type adminWSClient struct {
	hub  *AdminWSHub
	conn *websocket.Conn
	send chan []byte
}

// NewAdminWSHub creates a new operator websocket hub.
func NewAdminWSHub(logger *common.Logger) *AdminWSHub {
	return &AdminWSHub{
		clients:    make(map[*adminWSClient]bool),
		broadcast:  make(chan models.JobEvent, 256),
		register:   make(chan *adminWSClient),
		unregister: make(chan *adminWSClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main event loop. Call as a goroutine.
func (h *AdminWSHub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug().Int("clients", len(h.clients)).Msg("admin ws client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug().Int("clients", len(h.clients)).Msg("admin ws client disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to marshal job event")
				continue
			}

			h.mu.RLock()
			var slow []*adminWSClient
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					delete(h.clients, c)
					close(c.send)
				}
				h.mu.Unlock()
			}
		}
	}
}

// Stop signals the hub's event loop to exit.
func (h *AdminWSHub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Broadcast sends a job event to all connected operator clients.
func (h *AdminWSHub) Broadcast(event models.JobEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Msg("admin ws broadcast channel full, dropping event")
	}
}

// ServeWS upgrades the connection and registers the client. Callers must
// have already enforced adminMiddleware before reaching this handler.
func (h *AdminWSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("admin ws upgrade failed")
		return
	}

	client := &adminWSClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected operator clients.
func (h *AdminWSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *adminWSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *adminWSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
