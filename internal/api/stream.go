// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/nsight/internal/logging"
	"grimm.is/nsight/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBufferSz = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard UI may be served from a different origin.
		return true
	},
}

// Hub fans newly ingested log records out to websocket subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	broadcast chan []store.Log
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*wsClient]struct{}),
		broadcast: make(chan []store.Log, 16),
	}
}

// Broadcast queues a batch of records for delivery to all subscribers. It
// never blocks the caller; batches are dropped when the hub is saturated.
func (h *Hub) Broadcast(logs []store.Log) {
	select {
	case h.broadcast <- logs:
	default:
		logging.Warn("websocket broadcast queue full, dropping batch", "records", len(logs))
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run dispatches broadcasts until the context is cancelled. Slow clients
// are disconnected rather than allowed to stall the hub.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case logs := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- logs:
				default:
					c.close()
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
	h.clients = make(map[*wsClient]struct{})
}

type wsClient struct {
	conn *websocket.Conn
	send chan []store.Log
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// handleLogsStream upgrades the connection and streams new records as JSON
// arrays until the client goes away.
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []store.Log, clientBufferSz)}
	s.hub.register(client)

	go client.writePump()
	client.readPump(s.hub)
}

// readPump drains control frames and detects disconnects.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case logs, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(logs); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
