// Package ws fans tracker snapshots out to WebSocket subscribers.
// Clients connect, receive the latest snapshot immediately, and then
// get every subsequent tick as a JSON text message. Ping/pong
// keepalives clean up stale connections.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orbitwatch/orbitwatch/internal/httputil"
	"github.com/orbitwatch/orbitwatch/internal/metrics"
)

const (
	writeWait    = 3 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 20 * time.Second
)

type client struct {
	conn *websocket.Conn
	ip   string
}

// Hub owns every subscriber connection and delivers broadcasts to all
// of them from a single goroutine. Register, unregister, and broadcast
// all go through channels, so the map never needs a lock.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	upgrader   websocket.Upgrader
	limiter    *connLimiter
	trustProxy bool
	logger     *slog.Logger

	// done is closed when Run returns so in-flight upgrades stop
	// waiting on the register channel.
	done chan struct{}

	// last holds the most recent broadcast so a new subscriber
	// does not wait a full tick for its first frame.
	last atomic.Pointer[[]byte]
}

// NewHub allocates a hub. maxPerIP bounds concurrent connections from
// one address; zero or negative disables the per-IP limit. Call Run in
// a goroutine before serving any upgrades.
func NewHub(maxPerIP int, trustProxy bool, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		broadcast:  make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		limiter:    newConnLimiter(maxPerIP),
		trustProxy: trustProxy,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run processes registrations, broadcasts, and keepalive pings until
// ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.conn.Close()
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.IncWSClients()
			if snap := h.last.Load(); snap != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, *snap); err != nil {
					h.drop(c)
				}
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			h.last.Store(&msg)
			for c := range h.clients {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.drop(c)
				}
			}

		case <-ping.C:
			for c := range h.clients {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					h.drop(c)
				}
			}
		}
	}
}

// drop must only be called from the Run goroutine.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	_ = c.conn.Close()
	h.limiter.release(c.ip)
	metrics.DecWSClients()
}

// Handler upgrades requests to WebSocket connections and registers
// them with the hub. Requests over the per-IP connection limit are
// rejected with 429 before the upgrade.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httputil.ClientIP(r, h.trustProxy)
		if !h.limiter.acquire(ip) {
			h.logger.Warn("websocket connection limit reached", "ip", ip)
			http.Error(w, "too many concurrent connections", http.StatusTooManyRequests)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.limiter.release(ip)
			h.logger.Debug("websocket upgrade failed", "ip", ip, "error", err)
			return
		}

		c := &client{conn: conn, ip: ip}
		select {
		case <-h.done:
			_ = conn.Close()
			h.limiter.release(ip)
			return
		default:
		}
		select {
		case h.register <- c:
		case <-h.done:
			_ = conn.Close()
			h.limiter.release(ip)
			return
		}

		go func() {
			defer func() {
				select {
				case h.unregister <- c:
				case <-h.done:
				}
			}()
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// BroadcastJSON marshals v and queues it for delivery. When the queue
// is full the frame is dropped rather than blocking the tick loop.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}
