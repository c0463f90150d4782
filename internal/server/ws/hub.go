// Package ws pushes settled sales to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// client represents a single WebSocket connection. A client filtering on
// assets only receives sales of those assets.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	assets map[string]bool
}

// filterMsg is the JSON message a client sends to narrow or reset its feed.
//
//	{"action":"watch","assets":["42"]}
//	{"action":"unwatch","assets":["42"]}
type filterMsg struct {
	Action string   `json:"action"`
	Assets []string `json:"assets"`
}

// envelope frames every server-to-client message.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub bridges the sales channel of the signal bus to connected clients.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub. allowedOrigins restricts the upgrade's Origin
// header; empty allows every origin.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger.With(slog.String("component", "ws_hub")),
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run subscribes to the sales channel and serves the hub's event loop until
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	sales, err := h.bus.Subscribe(ctx, domain.ChannelSales)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed", slog.String("channel", domain.ChannelSales))
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case data, ok := <-sales:
			if !ok {
				h.logger.Warn("ws: sales subscription closed")
				sales = nil
				continue
			}
			h.fanOut(data)
		}
	}
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanOut(data []byte) {
	var ev domain.SaleEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.logger.Warn("ws: malformed sale event", slog.String("error", err.Error()))
		return
	}
	frame, err := json.Marshal(envelope{Type: "sale", Payload: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.AssetID) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		assets: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// wants reports whether the client's filter admits assetID. No filter
// admits everything.
func (c *client) wants(assetID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assets) == 0 || c.assets[assetID]
}

func (c *client) applyFilter(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "watch":
		for _, a := range msg.Assets {
			c.assets[a] = true
		}
	case "unwatch":
		for _, a := range msg.Assets {
			delete(c.assets, a)
		}
	}
}

// readPump reads filter messages until the connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if json.Unmarshal(message, &msg) == nil && msg.Action != "" {
			c.applyFilter(msg)
		}
	}
}

// writePump sends queued frames as JSON text messages plus periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
