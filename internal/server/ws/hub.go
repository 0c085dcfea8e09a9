// Package ws streams position events from the signal bus to WebSocket
// clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS and auth middleware in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// OpenCounter reports how many positions are open, for the status frame
// sent on connect.
type OpenCounter func(ctx context.Context) (int, error)

// Config carries the metadata reported in the status frame.
type Config struct {
	Mode      string
	StartedAt time.Time
	OpenCount OpenCounter
}

// Hub fans position events out to connected clients. Each client may narrow
// the stream to a set of event names; an empty set receives everything.
type Hub struct {
	bus        domain.SignalBus
	cfg        Config
	logger     *slog.Logger
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

type event struct {
	name string
	data []byte
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run subscribes to the positions channel and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgs, err := h.bus.Subscribe(ctx, domain.ChannelPositions)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed", slog.String("channel", domain.ChannelPositions))

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
			h.logger.Debug("ws: client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws: client disconnected", slog.Int("clients", n))

		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: subscription closed")
				msgs = nil
				continue
			}
			h.fanOut(event{name: eventName(data), data: data})
		}
	}
}

func (h *Hub) fanOut(ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.name) {
			continue
		}
		select {
		case c.send <- ev.data:
		default:
			h.logger.Warn("ws: dropping event for slow client", slog.String("event", ev.name))
		}
	}
}

// eventName extracts the "event" field published by the services.
func eventName(data []byte) string {
	var env struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(data, &env)
	return env.Event
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		events: map[string]bool{},
	}
	c.send <- h.status(r.Context())

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) status(ctx context.Context) []byte {
	payload := map[string]any{
		"mode":           h.cfg.Mode,
		"uptime_seconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
	}
	if h.cfg.OpenCount != nil {
		if n, err := h.cfg.OpenCount(ctx); err == nil {
			payload["open_positions"] = n
		}
	}
	msg, _ := json.Marshal(map[string]any{"event": "status", "payload": payload})
	return msg
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	events map[string]bool
}

// subscribeMsg narrows or widens the client's event filter:
// {"action":"subscribe","events":["position_closed"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

func (c *client) wants(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events) == 0 || c.events[name]
}

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
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) != nil {
			continue
		}
		c.mu.Lock()
		switch sub.Action {
		case "subscribe":
			for _, e := range sub.Events {
				c.events[e] = true
			}
		case "unsubscribe":
			for _, e := range sub.Events {
				delete(c.events, e)
			}
		}
		c.mu.Unlock()
	}
}

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
