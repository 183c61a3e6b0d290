// Package monitor streams game-state snapshots to UI clients over
// websockets. Rendering and animation live entirely on the other side of
// this feed; the core only publishes state.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType identifies the payload kind of a hub message.
type MessageType string

const (
	StateSnapshot MessageType = "state_snapshot"
	Heartbeat     MessageType = "heartbeat"
)

// Message is the wire envelope for hub broadcasts.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans state snapshots out to connected UI clients. Slow clients are
// dropped rather than allowed to stall the broadcast loop.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool
	upgrader   websocket.Upgrader
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub builds a hub; call Start before serving connections.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the hub loop until Stop is called.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Info("monitor client connected", zap.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.log.Info("monitor client disconnected", zap.Int("total", len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-h.ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// BroadcastState publishes a snapshot to every connected client. The
// snapshot must be JSON-serializable; failures are logged and dropped.
func (h *Hub) BroadcastState(snapshot any) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		h.log.Error("marshal state snapshot", zap.Error(err))
		return
	}
	msg, err := json.Marshal(Message{
		Type:      StateSnapshot,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		h.log.Error("marshal hub message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.log.Warn("monitor broadcast queue full, dropping snapshot")
	}
}

// ServeHTTP upgrades an incoming connection and registers it with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	h.wg.Add(2)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump drains and discards client frames so pings are answered, and
// unregisters on disconnect.
func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Stop shuts the hub down and waits for its goroutines.
func (h *Hub) Stop() {
	h.cancel()
	h.wg.Wait()
}
