// Package realtime is the websocket fan-out of spec.md §4.6, grounded
// on the teacher's internal/ws/hub.go single global broadcast channel,
// generalized to room-scoped delivery (`org:<tenant>`, `conv:<id>`,
// `user:<id>`) so one hub instance serves every tenant without leaking
// events across them.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whatsapp-platform/internal/logctx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is the envelope delivered to subscribed clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client is one connected websocket, subscribed to a fixed set of rooms
// decided at handshake time.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms []string
}

// Hub is the process-wide realtime fan-out; safe for concurrent use.
// The ingester, flow interpreter, and broadcast dispatcher hold it
// directly as a *Hub.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]bool // room -> client set

	register   chan *client
	unregister chan *client
	publish    chan roomMessage
}

type roomMessage struct {
	room    string
	payload []byte
}

// New builds an unstarted Hub; call Run in its own goroutine.
func New() *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		publish:    make(chan roomMessage, 256),
	}
}

// Run drives the hub's registration and fan-out loop until ctxDone is
// closed; intended to run for the process lifetime.
func (h *Hub) Run(ctxDone <-chan struct{}) {
	for {
		select {
		case <-ctxDone:
			return
		case c := <-h.register:
			h.mu.Lock()
			for _, room := range c.rooms {
				if h.clients[room] == nil {
					h.clients[room] = make(map[*client]bool)
				}
				h.clients[room][c] = true
			}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			for _, room := range c.rooms {
				if set, ok := h.clients[room]; ok {
					if _, ok := set[c]; ok {
						delete(set, c)
						close(c.send)
					}
				}
			}
			h.mu.Unlock()
		case msg := <-h.publish:
			h.mu.RLock()
			for c := range h.clients[msg.room] {
				select {
				case c.send <- msg.payload:
				default:
					go func(c *client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Room naming helpers, per spec.md §4.6.
func TenantRoom(tenantID string) string       { return "org:" + tenantID }
func ConversationRoom(convID uint) string     { return "conv:" + uintToString(convID) }
func UserRoom(userID string) string           { return "user:" + userID }

// Publish emits eventType/data to every client subscribed to room.
func (h *Hub) Publish(room, eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		logctx.From(nil).Error("marshal realtime event failed", zap.Error(err))
		return
	}
	select {
	case h.publish <- roomMessage{room: room, payload: payload}:
	default:
		// publish channel saturated; drop rather than block the caller
		// (webhook/broadcast/flow hot paths must not stall on a slow hub).
	}
}

// ServeWS upgrades an HTTP request to a websocket connection scoped to
// rooms (typically `org:<tenant>` plus an optional `user:<id>`), as
// decided by the caller after authenticating the request.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, rooms []string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 256), rooms: rooms}
	h.register <- c

	go c.writePump()
	go c.readPump()
	return nil
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
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

func uintToString(v uint) string {
	if v == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
