// Package ws streams board updates and notifications to watch sessions
// over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"faculty-status-backend/internal/board"
	"faculty-status-backend/internal/notification"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Message types.
const (
	TypeBoard        = "board"
	TypeNotification = "notification"
)

// Message is what clients receive.
type Message struct {
	Type         string              `json:"type"`
	Loading      bool                `json:"loading,omitempty"`
	Cards        []board.Card        `json:"cards,omitempty"`
	Notification *notification.Event `json:"notification,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type outbound struct {
	sessionID string
	payload   []byte
}

type connectedQuery struct {
	sessionID string
	reply     chan int
}

// Hub routes messages to the connections of each session. A session may
// have several connections.
type Hub struct {
	register   chan *client
	unregister chan *client
	send       chan outbound
	connected  chan connectedQuery
	disconnect chan string
	done       chan struct{}
	clients    map[string]map[*client]struct{}
}

var _ notification.Notifier = (*Hub)(nil)

// NewHub creates a hub. Run must be started before it is used.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		send:       make(chan outbound, 256),
		connected:  make(chan connectedQuery),
		disconnect: make(chan string),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*client]struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			if h.clients[c.sessionID] == nil {
				h.clients[c.sessionID] = make(map[*client]struct{})
			}
			h.clients[c.sessionID][c] = struct{}{}
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.send:
			for c := range h.clients[msg.sessionID] {
				select {
				case c.send <- msg.payload:
				default:
					log.Printf("ws: dropping slow client of session %s", msg.sessionID)
					h.remove(c)
				}
			}
		case q := <-h.connected:
			q.reply <- len(h.clients[q.sessionID])
		case id := <-h.disconnect:
			for c := range h.clients[id] {
				h.remove(c)
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					h.remove(c)
				}
			}
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	set, ok := h.clients[c.sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
	close(c.send)
}

// Send queues msg for every connection of sessionID. It never blocks; when
// the queue is full the message is dropped.
func (h *Hub) Send(sessionID string, msg Message) {
	if h == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws: failed to marshal message: %v", err)
		return
	}
	select {
	case h.send <- outbound{sessionID: sessionID, payload: data}:
	default:
		log.Printf("ws: queue full, dropping %s message for session %s", msg.Type, sessionID)
	}
}

// Notify implements notification.Notifier.
func (h *Hub) Notify(_ context.Context, ev notification.Event) error {
	h.Send(ev.SessionID, Message{Type: TypeNotification, Notification: &ev})
	return nil
}

// Connections returns the number of open connections of sessionID.
func (h *Hub) Connections(sessionID string) int {
	reply := make(chan int, 1)
	select {
	case h.connected <- connectedQuery{sessionID: sessionID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Disconnect closes every connection of sessionID.
func (h *Hub) Disconnect(sessionID string) {
	if h == nil {
		return
	}
	select {
	case h.disconnect <- sessionID:
	case <-h.done:
	}
}

// ServeSession upgrades the request and streams sessionID's messages until
// the client goes away. initial, if any, is sent first.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string, initial *Message) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), sessionID: sessionID}
	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			c.send <- data
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
