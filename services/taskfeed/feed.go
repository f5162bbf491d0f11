// Package taskfeed pushes task state changes to websocket subscribers.
package taskfeed

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pananq/stock-analysis-app/services/tasks"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// MaxClients caps concurrent websocket subscribers.
	MaxClients = 100

	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // auth is handled upstream
	},
}

// event is the wire frame sent to subscribers.
type event struct {
	Type string         `json:"type"`
	Task tasks.Snapshot `json:"task"`
}

// Hub fans task snapshots out to connected websocket clients. A slow client
// whose buffer fills up is dropped rather than allowed to stall the others.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan event
	done       chan struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan event
}

// NewHub creates a hub. Call Run on its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan event, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			if len(h.clients) >= MaxClients {
				log.Printf("task feed: client limit %d reached, rejecting connection", MaxClients)
				close(c.send)
				c.conn.Close()
				continue
			}
			h.clients[c] = true
			log.Printf("task feed: client connected (%d total)", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				log.Printf("task feed: client disconnected (%d total)", len(h.clients))
			}

		case ev := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	close(h.done)
}

// Publish queues a task snapshot for broadcast. Safe to call from any
// goroutine; drops the event when the hub is saturated instead of blocking
// the task manager.
func (h *Hub) Publish(snap tasks.Snapshot) {
	select {
	case h.broadcast <- event{Type: "task_update", Task: snap}:
	default:
		log.Println("task feed: broadcast buffer full, dropping update")
	}
}

// HandleWebSocket upgrades the request and subscribes the connection to task
// updates.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("task feed: upgrade failed: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan event, sendBufferSize)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump drains incoming frames so control messages are processed and the
// connection close is noticed.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
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

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
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
