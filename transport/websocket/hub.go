package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Observers only listen, so
	// anything beyond a close frame is noise.
	maxMessageSize = 512

	// Publishes queue here until the run loop picks them up. When the
	// buffer is full the event is dropped rather than stalling the caller.
	publishBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; workshops are run from varying hosts.
		// TODO: restrict via WS_ALLOWED_ORIGINS once deployments settle
		return true
	},
}

// Message is the frame observers receive for every session event.
type Message struct {
	SessionCode string `json:"sessionCode"`
	Event       string `json:"event"`
	Data        any    `json:"data,omitempty"`
}

// Client represents one observer connection subscribed to a session.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	sessionCode string
}

// Hub fans session events out to the observers subscribed to each session
// code. All map access happens on the Run goroutine; callers interact only
// through channels, so Publish and ServeWS are safe from any goroutine.
type Hub struct {
	// Registered observers by session code.
	sessions map[string]map[*Client]bool

	// Events queued for fan-out.
	broadcast chan *Message

	// Register requests from new connections.
	register chan *Client

	// Unregister requests from closing connections.
	unregister chan *Client
}

// NewHub creates an observer hub. Call Run on its own goroutine before
// serving connections.
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, publishBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// ServeWS upgrades an HTTP request to a WebSocket observer connection for
// one session. The caller validates and normalizes the session code.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionCode string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, 256),
		sessionCode: sessionCode,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// Publish queues an event for every observer of the session. It never
// blocks; when the hub cannot keep up the event is dropped, since observers
// resync from the REST API anyway.
func (h *Hub) Publish(sessionCode, event string, data any) {
	message := &Message{
		SessionCode: sessionCode,
		Event:       event,
		Data:        data,
	}

	select {
	case h.broadcast <- message:
	default:
		log.Printf("ws: dropped %s for session %s, broadcast queue full", event, sessionCode)
	}
}

// registerClient adds an observer to a session.
func (h *Hub) registerClient(client *Client) {
	if h.sessions[client.sessionCode] == nil {
		h.sessions[client.sessionCode] = make(map[*Client]bool)
	}
	h.sessions[client.sessionCode][client] = true

	log.Printf("ws: observer joined session %s (total observers: %d)",
		client.sessionCode, len(h.sessions[client.sessionCode]))
}

// unregisterClient removes an observer from a session.
func (h *Hub) unregisterClient(client *Client) {
	if clients, ok := h.sessions[client.sessionCode]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)

			if len(clients) == 0 {
				delete(h.sessions, client.sessionCode)
			}

			log.Printf("ws: observer left session %s (remaining observers: %d)",
				client.sessionCode, len(clients))
		}
	}
}

// broadcastMessage sends a message to every observer of its session.
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("ws: failed to marshal broadcast message: %v", err)
		return
	}

	if clients, ok := h.sessions[message.SessionCode]; ok {
		for client := range clients {
			select {
			case client.send <- data:
			default:
				// The observer stopped draining its queue.
				h.unregisterClient(client)
			}
		}
	}
}

// readPump discards inbound frames and watches for the connection closing.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Observers do not send messages; reads only keep the
		// connection alive.
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error: %v", err)
			}
			break
		}
	}
}

// writePump pumps queued messages to the WebSocket connection.
func (c *Client) writePump() {
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued messages into the current frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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
