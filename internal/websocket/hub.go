package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheGojiOG/mcpanel/internal/console"
	"github.com/TheGojiOG/mcpanel/internal/tail"
)

const (
	MessageLog     = "log"
	MessageHistory = "history"
	MessageError   = "error"

	historyLimit = 64_000
	sendBuffer   = 256
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Payload   interface{}            `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// LogPayload carries a chunk of log text.
type LogPayload struct {
	Server string `json:"server"`
	File   string `json:"file,omitempty"`
	Text   string `json:"text"`
}

// Source feeds a room until ctx is cancelled. The hub starts one source per
// room when the first client joins and cancels it when the last one leaves.
type Source func(ctx context.Context, room string, emit func(*Message)) error

// Client represents a WebSocket client connection
type Client struct {
	ID      string
	Subject string
	Conn    *websocket.Conn
	Room    string
	Send    chan *Message
	Hub     *Hub
	// Filter drops log lines before they are queued. Nil passes everything.
	Filter *console.OutputFilter
	mu     sync.Mutex
}

// NewClient creates a client with a buffered send queue.
func NewClient(hub *Hub, id, subject, room string, conn *websocket.Conn) *Client {
	return &Client{
		ID:      id,
		Subject: subject,
		Conn:    conn,
		Room:    room,
		Send:    make(chan *Message, sendBuffer),
		Hub:     hub,
	}
}

type roomFeed struct {
	cancel  context.CancelFunc
	history *tail.TrimBuffer
}

// Hub manages all WebSocket connections and rooms
type Hub struct {
	// Registered clients grouped by room
	rooms map[string]map[*Client]bool

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to room
	broadcast chan *BroadcastMessage

	// Active clients by ID for quick lookup
	clients map[string]*Client

	source Source
	feeds  map[string]*roomFeed
	ctx    context.Context
	done   chan struct{}
	once   sync.Once

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast to a room
type BroadcastMessage struct {
	Room    string
	Message *Message
	Exclude *Client // Optional: exclude this client from broadcast
}

// NewHub creates a new WebSocket hub. source may be nil for rooms that are
// only fed through BroadcastToRoom.
func NewHub(source Source) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		clients:    make(map[string]*Client),
		source:     source,
		feeds:      make(map[string]*roomFeed),
		ctx:        context.Background(),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRoom(message)

		case <-ctx.Done():
			log.Println("[WebSocket] Hub shutting down")
			h.shutdown()
			return
		}
	}
}

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// registerClient adds a client to a room
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	if h.rooms[client.Room] == nil {
		h.rooms[client.Room] = make(map[*Client]bool)
	}
	h.rooms[client.Room][client] = true

	log.Printf("[WebSocket] Client %s (subject=%s) joined room %s. Room size: %d",
		client.ID, client.Subject, client.Room, len(h.rooms[client.Room]))

	feed, ok := h.feeds[client.Room]
	if !ok {
		h.startFeed(client.Room)
		return
	}
	if text := feed.history.String(); text != "" {
		client.deliver(&Message{
			Type:      MessageHistory,
			Payload:   LogPayload{Server: RoomServer(client.Room), Text: text},
			Timestamp: time.Now(),
		})
	}
}

// startFeed must be called with h.mu held.
func (h *Hub) startFeed(room string) {
	if h.source == nil {
		return
	}
	ctx, cancel := context.WithCancel(h.ctx)
	feed := &roomFeed{cancel: cancel, history: tail.NewTrimBuffer(historyLimit)}
	h.feeds[room] = feed

	emit := func(msg *Message) {
		if p, ok := msg.Payload.(LogPayload); ok && msg.Type == MessageLog {
			feed.history.Append(p.Text)
		}
		h.publish(ctx, &BroadcastMessage{Room: room, Message: msg})
	}
	go func() {
		err := h.source(ctx, room, emit)
		if err != nil && ctx.Err() == nil {
			log.Printf("[WebSocket] Feed for room %s stopped: %v", room, err)
			h.publish(ctx, &BroadcastMessage{Room: room, Message: &Message{
				Type:      MessageError,
				Payload:   map[string]string{"error": err.Error()},
				Timestamp: time.Now(),
			}})
		}
	}()
}

// unregisterClient removes a client from a room
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, client.ID)

	clients, ok := h.rooms[client.Room]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	client.close()

	if len(clients) == 0 {
		delete(h.rooms, client.Room)
		if feed, ok := h.feeds[client.Room]; ok {
			feed.cancel()
			delete(h.feeds, client.Room)
		}
		log.Printf("[WebSocket] Room %s is now empty and removed", client.Room)
		return
	}
	log.Printf("[WebSocket] Client %s left room %s. Room size: %d",
		client.ID, client.Room, len(clients))
}

// broadcastToRoom sends a message to all clients in a room
func (h *Hub) broadcastToRoom(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[bm.Room] {
		if bm.Exclude != nil && client.ID == bm.Exclude.ID {
			continue
		}
		client.deliver(bm.Message)
	}
}

// GetRoomSize returns the number of clients in a room
func (h *Hub) GetRoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom sends a message to all clients in a room
func (h *Hub) BroadcastToRoom(room string, message *Message) {
	h.publish(context.Background(), &BroadcastMessage{Room: room, Message: message})
}

func (h *Hub) publish(ctx context.Context, bm *BroadcastMessage) {
	select {
	case h.broadcast <- bm:
	case <-ctx.Done():
	case <-h.done:
	}
}

// shutdown closes all connections gracefully
func (h *Hub) shutdown() {
	h.once.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, feed := range h.feeds {
		feed.cancel()
	}
	for _, client := range h.clients {
		client.close()
		if client.Conn != nil {
			client.Conn.Close()
		}
	}

	h.feeds = make(map[string]*roomFeed)
	h.rooms = make(map[string]map[*Client]bool)
	h.clients = make(map[string]*Client)
}

// LogRoom names the room streaming a server's logs.
func LogRoom(server string) string {
	return "logs:" + server
}

// RoomServer is the inverse of LogRoom.
func RoomServer(room string) string {
	return strings.TrimPrefix(room, "logs:")
}

// deliver queues msg without blocking, applying the client's filter to log
// text. Slow clients lose messages rather than stalling the room.
func (c *Client) deliver(msg *Message) {
	c.mu.Lock()
	filter := c.Filter
	c.mu.Unlock()

	if filter.Active() && (msg.Type == MessageLog || msg.Type == MessageHistory) {
		p, ok := msg.Payload.(LogPayload)
		if !ok {
			return
		}
		lines := filter.FilterLines(strings.Split(strings.TrimRight(p.Text, "\n"), "\n"))
		if len(lines) == 0 {
			return
		}
		p.Text = strings.Join(lines, "\n") + "\n"
		filtered := *msg
		filtered.Payload = p
		msg = &filtered
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Send == nil {
		return
	}
	select {
	case c.Send <- msg:
	default:
		log.Printf("[WebSocket] Client %s send channel full, dropping message", c.ID)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Send != nil {
		close(c.Send)
		c.Send = nil
	}
}

// ReadPump pumps messages from WebSocket connection to hub. Clients only send
// control frames and filter updates.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			return
		}

		var msg struct {
			Type   string `json:"type"`
			Filter string `json:"filter"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WebSocket] Failed to parse message: %v", err)
			continue
		}
		if msg.Type != "filter" {
			continue
		}
		filter, err := console.ParseFilter(msg.Filter)
		if err != nil {
			c.SendMessage(MessageError, map[string]string{"error": err.Error()})
			continue
		}
		c.mu.Lock()
		c.Filter = filter
		c.mu.Unlock()
	}
}

// WritePump pumps messages from hub to WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	c.mu.Lock()
	send := c.Send
	c.mu.Unlock()
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Send == nil {
		return fmt.Errorf("client send channel is closed")
	}

	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	select {
	case c.Send <- msg:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}
