package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// queryTimeout bounds synchronous client data requests.
	queryTimeout = 10 * time.Second
)

// TopicGlobal receives system-wide events; every client is subscribed.
const TopicGlobal = "global"

// NodeTopic scopes events to a single monitored node.
func NodeTopic(nodeID string) string { return "node-" + nodeID }

// SubscriberTopic scopes events to one subscriber's alerts.
func SubscriberTopic(subscriberID string) string { return "subscriber-" + subscriberID }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the JSON envelope sent to clients on every publish.
type Event struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// DataSource answers client-initiated requests synchronously from the
// store and aggregator, with no scheduler involvement.
type DataSource interface {
	NodeMetrics(ctx context.Context, nodeID string, since time.Time) ([]model.MetricSample, error)
	SystemHealth(ctx context.Context) (*model.SystemHealthSnapshot, error)
}

// Hub manages WebSocket clients and routes published events to the rooms
// they joined. Delivery is at-most-once: clients not connected at publish
// time miss the event.
type Hub struct {
	source DataSource

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	rooms  map[string]struct{}
	closed bool
}

func (c *client) inRoom(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[topic]
	return ok
}

func (c *client) join(topic string) {
	c.mu.Lock()
	c.rooms[topic] = struct{}{}
	c.mu.Unlock()
}

// trySend queues a message without blocking. Returns false when the
// client's buffer is full or the client is already shut down. The send
// happens under the client mutex so it can never race shutdown's close.
func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once. Only called after the
// client has left the hub's registry.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// New creates a Hub answering client queries from source. A nil source
// disables the query commands but leaves publishing functional.
func New(source DataSource) *Hub {
	return &Hub{
		source:  source,
		clients: make(map[*client]struct{}),
	}
}

// Publish sends an event to every client subscribed to topic. Global
// publishes reach all clients. Errors never propagate to the caller;
// slow clients are dropped rather than awaited.
func (h *Hub) Publish(topic, event string, payload any) {
	data, err := json.Marshal(Event{Topic: topic, Event: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Str("event", event).Msg("realtime publish marshal failed")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if topic == TopicGlobal || c.inRoom(topic) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			// Client's outgoing buffer is full; disconnect it.
			log.Warn().Str("client", c.id).Str("topic", topic).Msg("realtime client send buffer full, dropping")
			h.unregister(c)
		}
	}
}

// ServeHTTP upgrades the connection and serves the client until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	c := &client{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan []byte, sendBufSize),
		rooms: make(map[string]struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	h.readPump(c) // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	dropped := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		dropped = append(dropped, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	for _, c := range dropped {
		c.shutdown()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Debug().Str("client", c.id).Msg("realtime client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if ok {
		c.shutdown()
	}
}

// command is the inbound client message shape.
type command struct {
	Action       string `json:"action"`
	NodeID       string `json:"nodeId,omitempty"`
	SubscriberID string `json:"subscriberId,omitempty"`
	Since        string `json:"since,omitempty"` // RFC3339; defaults to 24h ago
}

func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug().Str("client", c.id).Err(err).Msg("realtime client sent malformed command")
			continue
		}
		h.handleCommand(c, &cmd)
	}
}

func (h *Hub) handleCommand(c *client, cmd *command) {
	switch cmd.Action {
	case "join_node":
		if cmd.NodeID != "" {
			c.join(NodeTopic(cmd.NodeID))
			h.reply(c, "joined", map[string]string{"topic": NodeTopic(cmd.NodeID)})
		}
	case "join_subscriber":
		if cmd.SubscriberID != "" {
			c.join(SubscriberTopic(cmd.SubscriberID))
			h.reply(c, "joined", map[string]string{"topic": SubscriberTopic(cmd.SubscriberID)})
		}
	case "get_metrics":
		h.replyMetrics(c, cmd)
	case "get_system_health":
		h.replySystemHealth(c)
	default:
		log.Debug().Str("client", c.id).Str("action", cmd.Action).Msg("realtime unknown command")
	}
}

func (h *Hub) replyMetrics(c *client, cmd *command) {
	if h.source == nil || cmd.NodeID == "" {
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if cmd.Since != "" {
		if t, err := time.Parse(time.RFC3339, cmd.Since); err == nil {
			since = t
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	samples, err := h.source.NodeMetrics(ctx, cmd.NodeID, since)
	if err != nil {
		log.Error().Err(err).Str("node", cmd.NodeID).Msg("realtime metrics query failed")
		h.reply(c, "error", map[string]string{"error": "metrics unavailable"})
		return
	}
	h.reply(c, "metrics", map[string]any{"nodeId": cmd.NodeID, "samples": samples})
}

func (h *Hub) replySystemHealth(c *client) {
	if h.source == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	snap, err := h.source.SystemHealth(ctx)
	if err != nil {
		log.Error().Err(err).Msg("realtime system health query failed")
		h.reply(c, "error", map[string]string{"error": "system health unavailable"})
		return
	}
	h.reply(c, "system_health", snap)
}

// reply sends a direct response to one client, bypassing rooms.
func (h *Hub) reply(c *client, event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		return
	}
	c.trySend(data)
}

// writePump drains the client's send channel and forwards messages to the
// connection, interleaving ping frames. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
