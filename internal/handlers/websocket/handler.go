package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	wsservice "github.com/ZerkerEOD/krakenhashes/coordinator/internal/services/websocket"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/gorilla/websocket"
)

const maxMessageSize = 1024 * 1024

// Config holds the connection timing
type Config struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

// DefaultConfig returns the timing used when none is configured
func DefaultConfig() Config {
	return Config{
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
	}
}

// Handler manages WebSocket connections for agents
type Handler struct {
	service  *wsservice.Service
	config   Config
	upgrader websocket.Upgrader
	clients  map[int]*Client
	closing  bool
	mu       sync.RWMutex
}

// Client represents a connected agent
type Client struct {
	handler *Handler
	conn    *websocket.Conn
	agentID int
	send    chan *wsservice.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHandler creates a new WebSocket handler
func NewHandler(service *wsservice.Service, config Config) *Handler {
	debug.Info("WebSocket timing configuration:")
	debug.Info("- Write Wait: %v", config.WriteWait)
	debug.Info("- Pong Wait: %v", config.PongWait)
	debug.Info("- Ping Period: %v", config.PingPeriod)

	return &Handler{
		service: service,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   maxMessageSize,
			WriteBufferSize:  maxMessageSize,
			HandshakeTimeout: config.WriteWait,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[int]*Client),
	}
}

// agentIDFromRequest reads the agent id from X-Agent-ID or the agent_id query parameter
func agentIDFromRequest(r *http.Request) (int, error) {
	v := r.Header.Get("X-Agent-ID")
	if v == "" {
		v = r.URL.Query().Get("agent_id")
	}
	if v == "" {
		return 0, fmt.Errorf("agent id is required")
	}
	id, err := strconv.Atoi(v)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid agent id %q", v)
	}
	return id, nil
}

// ServeWS handles WebSocket connections from agents
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDFromRequest(r)
	if err != nil {
		debug.Warning("Rejected WebSocket connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Error("Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}
	debug.Info("Successfully upgraded to WebSocket connection for agent %d", agentID)

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		handler: h,
		conn:    conn,
		agentID: agentID,
		send:    make(chan *wsservice.Message, 256),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.mu.Lock()
	if previous, ok := h.clients[agentID]; ok {
		debug.Warning("Agent %d reconnected, closing previous connection", agentID)
		previous.cancel()
	}
	h.clients[agentID] = client
	h.mu.Unlock()
	debug.Info("Added agent %d to active clients", agentID)

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the WebSocket connection to the service
func (c *Client) readPump() {
	defer func() {
		debug.Info("Agent %d: ReadPump closing", c.agentID)
		c.handler.unregisterClient(c)
		c.conn.Close()
		c.cancel()
	}()

	cfg := c.handler.config
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

	c.conn.SetPingHandler(func(appData string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
			debug.Error("Agent %d: Failed to set read deadline: %v", c.agentID, err)
			return err
		}
		if err := c.conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(cfg.WriteWait)); err != nil {
			debug.Error("Agent %d: Failed to send pong: %v", c.agentID, err)
			return err
		}
		return nil
	})

	c.conn.SetPongHandler(func(string) error {
		debug.Debug("Agent %d: Received pong", c.agentID)
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Error("Agent %d: Unexpected WebSocket close error: %v", c.agentID, err)
			} else {
				debug.Info("Agent %d: Connection closed: %v", c.agentID, err)
			}
			return
		}

		var msg wsservice.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			debug.Error("Agent %d: Failed to unmarshal message: %v", c.agentID, err)
			c.enqueue(wsservice.ErrorMessage("INVALID_MESSAGE", "message is not valid JSON", ""))
			continue
		}

		debug.Debug("Agent %d: Processing message type: %s", c.agentID, msg.Type)

		replies, err := c.handler.service.HandleMessage(c.ctx, c.agentID, &msg)
		if err != nil {
			debug.Error("Agent %d: Failed to handle %s message: %v", c.agentID, msg.Type, err)
			debug.Debug("Agent %d: Rejected payload: %s", c.agentID, debug.SanitizePayload(string(msg.Payload)))
			c.enqueue(wsservice.ErrorMessage("MESSAGE_FAILED", err.Error(), msg.Type))
			continue
		}
		for _, reply := range replies {
			c.enqueue(reply)
		}
	}
}

// enqueue queues a message for the write pump without blocking the reader
func (c *Client) enqueue(msg *wsservice.Message) {
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	default:
		debug.Error("Agent %d: send buffer full, dropping %s", c.agentID, msg.Type)
	}
}

// writePump pumps messages from the send queue to the WebSocket connection
func (c *Client) writePump() {
	cfg := c.handler.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		debug.Info("Agent %d: WritePump closing", c.agentID)
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteJSON(message); err != nil {
				debug.Error("Agent %d: Failed to write message: %v", c.agentID, err)
				return
			}
			debug.Debug("Agent %d: Sent message type: %s", c.agentID, message.Type)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				debug.Error("Agent %d: Failed to send ping: %v", c.agentID, err)
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendMessage sends a message to a specific agent
func (h *Handler) SendMessage(agentID int, msg *wsservice.Message) error {
	h.mu.RLock()
	client, ok := h.clients[agentID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("agent %d not connected", agentID)
	}

	select {
	case client.send <- msg:
		return nil
	default:
		return fmt.Errorf("agent %d send buffer full", agentID)
	}
}

// unregisterClient removes a client and releases the agent's lease. A client
// replaced by a newer connection from the same agent leaves the lease alone.
func (h *Handler) unregisterClient(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.agentID]
	registered := ok && current == c
	if registered {
		delete(h.clients, c.agentID)
	}
	closing := h.closing
	h.mu.Unlock()

	if !registered || closing {
		return
	}

	debug.Info("Agent %d: disconnected, reclaiming its lease", c.agentID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.service.AgentDisconnected(ctx, c.agentID); err != nil {
		debug.Error("Agent %d: Failed to handle disconnection: %v", c.agentID, err)
	}
}

// GetConnectedAgents returns a list of connected agent IDs
func (h *Handler) GetConnectedAgents() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	agents := make([]int, 0, len(h.clients))
	for agentID := range h.clients {
		agents = append(agents, agentID)
	}
	return agents
}

// Close disconnects every agent. Leases survive a server shutdown and are
// picked up again on the agents' next heartbeat.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = true
	for _, client := range h.clients {
		client.cancel()
	}
}
