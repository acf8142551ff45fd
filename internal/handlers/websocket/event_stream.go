package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/gorilla/websocket"
)

// streamMessage wraps an event for operator clients
type streamMessage struct {
	Type    string       `json:"type"`
	Payload models.Event `json:"payload"`
}

// EventStream pushes engine events to operator WebSocket clients. It is a
// notification channel for the dispatcher.
type EventStream struct {
	config   Config
	upgrader websocket.Upgrader
	clients  map[*streamClient]bool
	mu       sync.RWMutex
}

type streamClient struct {
	stream     *EventStream
	conn       *websocket.Conn
	campaignID int64 // 0 subscribes to every campaign
	send       chan []byte
}

// NewEventStream creates an event stream
func NewEventStream(config Config) *EventStream {
	return &EventStream{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*streamClient]bool),
	}
}

func (s *EventStream) Name() string { return "websocket" }

// Deliver sends the event to every subscribed client. Slow clients miss events.
func (s *EventStream) Deliver(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(streamMessage{Type: "event", Payload: event})
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if client.campaignID != 0 && client.campaignID != event.CampaignID {
			continue
		}
		select {
		case client.send <- data:
		default:
			debug.Warning("Event stream client buffer full, dropping event %s", event.ID)
		}
	}
	return nil
}

// ConnectionCount returns the number of connected operator clients
func (s *EventStream) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeWS upgrades an operator connection. ?campaign_id limits the stream to one campaign.
func (s *EventStream) ServeWS(w http.ResponseWriter, r *http.Request) {
	var campaignID int64
	if v := r.URL.Query().Get("campaign_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid campaign_id", http.StatusBadRequest)
			return
		}
		campaignID = id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Error("Failed to upgrade event stream connection: %v", err)
		return
	}

	client := &streamClient{
		stream:     s,
		conn:       conn,
		campaignID: campaignID,
		send:       make(chan []byte, 256),
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	debug.Log("Event stream client connected", map[string]interface{}{
		"remote_addr": r.RemoteAddr,
		"campaign_id": campaignID,
	})

	go client.writePump()
	go client.readPump()
}

func (s *EventStream) unregister(c *streamClient) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

// Close disconnects every client
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		delete(s.clients, client)
		close(client.send)
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(c.stream.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.stream.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.stream.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only keeps the read deadline moving; operators do not send commands here
func (c *streamClient) readPump() {
	defer func() {
		c.stream.unregister(c)
		c.conn.Close()
	}()

	pongWait := c.stream.config.PongWait
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Warning("Event stream read error: %v", err)
			}
			return
		}
	}
}
