package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/logger"
	"github.com/PaiCY-T/LLM-strategy-generator-sub008/internal/monitor"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
)

// StreamMessage is the envelope pushed to websocket subscribers.
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// streamClient is one connected subscriber.
type streamClient struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	hub  *StreamHub
}

// StreamHub fans engine events out to websocket subscribers. It satisfies
// the engine's broadcaster contract, so mutation, execution and evolution
// events reach every connected client as they happen.
type StreamHub struct {
	upgrader websocket.Upgrader
	clients  map[string]*streamClient
	mu       sync.RWMutex
	metrics  *monitor.Metrics
	log      logger.Logger
}

// NewStreamHub creates a websocket hub.
func NewStreamHub(metrics *monitor.Metrics, log logger.Logger) *StreamHub {
	if log == nil {
		log = logger.Module("api")
	}
	return &StreamHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*streamClient),
		metrics: metrics,
		log:     log,
	}
}

// HandleEvents godoc
// @Summary Subscribe to engine events
// @Description Upgrades to a websocket pushing mutation, execution and evolution events
// @Tags websocket
// @Router /ws/events [get]
func (h *StreamHub) HandleEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{
		ID:   generateClientID(),
		Conn: conn,
		Send: make(chan []byte, 256),
		hub:  h,
	}

	h.register(client)

	go client.writePump()
	go client.readPump()
}

// Broadcast pushes one event to every connected client. Clients that
// cannot keep up are dropped.
func (h *StreamHub) Broadcast(event string, data interface{}) {
	msg := StreamMessage{
		Type: event,
		Data: data,
		Time: time.Now(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal stream message", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*streamClient, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.Send <- payload:
		default:
			h.unregister(client)
		}
	}
}

// ClientCount reports the number of connected subscribers.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *StreamHub) Close() {
	h.mu.Lock()
	for id, client := range h.clients {
		close(client.Send)
		if client.Conn != nil {
			client.Conn.Close()
		}
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetActiveConnections(0)
	}
}

func (h *StreamHub) register(client *streamClient) {
	h.mu.Lock()
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetActiveConnections(float64(count))
	}
	h.log.Info("websocket client connected", "client_id", client.ID, "clients", count)
}

func (h *StreamHub) unregister(client *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	count := len(h.clients)
	h.mu.Unlock()

	close(client.Send)
	if client.Conn != nil {
		client.Conn.Close()
	}

	if h.metrics != nil {
		h.metrics.SetActiveConnections(float64(count))
	}
	h.log.Info("websocket client disconnected", "client_id", client.ID, "clients", count)
}

// writePump drains the send channel onto the connection and keeps the
// connection alive with pings.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// readPump consumes control frames until the peer goes away. Incoming
// data frames are discarded; the stream is push-only.
func (c *streamClient) readPump() {
	defer c.hub.unregister(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}

func generateClientID() string {
	return fmt.Sprintf("client_%d", time.Now().UnixNano())
}
