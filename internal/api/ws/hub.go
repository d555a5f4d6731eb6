// Package ws streams engine and browser events to websocket clients.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/uiblocks/internal/capability/browser"
	"github.com/GriffinCanCode/uiblocks/internal/engine"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/monitoring"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = pongTimeout * 9 / 10
	maxInbound   = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs origins
	},
}

// Message is one frame sent to clients. Exactly one of Engine and
// Browser is set for event frames.
type Message struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Engine    *engine.Event  `json:"engine,omitempty"`
	Browser   *browser.Event `json:"browser,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// request is a frame received from a client.
type request struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	session string // empty receives every session
}

func (c *client) wants(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session == "" || c.session == sessionID
}

func (c *client) subscribe(sessionID string) {
	c.mu.Lock()
	c.session = sessionID
	c.mu.Unlock()
}

// Hub fans events out to connected clients. Slow clients lose frames
// rather than blocking publishers.
type Hub struct {
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		log:     log.Component("ws"),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// PublishEngine broadcasts an engine event. It never blocks, so it can
// serve as engine.Options.OnEvent.
func (h *Hub) PublishEngine(ev engine.Event) {
	h.broadcast(Message{Type: "engine", SessionID: ev.SessionID, Engine: &ev, Timestamp: ev.Time.UnixMilli()})
}

// PublishBrowser broadcasts a browser event. It has the signature of a
// browser.Handler.
func (h *Hub) PublishBrowser(_ context.Context, ev browser.Event) error {
	h.broadcast(Message{Type: "browser", SessionID: ev.SessionID, Browser: &ev, Timestamp: ev.Time.UnixMilli()})
	return nil
}

func (h *Hub) broadcast(msg Message) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		h.log.Warn("failed to encode event", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(msg.SessionID) {
			continue
		}
		select {
		case c.send <- data:
			h.metrics.RecordWSMessage("out", msg.Type)
		default:
			h.metrics.RecordWSMessage("out", "dropped")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and streams events until the
// client leaves. ?session_id= limits the stream to one session.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer), session: c.Query("session_id")}
	if !h.register(cl) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	h.queue(cl, Message{Type: "system", SessionID: cl.session, Message: "connected"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(cl)
	}()
	h.readPump(cl)
	h.unregister(cl)
	<-done
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister closes the send channel exactly once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) queue(c *client, msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
		h.metrics.RecordWSMessage("out", msg.Type)
	default:
	}
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var req request
		if err := sonic.Unmarshal(data, &req); err != nil {
			h.queue(c, Message{Type: "error", Message: "invalid message"})
			continue
		}
		h.metrics.RecordWSMessage("in", req.Type)

		switch req.Type {
		case "subscribe":
			c.subscribe(req.SessionID)
			h.queue(c, Message{Type: "subscribed", SessionID: req.SessionID})
		case "ping":
			h.queue(c, Message{Type: "pong"})
		default:
			h.queue(c, Message{Type: "error", Message: "unknown message type"})
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}
