package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Topics streamed to clients.
var Topics = []string{domain.TopicProgress, domain.TopicSupervisor, domain.TopicMaster}

type client struct {
	sessionID string
	send      chan domain.Event
}

// Handler fans bus events out to WebSocket clients watching a session. It
// holds one bus subscription per topic regardless of the number of clients.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
		clients:  make(map[string]map[*client]struct{}),
	}
}

// Start subscribes to the streamed topics until ctx is cancelled
func (h *Handler) Start(ctx context.Context) error {
	for _, topic := range Topics {
		if err := h.eventBus.Subscribe(ctx, topic, h.dispatch); err != nil {
			return err
		}
	}
	return nil
}

// dispatch delivers event to the clients of its session. Slow clients
// drop events rather than block the bus.
func (h *Handler) dispatch(ctx context.Context, event domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[event.SessionID] {
		select {
		case c.send <- event:
		default:
			h.logger.Warn("websocket client too slow, dropping event",
				zap.String("session_id", event.SessionID),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}

func (h *Handler) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.sessionID] == nil {
		h.clients[c.sessionID] = make(map[*client]struct{})
	}
	h.clients[c.sessionID][c] = struct{}{}
}

func (h *Handler) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.clients[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.sessionID)
		}
	}
}

// ClientCount returns the number of connected clients for a session
func (h *Handler) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// HandleSessionStream streams the events of one session or master workflow
func (h *Handler) HandleSessionStream(c *gin.Context) {
	sessionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("session_id", sessionID),
		zap.String("client", c.ClientIP()))

	cl := &client{sessionID: sessionID, send: make(chan domain.Event, sendBuffer)}
	h.register(cl)
	defer h.unregister(cl)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go h.readLoop(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-cl.send:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed and
// cancels the stream once the peer goes away.
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
