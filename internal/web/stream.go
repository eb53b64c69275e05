package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_rebalancer/internal/domain"
	"go.uber.org/zap"
)

const clientBuffer = 32

// Hub fans out price and decision events to websocket subscribers. It
// implements the rebalance service's update sink; publishing never blocks,
// clients that fall behind are dropped.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) PublishPrice(p *domain.PricePoint) {
	h.broadcast(event{Type: "price", Payload: p})
}

func (h *Hub) PublishDecision(rec *domain.SwapDecisionRecord) {
	h.broadcast(event{Type: "decision", Payload: rec})
}

func (h *Hub) broadcast(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow client, disconnect it
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
}

// readLoop drains the connection so close frames are processed.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
}
