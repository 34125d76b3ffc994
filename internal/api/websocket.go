package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dzungpv/mitsubishi2MQTT/internal/auth"
	"github.com/dzungpv/mitsubishi2MQTT/internal/logger"
	"github.com/dzungpv/mitsubishi2MQTT/internal/mqtt"
)

// WebSocket settings
const (
	WSTypeState = "state"

	wsSendBuffer   = 16
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 50 * time.Second
	wsReadLimit    = 512
)

// WSMessage is a message pushed to websocket clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub fans state updates out to the connected panels
type Hub struct {
	log     *logger.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*wsClient]struct{})}
}

// BroadcastState pushes a state document to every client. Slow clients
// miss updates rather than block the caller.
func (h *Hub) BroadcastState(p mqtt.StatePayload) {
	data, err := json.Marshal(WSMessage{Type: WSTypeState, Payload: p})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debugw("websocket client too slow, dropping update")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// unregister closes the send channel once, whoever gets here first
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

// WSHandler upgrades state websocket connections
type WSHandler struct {
	hub          *Hub
	wsTokenStore *auth.WSTokenStore
	current      func() mqtt.StatePayload
	upgrader     websocket.Upgrader
}

// NewWSHandler creates a websocket handler; current supplies the first message
func NewWSHandler(hub *Hub, wsTokenStore *auth.WSTokenStore, current func() mqtt.StatePayload) *WSHandler {
	h := &WSHandler{hub: hub, wsTokenStore: wsTokenStore, current: current}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the one-time ws_token issued by /api/auth/ws-token,
// which stops cross-site websocket hijacking
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	token := r.URL.Query().Get("ws_token")
	if token == "" {
		h.hub.log.Warnw("websocket rejected: missing ws_token")
		return false
	}
	if _, ok := h.wsTokenStore.Validate(token); !ok {
		h.hub.log.Warnw("websocket rejected: invalid or expired ws_token")
		return false
	}
	return true
}

// Connect handles GET /api/ws?ws_token=...
func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if data, err := json.Marshal(WSMessage{Type: WSTypeState, Payload: h.current()}); err == nil {
		c.send <- data
	}
	h.hub.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only watches for close and pong frames
func (h *WSHandler) readPump(c *wsClient) {
	defer func() {
		h.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
