package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jobhub/messaging/internal/logger"
	"github.com/jobhub/messaging/internal/messaging"
	"github.com/jobhub/messaging/internal/ws"
)

const (
	uiWriteWait  = 10 * time.Second
	uiPongWait   = 60 * time.Second
	uiPingPeriod = (uiPongWait * 9) / 10
	uiSendBuffer = 64
)

// uiEvent это кадр для браузера, "change" (изменение стора) или "status" (состояние канала).
type uiEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type uiClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHandler раздаёт изменения стора и статус канала подключённым вкладкам UI.
// Publish* не блокируются: медленный клиент теряет кадры, но не тормозит стор.
type WSHandler struct {
	allowedOrigins string

	mu      sync.Mutex
	clients map[*uiClient]struct{}
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins: как в CORS (через запятую или "*").
func NewWSHandler(allowedOrigins string) *WSHandler {
	return &WSHandler{
		allowedOrigins: strings.TrimSpace(allowedOrigins),
		clients:        make(map[*uiClient]struct{}),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// PublishChange подходит для messaging.Store.Subscribe.
func (h *WSHandler) PublishChange(c messaging.Change) {
	h.broadcast(uiEvent{Type: "change", Payload: c})
}

// PublishStatus подходит для ws.Channel.OnStateChange.
func (h *WSHandler) PublishStatus(st ws.Status) {
	h.broadcast(uiEvent{Type: "status", Payload: st})
}

func (h *WSHandler) broadcast(ev uiEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("ui ws marshal %s: %v", ev.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			logger.Debugf("ui ws: client buffer full, dropping %s", ev.Type)
		}
	}
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	c := &uiClient{conn: conn, send: make(chan []byte, uiSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *WSHandler) remove(c *uiClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump только держит соединение: UI ничего не шлёт, кроме pong и close.
func (h *WSHandler) readPump(c *uiClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(uiPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(uiPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) writePump(c *uiClient) {
	ticker := time.NewTicker(uiPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(uiWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(uiWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
