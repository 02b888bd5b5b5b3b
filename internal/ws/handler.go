package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ecatalog/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024

	// Close code sent when the handshake token is rejected, distinguishable
	// from a normal close by the client.
	closeInvalidToken = 4001
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// liveConn serializes writes to a single gorilla connection. The registry
// and the read loop may both write concurrently (pushes vs. pong frames),
// which *websocket.Conn itself does not allow.
type liveConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *liveConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *liveConn) Close() error {
	return c.conn.Close()
}

// Handler upgrades /ws requests into registered push channels. The token is
// carried as a query parameter and verified exactly like an access token.
type Handler struct {
	registry *Registry
	tokens   *auth.Manager
}

func NewHandler(registry *Registry, tokens *auth.Manager) *Handler {
	return &Handler{registry: registry, tokens: tokens}
}

type inboundMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		return
	}

	userID, _, err := h.tokens.VerifyAccess(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		slog.Warn("websocket handshake rejected", "error", err)
		message := websocket.FormatCloseMessage(closeInvalidToken, "invalid or expired token")
		_ = rawConn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		_ = rawConn.Close()
		return
	}

	conn := &liveConn{conn: rawConn}
	h.registry.Register(conn, userID)
	defer func() {
		h.registry.Unregister(conn, userID)
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(map[string]interface{}{
		"type":    "connected",
		"message": "connected to notification service",
		"user_id": userID,
	}); err != nil {
		return
	}

	rawConn.SetReadLimit(maxMessageSize)
	for {
		var msg inboundMessage
		if err := rawConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read error", "user_id", userID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "ping":
			if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		case "subscribe":
			// Acknowledged keep-alive convenience; no real filtering happens.
			if err := conn.WriteJSON(map[string]interface{}{
				"type":     "subscribed",
				"channels": msg.Channels,
			}); err != nil {
				return
			}
		}
	}
}
