package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ecatalog/internal/auth"
)

func handlerMux(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	return mux
}

func newTestHandler(t *testing.T) (*Handler, *Registry, *auth.Manager) {
	t.Helper()
	tokens := auth.NewManager("test-secret", "test-issuer", 15*time.Minute, time.Hour, auth.NewMemoryBlacklist())
	registry := NewRegistry()
	return NewHandler(registry, tokens), registry, tokens
}

func wsURL(serverURL, token string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws?token=" + token
}

func TestHandshakeAndKeepAlive(t *testing.T) {
	handler, registry, tokens := newTestHandler(t)
	server := httptest.NewServer(handlerMux(handler))
	defer server.Close()

	token, err := tokens.IssueAccessToken("42", "student")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL, token), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	var connected struct {
		Type   string `json:"type"`
		UserID string `json:"user_id"`
	}
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	if connected.Type != "connected" || connected.UserID != "42" {
		t.Fatalf("unexpected connected frame: %+v", connected)
	}
	if !registry.IsOnline("42") {
		t.Fatalf("expected user registered after handshake")
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != "pong" {
		t.Fatalf("expected pong, got %s", pong.Type)
	}

	if err := conn.WriteJSON(map[string]interface{}{"type": "subscribe", "channels": []string{"grades"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var sub struct {
		Type     string   `json:"type"`
		Channels []string `json:"channels"`
	}
	if err := conn.ReadJSON(&sub); err != nil {
		t.Fatalf("read subscribed: %v", err)
	}
	if sub.Type != "subscribed" || len(sub.Channels) != 1 || sub.Channels[0] != "grades" {
		t.Fatalf("unexpected subscribe ack: %+v", sub)
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	handler, registry, _ := newTestHandler(t)
	server := httptest.NewServer(handlerMux(handler))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL, "garbage"), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != closeInvalidToken {
		t.Fatalf("expected close code %d, got %d", closeInvalidToken, closeErr.Code)
	}
	if len(registry.OnlineUsers()) != 0 {
		t.Fatalf("rejected handshake must not register a connection")
	}
}

func TestPushReachesDialedConnections(t *testing.T) {
	handler, registry, tokens := newTestHandler(t)
	server := httptest.NewServer(handlerMux(handler))
	defer server.Close()

	token, _ := tokens.IssueAccessToken("7", "student")

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL, token), nil)
		if err != nil {
			t.Fatalf("dial error: %v", err)
		}
		var connected map[string]interface{}
		if err := conn.ReadJSON(&connected); err != nil {
			t.Fatalf("read connected frame: %v", err)
		}
		return conn
	}

	first := dial()
	defer first.Close()
	second := dial()
	defer second.Close()

	if delivered := registry.SendToUser(map[string]string{"type": "grade"}, "7"); delivered != 2 {
		t.Fatalf("expected delivery to both devices, got %d", delivered)
	}

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read pushed frame: %v", err)
		}
		if msg.Type != "grade" {
			t.Fatalf("expected grade frame, got %s", msg.Type)
		}
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	handler, registry, tokens := newTestHandler(t)
	server := httptest.NewServer(handlerMux(handler))
	defer server.Close()

	token, _ := tokens.IssueAccessToken("42", "student")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL, token), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	var connected map[string]interface{}
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for registry.IsOnline("42") {
		if time.Now().After(deadline) {
			t.Fatalf("expected user unregistered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
