package ws

import (
	"log/slog"
	"sync"

	"ecatalog/internal/observability/metrics"
)

// Conn is the write side of a live push channel. Implementations must be
// safe for concurrent WriteJSON calls; *liveConn (the gorilla wrapper used
// by the handshake handler) serializes writes with a mutex.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Registry tracks open push channels by authenticated user. One user may
// hold several connections at once (multiple devices or tabs). The registry
// is process-local: registrations are lost on restart and a multi-process
// deployment needs a shared presence store instead.
type Registry struct {
	mu    sync.RWMutex
	users map[string][]Conn
	conns map[Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string][]Conn),
		conns: make(map[Conn]string),
	}
}

// Register adds a connection under the user's bucket. A connection belongs
// to at most one user: re-registering an already-known connection moves it.
func (r *Registry) Register(conn Conn, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.conns[conn]; ok {
		r.removeLocked(conn, owner)
	}
	r.users[userID] = append(r.users[userID], conn)
	r.conns[conn] = userID
	metrics.WebsocketConnections.Inc()
	slog.Info("websocket connected", "user_id", userID, "total_connections", len(r.conns))
}

// Unregister removes a connection from both structures. Safe to call for a
// connection that was already removed.
func (r *Registry) Unregister(conn Conn, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn]; !ok {
		return
	}
	r.removeLocked(conn, userID)
	metrics.WebsocketConnections.Dec()
	slog.Info("websocket disconnected", "user_id", userID, "total_connections", len(r.conns))
}

func (r *Registry) removeLocked(conn Conn, userID string) {
	bucket := r.users[userID]
	for i, c := range bucket {
		if c == conn {
			r.users[userID] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(r.users[userID]) == 0 {
		delete(r.users, userID)
	}
	delete(r.conns, conn)
}

// SendToUser attempts delivery on every connection registered to the user
// and returns the number of successful writes. A connection that fails to
// accept the write is treated as an implicit disconnect and evicted. Zero
// registered connections is a silent no-op: the user is simply offline.
func (r *Registry) SendToUser(message interface{}, userID string) int {
	r.mu.RLock()
	targets := append([]Conn(nil), r.users[userID]...)
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.WriteJSON(message); err != nil {
			slog.Warn("push delivery failed, evicting connection", "user_id", userID, "error", err)
			r.Unregister(conn, userID)
			_ = conn.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// SendToMany fans a message out to each user in turn. A delivery failure for
// one recipient never prevents the attempt for the rest.
func (r *Registry) SendToMany(message interface{}, userIDs []string) int {
	delivered := 0
	for _, userID := range userIDs {
		delivered += r.SendToUser(message, userID)
	}
	return delivered
}

// Broadcast attempts delivery on every registered connection; failed
// connections are swept the same way as in SendToUser.
func (r *Registry) Broadcast(message interface{}) int {
	r.mu.RLock()
	targets := make(map[Conn]string, len(r.conns))
	for conn, userID := range r.conns {
		targets[conn] = userID
	}
	r.mu.RUnlock()

	delivered := 0
	for conn, userID := range targets {
		if err := conn.WriteJSON(message); err != nil {
			slog.Warn("broadcast delivery failed, evicting connection", "user_id", userID, "error", err)
			r.Unregister(conn, userID)
			_ = conn.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// OnlineUsers returns a snapshot of user ids with at least one live
// connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.users))
	for userID := range r.users {
		users = append(users, userID)
	}
	return users
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// ConnectionCount reports the number of registered connections across all
// users.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close drains the registry, closing every connection. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.conns {
		_ = conn.Close()
	}
	metrics.WebsocketConnections.Sub(float64(len(r.conns)))
	r.users = make(map[string][]Conn)
	r.conns = make(map[Conn]string)
}
