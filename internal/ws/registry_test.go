package ws

import (
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu         sync.Mutex
	messages   []interface{}
	failWrites bool
	closed     bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("broken pipe")
	}
	c.messages = append(c.messages, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func TestSendToUserMultiDevice(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}
	r.Register(first, "7")
	r.Register(second, "7")

	delivered := r.SendToUser(map[string]string{"type": "grade"}, "7")
	if delivered != 2 {
		t.Fatalf("expected delivery to both devices, got %d", delivered)
	}
	if first.received() != 1 || second.received() != 1 {
		t.Fatalf("expected both connections to receive the message")
	}
}

func TestSendToOfflineUserIsNoop(t *testing.T) {
	r := NewRegistry()
	if delivered := r.SendToUser(map[string]string{"type": "grade"}, "nobody"); delivered != 0 {
		t.Fatalf("expected zero deliveries, got %d", delivered)
	}
	if r.IsOnline("nobody") {
		t.Fatalf("send must not register a phantom connection")
	}
}

func TestFailedSendEvictsConnection(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{failWrites: true}
	r.Register(conn, "7")

	if delivered := r.SendToUser("hello", "7"); delivered != 0 {
		t.Fatalf("expected zero deliveries, got %d", delivered)
	}
	if r.IsOnline("7") {
		t.Fatalf("expected failed connection to be evicted")
	}
	if !conn.closed {
		t.Fatalf("expected evicted connection to be closed")
	}
}

func TestFailedSendKeepsHealthySibling(t *testing.T) {
	r := NewRegistry()
	dead := &fakeConn{failWrites: true}
	alive := &fakeConn{}
	r.Register(dead, "7")
	r.Register(alive, "7")

	if delivered := r.SendToUser("hello", "7"); delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
	if !r.IsOnline("7") {
		t.Fatalf("user still has a live connection")
	}
	if r.ConnectionCount() != 1 {
		t.Fatalf("expected one connection left, got %d", r.ConnectionCount())
	}
}

func TestSendToManyPartialFailure(t *testing.T) {
	r := NewRegistry()
	dead := &fakeConn{failWrites: true}
	alive := &fakeConn{}
	r.Register(dead, "u1")
	r.Register(alive, "u2")

	delivered := r.SendToMany("hello", []string{"u1", "u2"})
	if delivered != 1 {
		t.Fatalf("expected delivery to u2 despite u1 failure, got %d", delivered)
	}
	if alive.received() != 1 {
		t.Fatalf("expected u2 to receive the message")
	}
}

func TestBroadcastSweepsDeadConnections(t *testing.T) {
	r := NewRegistry()
	dead := &fakeConn{failWrites: true}
	alive := &fakeConn{}
	r.Register(dead, "u1")
	r.Register(alive, "u2")

	delivered := r.Broadcast("hello")
	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
	if r.IsOnline("u1") {
		t.Fatalf("expected dead connection swept")
	}
	if !r.IsOnline("u2") {
		t.Fatalf("expected live connection kept")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Register(conn, "7")
	r.Unregister(conn, "7")
	r.Unregister(conn, "7")

	if r.IsOnline("7") {
		t.Fatalf("expected user offline after unregister")
	}
	if r.ConnectionCount() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestRegisterMovesConnectionBetweenUsers(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Register(conn, "u1")
	r.Register(conn, "u2")

	if r.IsOnline("u1") {
		t.Fatalf("connection must belong to at most one user")
	}
	if !r.IsOnline("u2") {
		t.Fatalf("expected connection under its new user")
	}
	if r.ConnectionCount() != 1 {
		t.Fatalf("expected a single registration, got %d", r.ConnectionCount())
	}
}

func TestOnlineUsersSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeConn{}, "u1")
	r.Register(&fakeConn{}, "u1")
	r.Register(&fakeConn{}, "u2")

	users := r.OnlineUsers()
	if len(users) != 2 {
		t.Fatalf("expected two online users, got %v", users)
	}
}

func TestConcurrentRegisterSendUnregister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				conn := &fakeConn{}
				r.Register(conn, "7")
				r.SendToUser("hello", "7")
				r.Unregister(conn, "7")
			}
		}()
	}
	wg.Wait()

	if r.ConnectionCount() != 0 {
		t.Fatalf("expected empty registry after churn, got %d", r.ConnectionCount())
	}
}

func TestCloseDrainsRegistry(t *testing.T) {
	r := NewRegistry()
	conn := &fakeConn{}
	r.Register(conn, "7")

	r.Close()
	if !conn.closed {
		t.Fatalf("expected connection closed on drain")
	}
	if r.ConnectionCount() != 0 || len(r.OnlineUsers()) != 0 {
		t.Fatalf("expected empty registry after close")
	}
}
