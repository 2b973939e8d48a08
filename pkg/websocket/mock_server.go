package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// MockServer is an in-process WebSocket server used by the package tests to
// exercise connection, streaming and failure paths.
type MockServer struct {
	server *httptest.Server
	url    string

	mu          sync.RWMutex
	connections map[*websocket.Conn]bool
	totalConns  int
	paths       []string
	rejectNext  bool
}

// NewMockServer starts a mock server listening on a loopback address.
func NewMockServer() *MockServer {
	m := &MockServer{
		connections: make(map[*websocket.Conn]bool),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleConnection))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// address of the server.
func (m *MockServer) URL() string {
	return m.url
}

// Close shuts the server down and drops all active connections.
func (m *MockServer) Close() {
	m.DropAll()
	m.server.Close()
}

// SetRejectConnections makes the server refuse (or stop refusing) new
// upgrade requests with 403.
func (m *MockServer) SetRejectConnections(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = reject
}

// Broadcast sends a text frame to every connected client.
func (m *MockServer) Broadcast(message []byte) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
			m.removeConnection(c)
		}
	}
}

// SendPing sends a protocol ping frame to every connected client.
func (m *MockServer) SendPing() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.connections {
		_ = c.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
	}
}

// DropAll forcibly closes every active connection, simulating a server-side
// failure.
func (m *MockServer) DropAll() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[*websocket.Conn]bool)
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// ConnectionCount returns the number of currently active connections.
func (m *MockServer) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// TotalConnections returns the number of connections accepted over the
// server's lifetime, including ones since dropped.
func (m *MockServer) TotalConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalConns
}

// Paths returns the request paths of all accepted connections in order.
func (m *MockServer) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.paths...)
}

func (m *MockServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	reject := m.rejectNext
	m.mu.RUnlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections[conn] = true
	m.totalConns++
	m.paths = append(m.paths, r.URL.Path)
	m.mu.Unlock()

	defer func() {
		m.removeConnection(conn)
		conn.Close()
	}()

	// Drain the connection so control frames are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *MockServer) removeConnection(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, conn)
}

func setupMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := NewMockServer()
	t.Cleanup(m.Close)
	return m
}
