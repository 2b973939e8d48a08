package userstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/websocket"
)

// fakeTokenSource issues sequential keys and can be told to fail refreshes.
type fakeTokenSource struct {
	mu             sync.Mutex
	startCalls     int
	keepaliveCalls int
	keepaliveErrs  int
	lastKeepalive  string
	closedKeys     []string
}

func (f *fakeTokenSource) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return fmt.Sprintf("key-%d", f.startCalls), nil
}

func (f *fakeTokenSource) Keepalive(ctx context.Context, listenKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepaliveCalls++
	f.lastKeepalive = listenKey
	if f.keepaliveErrs > 0 {
		f.keepaliveErrs--
		return errors.New("listen key expired")
	}
	return nil
}

func (f *fakeTokenSource) Close(ctx context.Context, listenKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedKeys = append(f.closedKeys, listenKey)
	return nil
}

func (f *fakeTokenSource) StartCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

func (f *fakeTokenSource) KeepaliveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepaliveCalls
}

func (f *fakeTokenSource) LastKeepalive() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastKeepalive
}

func (f *fakeTokenSource) ClosedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closedKeys...)
}

func testConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.KeepaliveInterval = 50 * time.Millisecond
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.Reconnect.BaseDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 100 * time.Millisecond
	cfg.Reconnect.HealthCheckEnabled = false
	cfg.Logger = logging.Nop()
	return cfg
}

func TestManagerForwardsEvents(t *testing.T) {
	mock := websocket.NewMockServer()
	t.Cleanup(mock.Close)

	source := &fakeTokenSource{}
	m := NewManager(source, testConfig(mock.URL()))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	assert.Equal(t, "key-1", m.ListenKey())
	assert.Equal(t, []string{"/ws/key-1"}, mock.Paths())

	require.Eventually(t, func() bool { return mock.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)
	mock.Broadcast([]byte(`{"e":"executionReport","E":1,"s":"BTCUSDT","c":"order-1","X":"FILLED"}`))

	select {
	case ev := <-m.Events():
		assert.Equal(t, websocket.EventExecutionReport, ev.Kind)
		require.NotNil(t, ev.ExecutionReport)
		assert.Equal(t, "order-1", ev.ExecutionReport.ClientOrderID)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for forwarded event")
	}
}

func TestManagerKeepsKeyAlive(t *testing.T) {
	mock := websocket.NewMockServer()
	t.Cleanup(mock.Close)

	source := &fakeTokenSource{}
	m := NewManager(source, testConfig(mock.URL()))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return source.KeepaliveCalls() >= 2 },
		5*time.Second, 10*time.Millisecond)

	// Successful refreshes never replace the key.
	assert.Equal(t, 1, source.StartCalls())
	assert.Equal(t, "key-1", m.ListenKey())
	assert.Equal(t, "key-1", source.LastKeepalive())
}

func TestManagerRotatesKeyOnRefreshFailure(t *testing.T) {
	mock := websocket.NewMockServer()
	t.Cleanup(mock.Close)

	source := &fakeTokenSource{keepaliveErrs: 1}
	m := NewManager(source, testConfig(mock.URL()))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	// The failed refresh requests a replacement key.
	require.Eventually(t, func() bool { return m.ListenKey() == "key-2" },
		5*time.Second, 10*time.Millisecond)

	// The stream re-opens with the new key, never the stale one.
	require.Eventually(t, func() bool {
		paths := mock.Paths()
		return len(paths) >= 2 && paths[len(paths)-1] == "/ws/key-2"
	}, 5*time.Second, 10*time.Millisecond)

	// Subsequent refreshes target the new key.
	require.Eventually(t, func() bool { return source.LastKeepalive() == "key-2" },
		5*time.Second, 10*time.Millisecond)
}

func TestManagerStopRevokesKey(t *testing.T) {
	mock := websocket.NewMockServer()
	t.Cleanup(mock.Close)

	source := &fakeTokenSource{}
	m := NewManager(source, testConfig(mock.URL()))
	require.NoError(t, m.Start(context.Background()))

	m.Stop()
	m.Stop()

	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for manager to stop")
	}

	assert.Equal(t, []string{"key-1"}, source.ClosedKeys())

	_, open := <-m.Events()
	assert.False(t, open)
}
