package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/market"
)

func TestConnReadEvent(t *testing.T) {
	mock := setupMockServer(t)

	conn, err := Dial(context.Background(), mock.URL(), logging.Nop())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return mock.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)
	mock.Broadcast([]byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":2,"u":3,"b":[["10","1"]],"a":[]}`))

	ev, err := conn.ReadEvent(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, EventDepthUpdate, ev.Kind)
	require.NotNil(t, ev.DepthUpdate)
	assert.Equal(t, uint64(3), ev.DepthUpdate.FinalUpdateID)
}

func TestConnSkipsMalformedFrames(t *testing.T) {
	mock := setupMockServer(t)

	conn, err := Dial(context.Background(), mock.URL(), logging.Nop())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return mock.ConnectionCount() == 1 },
		time.Second, 10*time.Millisecond)
	mock.Broadcast([]byte(`{not valid json`))
	mock.Broadcast([]byte(`{"e":"aggTrade","E":1,"s":"BTCUSDT","a":1,"p":"10","q":"1"}`))

	ev, err := conn.ReadEvent(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, EventAggTrade, ev.Kind)
}

func TestConnReadTimeout(t *testing.T) {
	mock := setupMockServer(t)

	conn, err := Dial(context.Background(), mock.URL(), logging.Nop())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadEvent(100 * time.Millisecond)
	assert.Error(t, err)
}

func TestConnPing(t *testing.T) {
	mock := setupMockServer(t)

	conn, err := Dial(context.Background(), mock.URL(), logging.Nop())
	require.NoError(t, err)
	defer conn.Close()

	assert.NoError(t, conn.Ping())
}

func TestConnCloseIdempotent(t *testing.T) {
	mock := setupMockServer(t)

	conn, err := Dial(context.Background(), mock.URL(), logging.Nop())
	require.NoError(t, err)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	assert.ErrorIs(t, conn.Ping(), market.ErrNotConnected)
	_, err = conn.ReadEvent(time.Second)
	assert.ErrorIs(t, err, market.ErrNotConnected)
}

func TestDialFailure(t *testing.T) {
	mock := setupMockServer(t)
	mock.SetRejectConnections(true)

	_, err := Dial(context.Background(), mock.URL(), logging.Nop())
	assert.Error(t, err)
}
