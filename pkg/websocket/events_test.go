package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	t.Run("DepthUpdate", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{
			"e": "depthUpdate",
			"E": 1568014460893,
			"s": "BTCUSDT",
			"U": 157,
			"u": 160,
			"b": [["0.0024","10"]],
			"a": [["0.0026","100"]]
		}`))
		require.NoError(t, err)
		assert.Equal(t, EventDepthUpdate, ev.Kind)
		require.NotNil(t, ev.DepthUpdate)
		assert.Equal(t, "BTCUSDT", ev.DepthUpdate.Symbol)
		assert.Equal(t, uint64(157), ev.DepthUpdate.FirstUpdateID)
		assert.Equal(t, uint64(160), ev.DepthUpdate.FinalUpdateID)
	})

	t.Run("AggTrade", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{
			"e": "aggTrade",
			"E": 1672515782136,
			"s": "BNBBTC",
			"a": 12345,
			"p": "0.001",
			"q": "100",
			"f": 100,
			"l": 105,
			"T": 1672515782136,
			"m": true
		}`))
		require.NoError(t, err)
		assert.Equal(t, EventAggTrade, ev.Kind)
		require.NotNil(t, ev.AggTrade)
		assert.Equal(t, "0.001", ev.AggTrade.Price)
		assert.True(t, ev.AggTrade.IsBuyerMaker)
	})

	t.Run("CombinedStreamEnvelope", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{
			"stream": "btcusdt@depth",
			"data": {"e":"depthUpdate","E":1,"s":"BTCUSDT","U":2,"u":3,"b":[],"a":[]}
		}`))
		require.NoError(t, err)
		assert.Equal(t, EventDepthUpdate, ev.Kind)
		require.NotNil(t, ev.DepthUpdate)
		assert.Equal(t, uint64(3), ev.DepthUpdate.FinalUpdateID)
	})

	t.Run("ExecutionReport", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{
			"e": "executionReport",
			"E": 1499405658658,
			"s": "ETHBTC",
			"c": "order-1",
			"S": "BUY",
			"o": "LIMIT",
			"q": "1.00000000",
			"p": "0.10264410",
			"x": "NEW",
			"X": "NEW"
		}`))
		require.NoError(t, err)
		assert.Equal(t, EventExecutionReport, ev.Kind)
		require.NotNil(t, ev.ExecutionReport)
		assert.Equal(t, "order-1", ev.ExecutionReport.ClientOrderID)
		assert.Equal(t, "NEW", ev.ExecutionReport.OrderStatus)
	})

	t.Run("UnknownType", func(t *testing.T) {
		raw := []byte(`{"e":"somethingNew","E":1}`)
		ev, err := ParseEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, EventUnknown, ev.Kind)
		assert.JSONEq(t, string(raw), string(ev.Raw))
	})

	t.Run("MissingTypeField", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"result":null,"id":1}`))
		require.NoError(t, err)
		assert.Equal(t, EventUnknown, ev.Kind)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{not json`))
		assert.Error(t, err)
	})
}

func TestStreamNames(t *testing.T) {
	assert.Equal(t, "btcusdt@depth", DepthStream("BTCUSDT", false))
	assert.Equal(t, "btcusdt@depth@100ms", DepthStream("BTCUSDT", true))
	assert.Equal(t, "ethusdt@aggTrade", AggTradeStream("ETHUSDT"))
	assert.Equal(t, "btcusdt@kline_1m", KlineStream("BTCUSDT", "1m"))

	assert.Equal(t,
		"wss://stream.binance.com:9443/ws/btcusdt@depth",
		SingleStreamURL(DefaultEndpoint, DepthStream("BTCUSDT", false)),
	)
	assert.Equal(t,
		"wss://stream.binance.com:9443/ws/listen-key-1",
		UserStreamURL(DefaultEndpoint, "listen-key-1"),
	)
}
