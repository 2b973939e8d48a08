package market

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceLevelJSON(t *testing.T) {
	t.Run("Unmarshal", func(t *testing.T) {
		var l PriceLevel
		err := json.Unmarshal([]byte(`["50123.45","0.75"]`), &l)
		require.NoError(t, err)
		assert.Equal(t, 50123.45, l.Price)
		assert.Equal(t, 0.75, l.Quantity)
	})

	t.Run("UnmarshalInvalid", func(t *testing.T) {
		var l PriceLevel
		assert.Error(t, json.Unmarshal([]byte(`["abc","0.75"]`), &l))
		assert.Error(t, json.Unmarshal([]byte(`["50123.45"]`), &l))
	})

	t.Run("RoundTrip", func(t *testing.T) {
		in := PriceLevel{Price: 101.5, Quantity: 2}
		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out PriceLevel
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, in, out)
	})
}

func TestOrderBookUnmarshal(t *testing.T) {
	payload := []byte(`{
		"lastUpdateId": 160,
		"bids": [["0.0024","14.70"],["0.0022","6.40"]],
		"asks": [["0.0026","100.00"]]
	}`)

	var book OrderBook
	require.NoError(t, json.Unmarshal(payload, &book))
	assert.Equal(t, uint64(160), book.LastUpdateID)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, 0.0024, book.Bids[0].Price)
	assert.Equal(t, 100.0, book.Asks[0].Quantity)
}

func TestOrderBookBest(t *testing.T) {
	book := OrderBook{
		Bids: []PriceLevel{{Price: 10, Quantity: 1}, {Price: 9, Quantity: 2}},
		Asks: []PriceLevel{{Price: 11, Quantity: 1}, {Price: 12, Quantity: 2}},
	}

	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, 10.0, bid.Price)

	ask, ok := book.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 11.0, ask.Price)

	empty := OrderBook{}
	_, ok = empty.BestBid()
	assert.False(t, ok)
	_, ok = empty.BestAsk()
	assert.False(t, ok)
}

func TestDepthUpdateUnmarshal(t *testing.T) {
	payload := []byte(`{
		"e": "depthUpdate",
		"E": 1568014460893,
		"s": "BTCUSDT",
		"U": 157,
		"u": 160,
		"b": [["0.0024","10"]],
		"a": [["0.0026","0"]]
	}`)

	var u DepthUpdate
	require.NoError(t, json.Unmarshal(payload, &u))
	assert.Equal(t, "BTCUSDT", u.Symbol)
	assert.Equal(t, uint64(157), u.FirstUpdateID)
	assert.Equal(t, uint64(160), u.FinalUpdateID)
	require.Len(t, u.Bids, 1)
	require.Len(t, u.Asks, 1)
	assert.Equal(t, 0.0, u.Asks[0].Quantity)

	expected := time.UnixMilli(1568014460893)
	assert.Equal(t, expected, u.Time())
}

func TestSymbolError(t *testing.T) {
	cause := errors.New("boom")
	err := NewSymbolError("BTCUSDT", "snapshot fetch failed", cause)

	assert.Contains(t, err.Error(), "BTCUSDT")
	assert.Contains(t, err.Error(), "snapshot fetch failed")
	assert.True(t, errors.Is(err, cause))
}
