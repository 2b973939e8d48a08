package websocket

import (
	"fmt"
	"strings"
)

// DefaultEndpoint is the production WebSocket endpoint.
const DefaultEndpoint = "wss://stream.binance.com:9443"

// DepthStream returns the diff depth stream name for a symbol. When fast is
// true the 100ms update speed variant is used instead of 1000ms.
func DepthStream(symbol string, fast bool) string {
	name := strings.ToLower(symbol) + "@depth"
	if fast {
		name += "@100ms"
	}
	return name
}

// PartialDepthStream returns the partial book depth stream name for a
// symbol. Valid levels are 5, 10 and 20.
func PartialDepthStream(symbol string, levels int, fast bool) string {
	name := fmt.Sprintf("%s@depth%d", strings.ToLower(symbol), levels)
	if fast {
		name += "@100ms"
	}
	return name
}

// AggTradeStream returns the aggregate trade stream name for a symbol.
func AggTradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@aggTrade"
}

// TradeStream returns the raw trade stream name for a symbol.
func TradeStream(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

// KlineStream returns the candlestick stream name for a symbol and interval
// (e.g. "1m", "1h", "1d").
func KlineStream(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
}

// MiniTickerStream returns the mini ticker stream name for a symbol.
func MiniTickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@miniTicker"
}

// AllMiniTickersStream returns the mini ticker stream for all symbols.
func AllMiniTickersStream() string {
	return "!miniTicker@arr"
}

// TickerStream returns the 24hr ticker stream name for a symbol.
func TickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@ticker"
}

// AllTickersStream returns the 24hr ticker stream for all symbols.
func AllTickersStream() string {
	return "!ticker@arr"
}

// BookTickerStream returns the best bid/ask stream name for a symbol.
func BookTickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}

// SingleStreamURL builds the URL for one raw stream on an endpoint.
func SingleStreamURL(endpoint, stream string) string {
	return endpoint + "/ws/" + stream
}

// CombinedStreamURL builds the URL for a combined subscription of several
// streams. Events arrive wrapped in a {"stream","data"} envelope, which
// ParseEvent unwraps.
func CombinedStreamURL(endpoint string, streams []string) string {
	return endpoint + "/stream?streams=" + strings.Join(streams, "/")
}

// UserStreamURL builds the URL for a user data stream from a listen key.
func UserStreamURL(endpoint, listenKey string) string {
	return endpoint + "/ws/" + listenKey
}
