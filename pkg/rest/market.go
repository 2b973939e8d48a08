package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dcompoze/binance-api-client/pkg/market"
)

const apiV3Depth = "/api/v3/depth"

// MarketService provides the public market data endpoints.
type MarketService struct {
	c *Client
}

// Depth fetches an order book snapshot for symbol. A limit of 0 uses the
// exchange default; valid limits are 5, 10, 20, 50, 100, 500, 1000 and 5000.
//
// The returned snapshot carries the terminal sequence number
// (LastUpdateID) needed to chain incremental depth updates onto it.
func (s *MarketService) Depth(ctx context.Context, symbol string, limit int) (*market.OrderBook, error) {
	if symbol == "" {
		return nil, market.ErrInvalidSymbol
	}
	symbol = strings.ToUpper(symbol)

	query := url.Values{"symbol": {symbol}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var book market.OrderBook
	if err := s.c.do(ctx, http.MethodGet, apiV3Depth, query, &book); err != nil {
		return nil, market.NewSymbolError(symbol, "depth snapshot failed", err)
	}
	book.Symbol = symbol
	return &book, nil
}
