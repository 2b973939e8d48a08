// Package depthcache maintains a local order book synchronized against an
// exchange depth stream. DepthCache holds the book itself; Manager drives
// the snapshot-plus-diff synchronization protocol that keeps it consistent.
package depthcache

import (
	"sort"
	"time"

	"github.com/dcompoze/binance-api-client/pkg/market"
)

// side is one side of the book: quantity by price plus a sorted price index
// so ordered reads do not rescan the map.
type side struct {
	levels map[float64]float64
	prices []float64 // ascending
}

func newSide() side {
	return side{levels: make(map[float64]float64)}
}

func (s *side) set(price, qty float64) {
	_, exists := s.levels[price]
	if qty == 0 {
		if exists {
			delete(s.levels, price)
			i := sort.SearchFloat64s(s.prices, price)
			s.prices = append(s.prices[:i], s.prices[i+1:]...)
		}
		return
	}
	s.levels[price] = qty
	if !exists {
		i := sort.SearchFloat64s(s.prices, price)
		s.prices = append(s.prices, 0)
		copy(s.prices[i+1:], s.prices[i:])
		s.prices[i] = price
	}
}

func (s *side) reset() {
	s.levels = make(map[float64]float64)
	s.prices = s.prices[:0]
}

func (s *side) lowest() (market.PriceLevel, bool) {
	if len(s.prices) == 0 {
		return market.PriceLevel{}, false
	}
	p := s.prices[0]
	return market.PriceLevel{Price: p, Quantity: s.levels[p]}, true
}

func (s *side) highest() (market.PriceLevel, bool) {
	if len(s.prices) == 0 {
		return market.PriceLevel{}, false
	}
	p := s.prices[len(s.prices)-1]
	return market.PriceLevel{Price: p, Quantity: s.levels[p]}, true
}

// ascending returns up to n levels from the lowest price up; n <= 0 means
// all levels.
func (s *side) ascending(n int) []market.PriceLevel {
	if n <= 0 || n > len(s.prices) {
		n = len(s.prices)
	}
	out := make([]market.PriceLevel, 0, n)
	for _, p := range s.prices[:n] {
		out = append(out, market.PriceLevel{Price: p, Quantity: s.levels[p]})
	}
	return out
}

// descending returns up to n levels from the highest price down.
func (s *side) descending(n int) []market.PriceLevel {
	if n <= 0 || n > len(s.prices) {
		n = len(s.prices)
	}
	out := make([]market.PriceLevel, 0, n)
	for i := len(s.prices) - 1; i >= len(s.prices)-n; i-- {
		p := s.prices[i]
		out = append(out, market.PriceLevel{Price: p, Quantity: s.levels[p]})
	}
	return out
}

func (s *side) totalVolume() float64 {
	var total float64
	for _, q := range s.levels {
		total += q
	}
	return total
}

// DepthCache is a local order book for a single symbol. It is not safe for
// concurrent use; Manager serializes all access to it.
type DepthCache struct {
	symbol       string
	bids         side
	asks         side
	lastUpdateID uint64
	updateTime   time.Time
}

// NewDepthCache returns an empty cache for symbol.
func NewDepthCache(symbol string) *DepthCache {
	return &DepthCache{
		symbol: symbol,
		bids:   newSide(),
		asks:   newSide(),
	}
}

// Symbol returns the symbol this cache tracks.
func (c *DepthCache) Symbol() string {
	return c.symbol
}

// LastUpdateID returns the identifier of the last update applied, zero for
// an uninitialized cache.
func (c *DepthCache) LastUpdateID() uint64 {
	return c.lastUpdateID
}

// UpdateTime returns the event time of the last applied diff, or the local
// snapshot time if only a snapshot has been applied.
func (c *DepthCache) UpdateTime() time.Time {
	return c.updateTime
}

// InitFromSnapshot discards any current contents and loads the cache from a
// full book snapshot. Zero-quantity levels in the snapshot are dropped.
func (c *DepthCache) InitFromSnapshot(book *market.OrderBook) {
	c.bids.reset()
	c.asks.reset()
	for _, l := range book.Bids {
		c.bids.set(l.Price, l.Quantity)
	}
	for _, l := range book.Asks {
		c.asks.set(l.Price, l.Quantity)
	}
	c.lastUpdateID = book.LastUpdateID
	c.updateTime = time.Now()
}

// Apply merges a depth diff into the book. It returns false without
// modifying anything when the diff is stale (FinalUpdateID at or before the
// cursor) or leaves a gap (FirstUpdateID beyond cursor+1); callers decide
// which of the two occurred by comparing against LastUpdateID.
//
// A quantity is an absolute replacement for its level, never a delta, so
// overlapping diffs apply cleanly.
func (c *DepthCache) Apply(update *market.DepthUpdate) bool {
	if update.FinalUpdateID <= c.lastUpdateID {
		return false
	}
	if update.FirstUpdateID > c.lastUpdateID+1 {
		return false
	}
	for _, l := range update.Bids {
		c.bids.set(l.Price, l.Quantity)
	}
	for _, l := range update.Asks {
		c.asks.set(l.Price, l.Quantity)
	}
	c.lastUpdateID = update.FinalUpdateID
	c.updateTime = update.Time()
	return true
}

// BestBid returns the highest bid, reporting false on an empty side.
func (c *DepthCache) BestBid() (market.PriceLevel, bool) {
	return c.bids.highest()
}

// BestAsk returns the lowest ask, reporting false on an empty side.
func (c *DepthCache) BestAsk() (market.PriceLevel, bool) {
	return c.asks.lowest()
}

// Spread returns best ask minus best bid. It reports false unless both
// sides are populated.
func (c *DepthCache) Spread() (float64, bool) {
	bid, okB := c.BestBid()
	ask, okA := c.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// MidPrice returns the midpoint between best bid and best ask. It reports
// false unless both sides are populated.
func (c *DepthCache) MidPrice() (float64, bool) {
	bid, okB := c.BestBid()
	ask, okA := c.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Bids returns all bid levels ordered from best (highest price) down.
func (c *DepthCache) Bids() []market.PriceLevel {
	return c.bids.descending(0)
}

// Asks returns all ask levels ordered from best (lowest price) up.
func (c *DepthCache) Asks() []market.PriceLevel {
	return c.asks.ascending(0)
}

// TopBids returns up to n bid levels from the best down.
func (c *DepthCache) TopBids(n int) []market.PriceLevel {
	return c.bids.descending(n)
}

// TopAsks returns up to n ask levels from the best up.
func (c *DepthCache) TopAsks(n int) []market.PriceLevel {
	return c.asks.ascending(n)
}

// TotalBidVolume returns the summed quantity across all bid levels.
func (c *DepthCache) TotalBidVolume() float64 {
	return c.bids.totalVolume()
}

// TotalAskVolume returns the summed quantity across all ask levels.
func (c *DepthCache) TotalAskVolume() float64 {
	return c.asks.totalVolume()
}

// Snapshot renders the current book contents as an OrderBook, bids best
// first and asks best first.
func (c *DepthCache) Snapshot() *market.OrderBook {
	return &market.OrderBook{
		Symbol:       c.symbol,
		LastUpdateID: c.lastUpdateID,
		Bids:         c.Bids(),
		Asks:         c.Asks(),
	}
}

// Clone returns an independent deep copy of the cache.
func (c *DepthCache) Clone() *DepthCache {
	clone := NewDepthCache(c.symbol)
	clone.lastUpdateID = c.lastUpdateID
	clone.updateTime = c.updateTime
	for p, q := range c.bids.levels {
		clone.bids.levels[p] = q
	}
	clone.bids.prices = append([]float64(nil), c.bids.prices...)
	for p, q := range c.asks.levels {
		clone.asks.levels[p] = q
	}
	clone.asks.prices = append([]float64(nil), c.asks.prices...)
	return clone
}
