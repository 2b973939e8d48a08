// Package market defines the domain types shared by the REST and WebSocket
// layers: order book snapshots, incremental depth updates, and the common
// error taxonomy.
package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PriceLevel is a single price/quantity entry on one side of an order book.
// A quantity of zero is a removal marker in depth updates and never a real
// resting level.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// UnmarshalJSON decodes the exchange's ["price","quantity"] tuple form.
func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var raw [2]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("price level: %w", err)
	}
	price, err := strconv.ParseFloat(raw[0], 64)
	if err != nil {
		return fmt.Errorf("price level: invalid price %q: %w", raw[0], err)
	}
	qty, err := strconv.ParseFloat(raw[1], 64)
	if err != nil {
		return fmt.Errorf("price level: invalid quantity %q: %w", raw[1], err)
	}
	l.Price = price
	l.Quantity = qty
	return nil
}

// MarshalJSON encodes the level back into the exchange's tuple form.
func (l PriceLevel) MarshalJSON() ([]byte, error) {
	raw := [2]string{
		strconv.FormatFloat(l.Price, 'f', -1, 64),
		strconv.FormatFloat(l.Quantity, 'f', -1, 64),
	}
	return json.Marshal(raw)
}

// OrderBook is a full order book snapshot as returned by the REST depth
// endpoint. Bids are sorted descending by price, asks ascending.
type OrderBook struct {
	Symbol       string       `json:"-"`
	LastUpdateID uint64       `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// BestBid returns the highest bid level, or false if the bid side is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if the ask side is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// DepthUpdate is one incremental diff from the depth stream. It covers the
// inclusive event ID range [FirstUpdateID, FinalUpdateID] and chains onto a
// local book whose cursor is FirstUpdateID-1 or later.
type DepthUpdate struct {
	EventTime     uint64       `json:"E"`
	Symbol        string       `json:"s"`
	FirstUpdateID uint64       `json:"U"`
	FinalUpdateID uint64       `json:"u"`
	Bids          []PriceLevel `json:"b"`
	Asks          []PriceLevel `json:"a"`
}

// Time returns the exchange event time, or the zero time if unset.
func (u *DepthUpdate) Time() time.Time {
	if u.EventTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(u.EventTime))
}
