package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/dcompoze/binance-api-client/pkg/market"
)

// EventKind identifies the type of an inbound stream event.
type EventKind int

const (
	// EventUnknown is a well-formed frame whose event type is not
	// recognized. The raw payload is preserved on the event.
	EventUnknown EventKind = iota
	EventDepthUpdate
	EventAggTrade
	EventTrade
	EventKline
	EventMiniTicker
	EventTicker
	EventBookTicker
	EventExecutionReport
	EventAccountPosition
	EventBalanceUpdate
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventDepthUpdate:
		return "depthUpdate"
	case EventAggTrade:
		return "aggTrade"
	case EventTrade:
		return "trade"
	case EventKline:
		return "kline"
	case EventMiniTicker:
		return "24hrMiniTicker"
	case EventTicker:
		return "24hrTicker"
	case EventBookTicker:
		return "bookTicker"
	case EventExecutionReport:
		return "executionReport"
	case EventAccountPosition:
		return "outboundAccountPosition"
	case EventBalanceUpdate:
		return "balanceUpdate"
	default:
		return "unknown"
	}
}

// Event is one decoded stream frame. Exactly the payload field matching Kind
// is set; all others are nil. Unrecognized frames carry Kind EventUnknown
// and the raw payload.
type Event struct {
	Kind EventKind

	DepthUpdate     *market.DepthUpdate
	AggTrade        *AggTrade
	Trade           *Trade
	Kline           *KlineEvent
	MiniTicker      *MiniTicker
	Ticker          *Ticker
	BookTicker      *BookTicker
	ExecutionReport *ExecutionReport
	AccountPosition *AccountPosition
	BalanceUpdate   *BalanceUpdate

	Raw json.RawMessage
}

// AggTrade is an aggregate trade event. Prices and quantities are kept in
// the exchange's decimal-string form.
type AggTrade struct {
	EventTime    uint64 `json:"E"`
	Symbol       string `json:"s"`
	AggTradeID   uint64 `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID uint64 `json:"f"`
	LastTradeID  uint64 `json:"l"`
	TradeTime    uint64 `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// Trade is a raw trade event.
type Trade struct {
	EventTime    uint64 `json:"E"`
	Symbol       string `json:"s"`
	TradeID      uint64 `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    uint64 `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// Kline is the candlestick payload nested inside a kline event.
type Kline struct {
	StartTime uint64 `json:"t"`
	CloseTime uint64 `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Trades    uint64 `json:"n"`
	IsFinal   bool   `json:"x"`
}

// KlineEvent is a candlestick update event.
type KlineEvent struct {
	EventTime uint64 `json:"E"`
	Symbol    string `json:"s"`
	Kline     Kline  `json:"k"`
}

// MiniTicker is a compact 24hr rolling window ticker event.
type MiniTicker struct {
	EventTime   uint64 `json:"E"`
	Symbol      string `json:"s"`
	ClosePrice  string `json:"c"`
	OpenPrice   string `json:"o"`
	HighPrice   string `json:"h"`
	LowPrice    string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
}

// Ticker is a full 24hr rolling window ticker event.
type Ticker struct {
	EventTime          uint64 `json:"E"`
	Symbol             string `json:"s"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	LastPrice          string `json:"c"`
	BestBidPrice       string `json:"b"`
	BestBidQuantity    string `json:"B"`
	BestAskPrice       string `json:"a"`
	BestAskQuantity    string `json:"A"`
	OpenPrice          string `json:"o"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
}

// BookTicker is a best bid/ask update event.
type BookTicker struct {
	UpdateID    uint64 `json:"u"`
	Symbol      string `json:"s"`
	BidPrice    string `json:"b"`
	BidQuantity string `json:"B"`
	AskPrice    string `json:"a"`
	AskQuantity string `json:"A"`
}

// ExecutionReport is an order update from the user data stream.
type ExecutionReport struct {
	EventTime        uint64 `json:"E"`
	Symbol           string `json:"s"`
	ClientOrderID    string `json:"c"`
	Side             string `json:"S"`
	OrderType        string `json:"o"`
	OrderQuantity    string `json:"q"`
	OrderPrice       string `json:"p"`
	ExecutionType    string `json:"x"`
	OrderStatus      string `json:"X"`
	OrderID          uint64 `json:"i"`
	FilledQuantity   string `json:"z"`
	LastFilledPrice  string `json:"L"`
	CommissionAmount string `json:"n"`
	TransactionTime  uint64 `json:"T"`
}

// Balance is one asset balance inside an account position event.
type Balance struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

// AccountPosition is an account balance update from the user data stream.
type AccountPosition struct {
	EventTime      uint64    `json:"E"`
	LastUpdateTime uint64    `json:"u"`
	Balances       []Balance `json:"B"`
}

// BalanceUpdate is a single-asset balance delta from the user data stream.
type BalanceUpdate struct {
	EventTime    uint64 `json:"E"`
	Asset        string `json:"a"`
	BalanceDelta string `json:"d"`
	ClearTime    uint64 `json:"T"`
}

// combinedStreamMessage is the wrapper used by combined stream endpoints.
type combinedStreamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// ParseEvent decodes one raw frame into an Event. Combined stream wrappers
// are unwrapped transparently. A frame that is valid JSON but has no
// recognized event type yields Kind EventUnknown; invalid JSON is an error
// and should be skipped by the caller.
func ParseEvent(data []byte) (Event, error) {
	var combined combinedStreamMessage
	if err := json.Unmarshal(data, &combined); err == nil && combined.Stream != "" && len(combined.Data) > 0 {
		data = combined.Data
	}

	var header struct {
		Type string `json:"e"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}

	decode := func(v interface{}) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parse %s event: %w", header.Type, err)
		}
		return nil
	}

	switch header.Type {
	case "depthUpdate":
		ev := &market.DepthUpdate{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventDepthUpdate, DepthUpdate: ev}, nil
	case "aggTrade":
		ev := &AggTrade{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventAggTrade, AggTrade: ev}, nil
	case "trade":
		ev := &Trade{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventTrade, Trade: ev}, nil
	case "kline":
		ev := &KlineEvent{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventKline, Kline: ev}, nil
	case "24hrMiniTicker":
		ev := &MiniTicker{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventMiniTicker, MiniTicker: ev}, nil
	case "24hrTicker":
		ev := &Ticker{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventTicker, Ticker: ev}, nil
	case "bookTicker":
		ev := &BookTicker{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventBookTicker, BookTicker: ev}, nil
	case "executionReport":
		ev := &ExecutionReport{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventExecutionReport, ExecutionReport: ev}, nil
	case "outboundAccountPosition":
		ev := &AccountPosition{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventAccountPosition, AccountPosition: ev}, nil
	case "balanceUpdate":
		ev := &BalanceUpdate{}
		if err := decode(ev); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventBalanceUpdate, BalanceUpdate: ev}, nil
	default:
		return Event{Kind: EventUnknown, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
