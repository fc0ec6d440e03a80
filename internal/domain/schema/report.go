package schema

import (
	json "github.com/goccy/go-json"
)

// Ack is a broker's acknowledgement of a place, cancel or modify request.
type Ack struct {
	OrderID    string          `json:"order_id,omitempty"`
	Status     string          `json:"status,omitempty"`
	Message    string          `json:"message,omitempty"`
	HTTPStatus int             `json:"http_status,omitempty"`
	Success    bool            `json:"success"`
	Empty      bool            `json:"empty,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// NativeOrder is one order-book row as the broker reports it. Status keeps the
// vendor's free text.
type NativeOrder struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Status   string  `json:"status"`
}

// NativePosition is one position row as the broker reports it.
type NativePosition struct {
	Symbol      string        `json:"symbol"`
	Instrument  InstrumentRef `json:"instrument"`
	ProductType string        `json:"product_type"`
	BuyQty      int           `json:"buy_qty"`
	SellQty     int           `json:"sell_qty"`
	BuyAvg      float64       `json:"buy_avg"`
	SellAvg     float64       `json:"sell_avg"`
	Booked      float64       `json:"booked"`
	LTP         float64       `json:"ltp"`
	// Unrealized is the broker's own mark-to-market when it reports one and no LTP.
	Unrealized *float64 `json:"unrealized,omitempty"`
}

// NetQty is buy minus sell quantity.
func (p NativePosition) NetQty() int {
	return p.BuyQty - p.SellQty
}

// NativeHolding is one demat holding row as the broker reports it.
type NativeHolding struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	BuyAvg   float64 `json:"buy_avg"`
	LTP      float64 `json:"ltp"`
}

// StatusBucket is the canonical order status.
type StatusBucket string

const (
	// StatusPending covers open, pending and confirmed orders.
	StatusPending StatusBucket = "PENDING"
	// StatusTraded covers executed orders.
	StatusTraded StatusBucket = "TRADED"
	// StatusRejected covers rejected and errored orders.
	StatusRejected StatusBucket = "REJECTED"
	// StatusCancelled covers cancelled orders.
	StatusCancelled StatusBucket = "CANCELLED"
	// StatusOther is the catch-all bucket.
	StatusOther StatusBucket = "OTHER"
)

// CanonicalOrderRow is a normalised order-book row.
type CanonicalOrderRow struct {
	AccountName   string       `json:"name"`
	Broker        string       `json:"broker"`
	Symbol        string       `json:"symbol"`
	Side          string       `json:"side"`
	Quantity      float64      `json:"quantity"`
	Price         float64      `json:"price"`
	Status        StatusBucket `json:"status"`
	NativeStatus  string       `json:"native_status"`
	BrokerOrderID string       `json:"order_id"`
}

// OrderBook groups canonical rows by status bucket.
type OrderBook struct {
	Pending   []CanonicalOrderRow `json:"pending"`
	Traded    []CanonicalOrderRow `json:"traded"`
	Rejected  []CanonicalOrderRow `json:"rejected"`
	Cancelled []CanonicalOrderRow `json:"cancelled"`
	Others    []CanonicalOrderRow `json:"others"`
}

// Add files row under its bucket.
func (b *OrderBook) Add(row CanonicalOrderRow) {
	switch row.Status {
	case StatusPending:
		b.Pending = append(b.Pending, row)
	case StatusTraded:
		b.Traded = append(b.Traded, row)
	case StatusRejected:
		b.Rejected = append(b.Rejected, row)
	case StatusCancelled:
		b.Cancelled = append(b.Cancelled, row)
	default:
		b.Others = append(b.Others, row)
	}
}

// Merge appends every bucket of other.
func (b *OrderBook) Merge(other OrderBook) {
	b.Pending = append(b.Pending, other.Pending...)
	b.Traded = append(b.Traded, other.Traded...)
	b.Rejected = append(b.Rejected, other.Rejected...)
	b.Cancelled = append(b.Cancelled, other.Cancelled...)
	b.Others = append(b.Others, other.Others...)
}

// PositionBucket splits positions into open and closed.
type PositionBucket string

const (
	// PositionOpen has non-zero net quantity.
	PositionOpen PositionBucket = "OPEN"
	// PositionClosed has zero net quantity.
	PositionClosed PositionBucket = "CLOSED"
)

// CanonicalPositionRow is a normalised position row. NetQty always equals BuyQty - SellQty.
type CanonicalPositionRow struct {
	AccountName string         `json:"name"`
	Broker      string         `json:"broker"`
	Symbol      string         `json:"symbol"`
	BuyQty      int            `json:"buy_qty"`
	SellQty     int            `json:"sell_qty"`
	NetQty      int            `json:"quantity"`
	BuyAvg      float64        `json:"buy_avg"`
	SellAvg     float64        `json:"sell_avg"`
	PnL         float64        `json:"net_profit"`
	Bucket      PositionBucket `json:"bucket"`
}

// PositionBook groups positions into open and closed lists.
type PositionBook struct {
	Open   []CanonicalPositionRow `json:"open"`
	Closed []CanonicalPositionRow `json:"closed"`
}

// HoldingRow is a normalised demat holding.
type HoldingRow struct {
	AccountName string  `json:"name"`
	Broker      string  `json:"broker"`
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	BuyAvg      float64 `json:"buy_avg"`
	LTP         float64 `json:"ltp"`
	PnL         float64 `json:"pnl"`
}

// SummaryRow aggregates one account's holdings and funds.
// CurrentValue == Invested + PnL and NetGain == (CurrentValue + AvailableMargin) - Capital.
type SummaryRow struct {
	AccountName     string  `json:"name"`
	Broker          string  `json:"broker"`
	Capital         float64 `json:"capital"`
	Invested        float64 `json:"invested"`
	PnL             float64 `json:"pnl"`
	CurrentValue    float64 `json:"current_value"`
	AvailableMargin float64 `json:"available_margin"`
	NetGain         float64 `json:"net_gain"`
}

// HoldingsReport is the combined holdings listing and per-account summaries.
type HoldingsReport struct {
	Holdings []HoldingRow `json:"holdings"`
	Summary  []SummaryRow `json:"summary"`
}
