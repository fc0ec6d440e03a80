// Package schema defines the canonical order, session and reporting types shared by the router.
package schema

import (
	"strings"
)

// Side captures the direction of an order.
type Side string

const (
	// SideBuy indicates a buy order.
	SideBuy Side = "BUY"
	// SideSell indicates a sell order.
	SideSell Side = "SELL"
)

// NormalizeSide uppercases and validates a free-text side. Unknown values return "".
func NormalizeSide(raw string) Side {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "B":
		return SideBuy
	case "SELL", "S":
		return SideSell
	default:
		return ""
	}
}

// Opposite returns the side that closes exposure opened by s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType enumerates the operator order types.
type OrderType string

const (
	// OrderTypeMarket represents market orders.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit represents limit orders.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeStopLoss represents stop-loss limit orders.
	OrderTypeStopLoss OrderType = "SL"
	// OrderTypeStopLossMarket represents stop-loss market orders.
	OrderTypeStopLossMarket OrderType = "SL-M"
)

// NormalizeOrderType uppercases the raw order type and folds common aliases.
func NormalizeOrderType(raw string) OrderType {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	switch upper {
	case "STOP_LOSS", "STOPLOSS":
		return OrderTypeStopLoss
	case "STOP_LOSS_MARKET", "SLM", "SL_M":
		return OrderTypeStopLossMarket
	}
	return OrderType(upper)
}

// IsStopLoss reports whether the type is any stop-loss variant.
func (t OrderType) IsStopLoss() bool {
	return strings.Contains(string(t), "SL")
}

// QuantityMode selects how per-account quantity is derived from an instruction.
type QuantityMode string

const (
	// QuantityManual uses the instruction's base quantity for every account.
	QuantityManual QuantityMode = "MANUAL"
	// QuantityPerAccount uses an explicit per-account (or per-group) override.
	QuantityPerAccount QuantityMode = "PER_ACCOUNT_OVERRIDE"
	// QuantityGroupMultiplier scales the base quantity by the group multiplier.
	QuantityGroupMultiplier QuantityMode = "GROUP_MULTIPLIER"
	// QuantityAuto delegates sizing to an external function.
	QuantityAuto QuantityMode = "AUTO"
)

// NormalizeQuantityMode maps operator spellings onto a QuantityMode, defaulting to MANUAL.
func NormalizeQuantityMode(raw string) QuantityMode {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PER_ACCOUNT_OVERRIDE", "PER_ACCOUNT", "DIFF", "DIFFQTY":
		return QuantityPerAccount
	case "GROUP_MULTIPLIER", "MULTIPLIER":
		return QuantityGroupMultiplier
	case "AUTO":
		return QuantityAuto
	default:
		return QuantityManual
	}
}

// TargetSet names the accounts an instruction fans out to. When Groups is
// non-empty the flat Accounts list is ignored.
type TargetSet struct {
	Accounts []string `json:"accounts,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// Instruction is one operator request before expansion into per-account intents.
type Instruction struct {
	Instrument    InstrumentRef  `json:"instrument"`
	Action        Side           `json:"action"`
	OrderType     OrderType      `json:"order_type"`
	ProductType   string         `json:"product_type"`
	Validity      string         `json:"validity"`
	Price         float64        `json:"price"`
	TriggerPrice  float64        `json:"trigger_price"`
	DisclosedQty  int            `json:"disclosed_qty"`
	AMO           bool           `json:"amo"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	QuantityMode  QuantityMode   `json:"quantity_mode"`
	Quantity      int            `json:"quantity"`
	Targets       TargetSet      `json:"targets"`
	PerAccountQty map[string]int `json:"per_account_qty,omitempty"`
	PerGroupQty   map[string]int `json:"per_group_qty,omitempty"`
}

// OrderIntent is one resolved order for exactly one account. Intents are
// built once by the resolver and never mutated afterwards.
type OrderIntent struct {
	AccountID     string        `json:"account_id"`
	Broker        string        `json:"broker"`
	Tag           string        `json:"tag"`
	Action        Side          `json:"action"`
	OrderType     OrderType     `json:"order_type"`
	ProductType   string        `json:"product_type"`
	Validity      string        `json:"validity"`
	Exchange      string        `json:"exchange"`
	Price         float64       `json:"price"`
	TriggerPrice  float64       `json:"trigger_price"`
	DisclosedQty  int           `json:"disclosed_qty"`
	IsAMO         bool          `json:"is_amo"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Quantity      int           `json:"quantity"`
	Instrument    InstrumentRef `json:"instrument"`
}

// TagSquareOff marks intents that flatten an existing position.
const TagSquareOff = "SQUAREOFF"

// Key returns the result-map key for the intent.
func (o OrderIntent) Key() string {
	return ResultKey(o.Tag, o.AccountID)
}

// ResultKey builds the "tag:account_id" key used by dispatch aggregates.
func ResultKey(tag, accountID string) string {
	return tag + ":" + accountID
}

// ModifyDelta carries the fields an operator wants to change on a resting order.
// Zero values mean "leave unchanged" except OrderType, which brokers require.
type ModifyDelta struct {
	OrderType OrderType `json:"order_type"`
	// Quantity is in the broker's native unit (shares for Dhan, lots for
	// Motilal) and is passed through without lot-size conversion, matching
	// the quantities the order book reports.
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
	TriggerPrice float64 `json:"trigger_price"`
	DisclosedQty int     `json:"disclosed_qty"`
	Validity     string  `json:"validity"`
}
