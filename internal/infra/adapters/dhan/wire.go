package dhan

import (
	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

type errorBody struct {
	Status       string      `json:"status"`
	ErrorType    string      `json:"errorType"`
	ErrorCode    string      `json:"errorCode"`
	ErrorMessage string      `json:"errorMessage"`
	Message      string      `json:"message"`
	OrderID      shared.Text `json:"orderId"`
	OrderStatus  string      `json:"orderStatus"`
}

func (b errorBody) text() string {
	if b.ErrorMessage != "" {
		return b.ErrorMessage
	}
	return b.Message
}

type orderRow struct {
	OrderID         shared.Text   `json:"orderId"`
	TradingSymbol   string        `json:"tradingSymbol"`
	TransactionType string        `json:"transactionType"`
	Quantity        shared.Number `json:"quantity"`
	Price           shared.Number `json:"price"`
	OrderStatus     string        `json:"orderStatus"`
}

type positionRow struct {
	TradingSymbol    string        `json:"tradingSymbol"`
	SecurityID       shared.Text   `json:"securityId"`
	ExchangeSegment  string        `json:"exchangeSegment"`
	ProductType      string        `json:"productType"`
	BuyQty           shared.Number `json:"buyQty"`
	SellQty          shared.Number `json:"sellQty"`
	NetQty           shared.Number `json:"netQty"`
	BuyAvg           shared.Number `json:"buyAvg"`
	SellAvg          shared.Number `json:"sellAvg"`
	RealizedProfit   shared.Number `json:"realizedProfit"`
	UnrealizedProfit shared.Number `json:"unrealizedProfit"`
}

type holdingRow struct {
	TradingSymbol   string         `json:"tradingSymbol"`
	AvailableQty    *shared.Number `json:"availableQty"`
	TotalQty        shared.Number  `json:"totalQty"`
	AvgCostPrice    shared.Number  `json:"avgCostPrice"`
	LastTradedPrice shared.Number  `json:"lastTradedPrice"`
}

type fundLimit struct {
	// Dhan's documented key carries the misspelling.
	AvailabelBalance *shared.Number `json:"availabelBalance"`
	AvailableBalance shared.Number  `json:"availableBalance"`
}

type placeRequest struct {
	DhanClientID      string  `json:"dhanClientId"`
	CorrelationID     string  `json:"correlationId"`
	TransactionType   string  `json:"transactionType"`
	ExchangeSegment   string  `json:"exchangeSegment"`
	ProductType       string  `json:"productType"`
	OrderType         string  `json:"orderType"`
	Validity          string  `json:"validity"`
	SecurityID        string  `json:"securityId"`
	Quantity          int     `json:"quantity"`
	DisclosedQuantity int     `json:"disclosedQuantity,omitempty"`
	Price             float64 `json:"price"`
	TriggerPrice      float64 `json:"triggerPrice,omitempty"`
	AfterMarketOrder  bool    `json:"afterMarketOrder"`
	AmoTime           string  `json:"amoTime,omitempty"`
}

type modifyRequest struct {
	DhanClientID      string  `json:"dhanClientId"`
	OrderID           string  `json:"orderId"`
	OrderType         string  `json:"orderType"`
	LegName           string  `json:"legName,omitempty"`
	Quantity          int     `json:"quantity,omitempty"`
	Price             float64 `json:"price,omitempty"`
	DisclosedQuantity int     `json:"disclosedQuantity,omitempty"`
	TriggerPrice      float64 `json:"triggerPrice,omitempty"`
	Validity          string  `json:"validity"`
}
