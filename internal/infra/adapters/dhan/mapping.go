package dhan

import (
	"strings"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

var exchangeSegments = map[string]string{
	"NSE":   "NSE_EQ",
	"BSE":   "BSE_EQ",
	"NSEFO": "NSE_FNO",
	"NSECD": "NSE_CURRENCY",
	"MCX":   "MCX_COMM",
	"BSEFO": "BSE_FNO",
	"BSECD": "BSE_CURRENCY",
	"NCDEX": "NCDEX",
}

var productTypes = map[string]string{
	"INTRADAY":  "INTRADAY",
	"MIS":       "INTRADAY",
	"VALUEPLUS": "INTRADAY",
	"DELIVERY":  "CNC",
	"CNC":       "CNC",
	"NORMAL":    "MARGIN",
	"NRML":      "MARGIN",
	"MTF":       "MTF",
}

var orderTypes = map[schema.OrderType]string{
	schema.OrderTypeMarket:         "MARKET",
	schema.OrderTypeLimit:          "LIMIT",
	schema.OrderTypeStopLoss:       "STOP_LOSS",
	schema.OrderTypeStopLossMarket: "STOP_LOSS_MARKET",
}

// exchangeSegment maps an operator exchange code; native segments pass through.
func exchangeSegment(exchange string) string {
	upper := strings.ToUpper(strings.TrimSpace(exchange))
	if upper == "" {
		upper = "NSE"
	}
	if seg, ok := exchangeSegments[upper]; ok {
		return seg
	}
	return upper
}

func productType(product string) string {
	upper := strings.ToUpper(strings.TrimSpace(product))
	if mapped, ok := productTypes[upper]; ok {
		return mapped
	}
	return upper
}

func orderType(t schema.OrderType) string {
	if mapped, ok := orderTypes[t]; ok {
		return mapped
	}
	return string(t)
}

// correlationID builds the default correlation tag from the last four
// characters of the client id, zero padded.
func correlationID(prefix, clientID string) string {
	tail := clientID
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	for len(tail) < 4 {
		tail = "0" + tail
	}
	return prefix + tail
}
