// Package normalize maps broker-native order, position and holding rows onto
// the canonical shapes the router aggregates.
package normalize

import (
	"strings"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// ClassifyStatus buckets a free-text broker status. Checks run in a fixed
// order and the first match wins, so "rejected - cancelled by user" is
// REJECTED.
func ClassifyStatus(native string) schema.StatusBucket {
	s := strings.ToLower(strings.TrimSpace(native))
	switch {
	case containsAny(s, "pend", "confirm", "open"):
		return schema.StatusPending
	case containsAny(s, "trade", "execut") || s == "executed":
		return schema.StatusTraded
	case containsAny(s, "reject", "error"):
		return schema.StatusRejected
	case strings.Contains(s, "cancel"):
		return schema.StatusCancelled
	default:
		return schema.StatusOther
	}
}

// Orders converts one account's order book into canonical rows grouped by bucket.
func Orders(account schema.AccountRecord, broker string, rows []schema.NativeOrder) schema.OrderBook {
	var book schema.OrderBook
	for _, row := range rows {
		book.Add(schema.CanonicalOrderRow{
			AccountName:   account.Name(),
			Broker:        broker,
			Symbol:        row.Symbol,
			Side:          strings.ToUpper(strings.TrimSpace(row.Side)),
			Quantity:      row.Quantity,
			Price:         row.Price,
			Status:        ClassifyStatus(row.Status),
			NativeStatus:  row.Status,
			BrokerOrderID: row.OrderID,
		})
	}
	return book
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
