package normalize

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// PositionPnL is booked P&L plus mark-to-market. The MTM leg uses the broker's
// own unrealized figure when it reports one and no LTP; otherwise it marks the
// net exposure against the matching average price.
func PositionPnL(p schema.NativePosition) float64 {
	booked := decimal.NewFromFloat(p.Booked)
	if p.Unrealized != nil && p.LTP == 0 {
		return round2(booked.Add(decimal.NewFromFloat(*p.Unrealized)))
	}
	net := p.NetQty()
	ltp := decimal.NewFromFloat(p.LTP)
	var mtm decimal.Decimal
	switch {
	case net > 0:
		mtm = ltp.Sub(decimal.NewFromFloat(p.BuyAvg)).Mul(decimal.NewFromInt(int64(net)))
	case net < 0:
		mtm = decimal.NewFromFloat(p.SellAvg).Sub(ltp).Mul(decimal.NewFromInt(int64(-net)))
	}
	return round2(booked.Add(mtm))
}

// Positions converts one account's positions into open and closed buckets.
func Positions(account schema.AccountRecord, broker string, rows []schema.NativePosition) schema.PositionBook {
	var book schema.PositionBook
	for _, p := range rows {
		row := schema.CanonicalPositionRow{
			AccountName: account.Name(),
			Broker:      broker,
			Symbol:      p.Symbol,
			BuyQty:      p.BuyQty,
			SellQty:     p.SellQty,
			NetQty:      p.NetQty(),
			BuyAvg:      round2(decimal.NewFromFloat(p.BuyAvg)),
			SellAvg:     round2(decimal.NewFromFloat(p.SellAvg)),
			PnL:         PositionPnL(p),
			Bucket:      schema.PositionOpen,
		}
		if row.NetQty == 0 {
			row.Bucket = schema.PositionClosed
			book.Closed = append(book.Closed, row)
			continue
		}
		book.Open = append(book.Open, row)
	}
	return book
}

// MergePositions appends other's buckets onto book.
func MergePositions(book *schema.PositionBook, other schema.PositionBook) {
	book.Open = append(book.Open, other.Open...)
	book.Closed = append(book.Closed, other.Closed...)
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
