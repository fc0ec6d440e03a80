package normalize

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Holdings converts one account's demat holdings into canonical rows and the
// account summary. Rows with non-positive quantity are skipped entirely.
func Holdings(account schema.AccountRecord, broker string, rows []schema.NativeHolding, availableMargin float64) ([]schema.HoldingRow, schema.SummaryRow) {
	invested := decimal.Zero
	pnl := decimal.Zero
	out := make([]schema.HoldingRow, 0, len(rows))
	for _, h := range rows {
		if h.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromFloat(h.Quantity)
		avg := decimal.NewFromFloat(h.BuyAvg)
		ltp := decimal.NewFromFloat(h.LTP)
		rowPnL := ltp.Sub(avg).Mul(qty)

		invested = invested.Add(qty.Mul(avg))
		pnl = pnl.Add(rowPnL)
		out = append(out, schema.HoldingRow{
			AccountName: account.Name(),
			Broker:      broker,
			Symbol:      h.Symbol,
			Quantity:    h.Quantity,
			BuyAvg:      round2(avg),
			LTP:         round2(ltp),
			PnL:         round2(rowPnL),
		})
	}
	return out, Summary(account, broker, invested, pnl, availableMargin)
}

// Summary derives the summary row from already-summed invested and pnl.
// current_value = invested + pnl; net_gain = current_value + margin - capital.
func Summary(account schema.AccountRecord, broker string, invested, pnl decimal.Decimal, availableMargin float64) schema.SummaryRow {
	invested = invested.Round(2)
	pnl = pnl.Round(2)
	margin := decimal.NewFromFloat(availableMargin).Round(2)
	capital := decimal.NewFromFloat(account.Capital).Round(2)
	current := invested.Add(pnl)
	return schema.SummaryRow{
		AccountName:     account.Name(),
		Broker:          broker,
		Capital:         capital.InexactFloat64(),
		Invested:        invested.InexactFloat64(),
		PnL:             pnl.InexactFloat64(),
		CurrentValue:    current.InexactFloat64(),
		AvailableMargin: margin.InexactFloat64(),
		NetGain:         current.Add(margin).Sub(capital).InexactFloat64(),
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
