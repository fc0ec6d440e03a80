package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromFloat converts a money amount into a pgtype.Numeric rounded to 2 dp.
func numericFromFloat(value float64) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	text := decimal.NewFromFloat(value).StringFixed(2)
	if err := out.Scan(text); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", text, err)
	}
	return out, nil
}

// floatFromNumeric converts a scanned NUMERIC back into a float. NULL and NaN become 0.
func floatFromNumeric(n pgtype.Numeric) float64 {
	if !n.Valid || n.NaN {
		return 0
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return 0
	}
	return f.Float64
}
