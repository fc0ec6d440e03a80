package schema

import "strings"

// InstrumentRef identifies a tradable security across brokers. Each broker
// addresses the same security differently: Dhan by security id, Motilal by
// symbol token.
type InstrumentRef struct {
	Exchange    string `json:"exchange"`
	Symbol      string `json:"symbol"`
	SecurityID  string `json:"security_id,omitempty"`
	SymbolToken string `json:"symbol_token,omitempty"`
}

// ParseInstrumentRef parses the pipe form EXCHANGE|SYMBOL|SECURITY_ID|SYMBOL_TOKEN.
// Trailing parts may be omitted.
func ParseInstrumentRef(raw string) InstrumentRef {
	parts := strings.Split(strings.TrimSpace(raw), "|")
	at := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}
	return InstrumentRef{
		Exchange:    strings.ToUpper(at(0)),
		Symbol:      at(1),
		SecurityID:  at(2),
		SymbolToken: at(3),
	}
}

// String renders the pipe form accepted by ParseInstrumentRef.
func (r InstrumentRef) String() string {
	return strings.Join([]string{r.Exchange, r.Symbol, r.SecurityID, r.SymbolToken}, "|")
}

// Key returns a stable identity for lookups, preferring the security id.
func (r InstrumentRef) Key() string {
	if r.SecurityID != "" {
		return "sid:" + r.SecurityID
	}
	return "sym:" + strings.ToUpper(r.Exchange) + ":" + strings.ToUpper(r.Symbol)
}

// LotUnit describes the quantity unit a broker's order API expects.
type LotUnit int

const (
	// LotUnitShares brokers take raw share counts: operator lots are multiplied by lot size.
	LotUnitShares LotUnit = iota
	// LotUnitLots brokers take lot counts: operator lots pass through, share counts are divided.
	LotUnitLots
)

// NormalizeLotSize treats a missing or non-positive lot size as 1.
func NormalizeLotSize(lotSize int) int {
	if lotSize <= 0 {
		return 1
	}
	return lotSize
}

// OrderQuantity converts an operator quantity expressed in lots into the broker unit.
func (u LotUnit) OrderQuantity(lots, lotSize int) int {
	size := NormalizeLotSize(lotSize)
	if u == LotUnitShares {
		return lots * size
	}
	return lots
}

// CloseQuantity converts an absolute net position, as reported by the broker,
// into the quantity an opposite order must carry.
func (u LotUnit) CloseQuantity(net, lotSize int) int {
	if net < 0 {
		net = -net
	}
	if u == LotUnitShares {
		return net
	}
	size := NormalizeLotSize(lotSize)
	lots := net / size
	if lots < 1 {
		lots = 1
	}
	return lots
}
