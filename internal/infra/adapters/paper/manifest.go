package paper

import (
	"context"
	"log"
	"strings"

	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

// RegisterFactory registers the paper broker. A broker entry configured with
// driver: paper gets a paper adapter answering to that entry's name.
func RegisterFactory(reg *broker.Registry) {
	if reg == nil {
		return
	}
	reg.Register(Name, func(_ context.Context, cfg map[string]any, logger *log.Logger) (broker.Adapter, error) {
		name, ok := shared.StringFromConfig(cfg, "name")
		if !ok {
			name = Name
		}
		return New(optionsFromConfig(name, shared.Settings(cfg), logger)), nil
	})
}

func optionsFromConfig(name string, cfg map[string]any, logger *log.Logger) Options {
	opts := Options{Name: name, Logger: logger}
	if unit, ok := shared.StringFromConfig(cfg, "lot_unit"); ok && strings.EqualFold(unit, "lots") {
		opts.Unit = schema.LotUnitLots
	}
	if ttl, ok := shared.DurationFromConfig(cfg, "session_ttl"); ok {
		opts.SessionTTL = ttl
	}
	if latency, ok := shared.DurationFromConfig(cfg, "latency"); ok {
		opts.Latency = latency
	}
	if cash, ok := shared.FloatFromConfig(cfg, "cash"); ok {
		opts.Cash = cash
	}
	if prices, ok := shared.MapFromConfig(cfg, "prices"); ok {
		opts.Prices = make(map[string]float64, len(prices))
		for symbol := range prices {
			if v, ok := shared.FloatFromConfig(prices, symbol); ok {
				opts.Prices[symbol] = v
			}
		}
	}
	if raw, ok := cfg["holdings"].([]any); ok {
		for _, item := range raw {
			h, ok := item.(map[string]any)
			if !ok {
				continue
			}
			symbol, _ := shared.StringFromConfig(h, "symbol")
			qty, _ := shared.FloatFromConfig(h, "quantity")
			avg, _ := shared.FloatFromConfig(h, "buy_avg")
			ltp, _ := shared.FloatFromConfig(h, "ltp")
			opts.Holdings = append(opts.Holdings, schema.NativeHolding{Symbol: symbol, Quantity: qty, BuyAvg: avg, LTP: ltp})
		}
	}
	return opts
}
