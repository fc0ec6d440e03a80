package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/dispatch"
	"github.com/coachpo/multibroker/internal/app/normalize"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

// CloseRequest asks to flatten one symbol on one account.
type CloseRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

func (r CloseRequest) key() string {
	return schema.ResultKey(strings.TrimSpace(r.Symbol), strings.TrimSpace(r.Name))
}

// ClosePositions squares off each requested position with an opposite MARKET
// order sized from the live position. Positions are re-read inside the unit
// so the quantity reflects the broker's state at dispatch time. Dispatched
// results are keyed "symbol:account_id"; unresolved requests are keyed
// "symbol:name" with the name as given.
func (s *Service) ClosePositions(ctx context.Context, reqs []CloseRequest) schema.DispatchAggregate {
	units := make([]dispatch.Unit, 0, len(reqs))
	var pre []schema.DispatchResult
	for _, req := range reqs {
		name, symbol := strings.TrimSpace(req.Name), strings.TrimSpace(req.Symbol)
		if name == "" || symbol == "" {
			pre = append(pre, invalidResult(req.key(), MsgMissingCloseRef))
			continue
		}
		account, miss := s.byName(ctx, req.key(), name)
		if miss != nil {
			pre = append(pre, *miss)
			continue
		}
		units = append(units, dispatch.Unit{
			Key:       schema.ResultKey(symbol, account.ID),
			Account:   account,
			Operation: dispatch.OpClose,
			Accept:    normalize.PlacePhrases,
			Call:      s.closeCall(account, symbol),
		})
	}
	return s.engine.Execute(ctx, units, pre, nil)
}

func (s *Service) closeCall(account schema.AccountRecord, symbol string) dispatch.Call {
	return func(ctx context.Context, adapter broker.Adapter, sess schema.Session) (schema.Ack, error) {
		positions, err := adapter.ListPositions(ctx, sess)
		if err != nil {
			return schema.Ack{}, err
		}
		pos, ok := findPosition(positions, symbol)
		if !ok {
			return schema.Ack{}, errs.New(adapter.Name(), errs.CodeNotFound,
				errs.WithAccount(account.ID),
				errs.WithMessage(fmt.Sprintf(MsgPositionNotFound, account.Name(), symbol)))
		}
		net := pos.NetQty()
		if net == 0 {
			return schema.Ack{
				Status:  "FLAT",
				Message: fmt.Sprintf(MsgAlreadyFlat, account.Name(), symbol),
				Success: true,
			}, nil
		}
		return adapter.PlaceOrder(ctx, sess, closeIntent(account, adapter, pos, s.lots.LotSize(pos.Instrument, adapter.Name())))
	}
}

// closeIntent builds the opposite MARKET order that flattens pos.
func closeIntent(account schema.AccountRecord, adapter broker.Adapter, pos schema.NativePosition, lotSize int) schema.OrderIntent {
	net := pos.NetQty()
	side := schema.SideSell
	if net < 0 {
		side = schema.SideBuy
	}
	product := pos.ProductType
	if product == "" {
		product = "CNC"
	}
	ref := pos.Instrument
	if ref.Symbol == "" {
		ref.Symbol = pos.Symbol
	}
	return schema.OrderIntent{
		AccountID:   account.ID,
		Broker:      adapter.Name(),
		Tag:         schema.TagSquareOff,
		Action:      side,
		OrderType:   schema.OrderTypeMarket,
		ProductType: product,
		Validity:    "DAY",
		Exchange:    ref.Exchange,
		Quantity:    adapter.LotUnit().CloseQuantity(net, lotSize),
		Instrument:  ref,
	}
}

func findPosition(rows []schema.NativePosition, symbol string) (schema.NativePosition, bool) {
	for _, row := range rows {
		if row.Symbol == symbol {
			return row, true
		}
	}
	for _, row := range rows {
		if strings.EqualFold(row.Symbol, symbol) {
			return row, true
		}
	}
	return schema.NativePosition{}, false
}
