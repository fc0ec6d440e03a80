// Package brokertest provides a scriptable broker.Adapter for tests.
package brokertest

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Stub is a broker.Adapter whose behaviour is supplied per call through the
// function fields. Nil functions succeed with zero values. Call counters are
// safe for concurrent use.
type Stub struct {
	BrokerName string
	Unit       schema.LotUnit

	AuthenticateFn func(ctx context.Context, account schema.AccountRecord) (schema.Session, error)
	ListOrdersFn   func(ctx context.Context, session schema.Session) ([]schema.NativeOrder, error)
	PositionsFn    func(ctx context.Context, session schema.Session) ([]schema.NativePosition, error)
	HoldingsFn     func(ctx context.Context, session schema.Session) ([]schema.NativeHolding, error)
	MarginFn       func(ctx context.Context, session schema.Session) float64
	PlaceFn        func(ctx context.Context, session schema.Session, intent schema.OrderIntent) (schema.Ack, error)
	CancelFn       func(ctx context.Context, session schema.Session, orderID string) (schema.Ack, error)
	ModifyFn       func(ctx context.Context, session schema.Session, orderID string, delta schema.ModifyDelta) (schema.Ack, error)

	Auths   atomic.Int64
	Places  atomic.Int64
	Cancels atomic.Int64
	Modifys atomic.Int64
	Lists   atomic.Int64

	mu      sync.Mutex
	placed  []schema.OrderIntent
	counter atomic.Int64
}

// Name implements broker.Adapter.
func (s *Stub) Name() string {
	if s.BrokerName == "" {
		return "stub"
	}
	return s.BrokerName
}

// LotUnit implements broker.Adapter.
func (s *Stub) LotUnit() schema.LotUnit { return s.Unit }

// Authenticate implements broker.Adapter.
func (s *Stub) Authenticate(ctx context.Context, account schema.AccountRecord) (schema.Session, error) {
	n := s.Auths.Add(1)
	if s.AuthenticateFn != nil {
		return s.AuthenticateFn(ctx, account)
	}
	return schema.Session{
		AccountID: account.ID,
		Broker:    s.Name(),
		Token:     account.ID + "-token-" + itoa(n),
	}, nil
}

// ListOrders implements broker.Adapter.
func (s *Stub) ListOrders(ctx context.Context, session schema.Session) ([]schema.NativeOrder, error) {
	s.Lists.Add(1)
	if s.ListOrdersFn != nil {
		return s.ListOrdersFn(ctx, session)
	}
	return nil, nil
}

// ListPositions implements broker.Adapter.
func (s *Stub) ListPositions(ctx context.Context, session schema.Session) ([]schema.NativePosition, error) {
	if s.PositionsFn != nil {
		return s.PositionsFn(ctx, session)
	}
	return nil, nil
}

// ListHoldings implements broker.Adapter.
func (s *Stub) ListHoldings(ctx context.Context, session schema.Session) ([]schema.NativeHolding, error) {
	if s.HoldingsFn != nil {
		return s.HoldingsFn(ctx, session)
	}
	return nil, nil
}

// GetAvailableMargin implements broker.Adapter.
func (s *Stub) GetAvailableMargin(ctx context.Context, session schema.Session) float64 {
	if s.MarginFn != nil {
		return s.MarginFn(ctx, session)
	}
	return 0
}

// PlaceOrder implements broker.Adapter.
func (s *Stub) PlaceOrder(ctx context.Context, session schema.Session, intent schema.OrderIntent) (schema.Ack, error) {
	s.Places.Add(1)
	s.mu.Lock()
	s.placed = append(s.placed, intent)
	s.mu.Unlock()
	if s.PlaceFn != nil {
		return s.PlaceFn(ctx, session, intent)
	}
	return schema.Ack{OrderID: "ord-" + itoa(s.counter.Add(1)), Status: "SUCCESS", Success: true}, nil
}

// CancelOrder implements broker.Adapter.
func (s *Stub) CancelOrder(ctx context.Context, session schema.Session, orderID string) (schema.Ack, error) {
	s.Cancels.Add(1)
	if s.CancelFn != nil {
		return s.CancelFn(ctx, session, orderID)
	}
	return schema.Ack{OrderID: orderID, Status: "SUCCESS", Success: true}, nil
}

// ModifyOrder implements broker.Adapter.
func (s *Stub) ModifyOrder(ctx context.Context, session schema.Session, orderID string, delta schema.ModifyDelta) (schema.Ack, error) {
	s.Modifys.Add(1)
	if s.ModifyFn != nil {
		return s.ModifyFn(ctx, session, orderID, delta)
	}
	return schema.Ack{OrderID: orderID, Status: "SUCCESS", Success: true}, nil
}

// Placed returns a copy of every intent passed to PlaceOrder.
func (s *Stub) Placed() []schema.OrderIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.OrderIntent, len(s.placed))
	copy(out, s.placed)
	return out
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
