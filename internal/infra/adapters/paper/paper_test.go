package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

var acct = schema.AccountRecord{ID: "P1", Broker: Name, DisplayName: "Paper One"}

func login(t *testing.T, a *Adapter) schema.Session {
	t.Helper()
	sess, err := a.Authenticate(context.Background(), acct)
	require.NoError(t, err)
	return sess
}

func TestMarketOrderFillsAndBuildsPosition(t *testing.T) {
	a := New(Options{Prices: map[string]float64{"pnb": 100}, Cash: 10_000})
	sess := login(t, a)
	ctx := context.Background()

	ack, err := a.PlaceOrder(ctx, sess, schema.OrderIntent{
		AccountID:  acct.ID,
		Action:     schema.SideBuy,
		OrderType:  schema.OrderTypeMarket,
		Quantity:   10,
		Instrument: schema.InstrumentRef{Exchange: "NSE", Symbol: "PNB", SecurityID: "10666"},
	})
	require.NoError(t, err)
	require.True(t, ack.Success)
	require.Equal(t, StatusTraded, ack.Status)

	a.SetPrice("PNB", 105)
	positions, err := a.ListPositions(ctx, sess)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, 10, positions[0].NetQty())
	require.InDelta(t, 100, positions[0].BuyAvg, 1e-9)
	require.InDelta(t, 105, positions[0].LTP, 1e-9)

	require.InDelta(t, 9_000, a.GetAvailableMargin(ctx, sess), 1e-9)

	_, err = a.PlaceOrder(ctx, sess, schema.OrderIntent{
		Action:     schema.SideSell,
		OrderType:  schema.OrderTypeMarket,
		Quantity:   10,
		Instrument: schema.InstrumentRef{Exchange: "NSE", Symbol: "PNB", SecurityID: "10666"},
	})
	require.NoError(t, err)
	positions, err = a.ListPositions(ctx, sess)
	require.NoError(t, err)
	require.Zero(t, positions[0].NetQty())
	require.InDelta(t, 50, positions[0].Booked, 1e-9)
}

func TestLimitOrderRestsThenCancels(t *testing.T) {
	a := New(Options{Prices: map[string]float64{"SBIN": 800}})
	sess := login(t, a)
	ctx := context.Background()

	ack, err := a.PlaceOrder(ctx, sess, schema.OrderIntent{
		Action:     schema.SideBuy,
		OrderType:  schema.OrderTypeLimit,
		Price:      750,
		Quantity:   1,
		Instrument: schema.InstrumentRef{Symbol: "SBIN"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, ack.Status)

	mod, err := a.ModifyOrder(ctx, sess, ack.OrderID, schema.ModifyDelta{Quantity: 2})
	require.NoError(t, err)
	require.True(t, mod.Success)
	require.Equal(t, StatusPending, mod.Status)

	cancel, err := a.CancelOrder(ctx, sess, ack.OrderID)
	require.NoError(t, err)
	require.True(t, cancel.Success)

	again, err := a.CancelOrder(ctx, sess, ack.OrderID)
	require.NoError(t, err)
	require.False(t, again.Success)

	missing, err := a.CancelOrder(ctx, sess, "nope")
	require.NoError(t, err)
	require.False(t, missing.Success)

	orders, err := a.ListOrders(ctx, sess)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, StatusCancelled, orders[0].Status)
	require.EqualValues(t, 2, orders[0].Quantity)
}

func TestRejectedOrders(t *testing.T) {
	a := New(Options{})
	sess := login(t, a)

	ack, err := a.PlaceOrder(context.Background(), sess, schema.OrderIntent{OrderType: schema.OrderTypeMarket, Quantity: 1, Instrument: schema.InstrumentRef{Symbol: "X"}})
	require.NoError(t, err)
	require.False(t, ack.Success)
	require.Equal(t, StatusRejected, ack.Status)

	ack, err = a.PlaceOrder(context.Background(), sess, schema.OrderIntent{Quantity: 0})
	require.NoError(t, err)
	require.False(t, ack.Success)
}

func TestSessionExpiryAndRevocation(t *testing.T) {
	now := time.Unix(0, 0)
	a := New(Options{SessionTTL: time.Minute, Now: func() time.Time { return now }})
	sess := login(t, a)
	ctx := context.Background()

	require.NoError(t, a.Probe(ctx, sess))
	now = now.Add(2 * time.Minute)
	_, err := a.ListOrders(ctx, sess)
	require.True(t, errs.IsAuth(err))

	sess = login(t, a)
	a.Expire(acct.ID)
	require.True(t, errs.IsAuth(a.Probe(ctx, sess)))

	_, err = a.Authenticate(ctx, schema.AccountRecord{ID: "R", Credentials: map[string]string{"reject_login": "true"}})
	require.True(t, errs.IsAuth(err))
}

func TestLatencyHonoursContext(t *testing.T) {
	a := New(Options{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.Authenticate(ctx, acct)
	require.True(t, errs.Is(err, errs.CodeNetwork))
}

func TestHoldingsUseCurrentPrice(t *testing.T) {
	a := New(Options{
		Prices:   map[string]float64{"TCS": 3100},
		Holdings: []schema.NativeHolding{{Symbol: "TCS", Quantity: 2, BuyAvg: 3000, LTP: 2900}, {Symbol: "INFY", Quantity: 1, BuyAvg: 1500, LTP: 1400}},
	})
	sess := login(t, a)
	rows, err := a.ListHoldings(context.Background(), sess)
	require.NoError(t, err)
	require.InDelta(t, 3100, rows[0].LTP, 1e-9)
	require.InDelta(t, 1400, rows[1].LTP, 1e-9)
}

func TestRegistryBuildsPaperStandIn(t *testing.T) {
	reg := broker.NewRegistry()
	RegisterFactory(reg)
	set, err := reg.Build(context.Background(), map[string]map[string]any{
		"motilal": {
			"driver": "paper",
			"config": map[string]any{
				"lot_unit":    "lots",
				"session_ttl": "1h",
				"cash":        50000,
				"prices":      map[string]any{"PNB": 101.5},
				"holdings":    []any{map[string]any{"symbol": "TCS", "quantity": 2, "buy_avg": 3000}},
			},
		},
	}, nil)
	require.NoError(t, err)

	adapter, ok := set.Get("MOTILAL")
	require.True(t, ok)
	require.Equal(t, "motilal", adapter.Name())
	require.Equal(t, schema.LotUnitLots, adapter.LotUnit())

	p := adapter.(*Adapter)
	require.Equal(t, time.Hour, p.opts.SessionTTL)
	require.InDelta(t, 101.5, p.opts.Prices["PNB"], 1e-9)
	require.Len(t, p.opts.Holdings, 1)
}
