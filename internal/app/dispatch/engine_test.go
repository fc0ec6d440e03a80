package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/broker/brokertest"
	"github.com/coachpo/multibroker/internal/app/resolver"
	"github.com/coachpo/multibroker/internal/app/session"
	"github.com/coachpo/multibroker/internal/domain/directory"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

type harness struct {
	x, y     *brokertest.Stub
	dir      *directory.Memory
	adapters *broker.Set
	engine   *Engine
	resolver *resolver.Resolver
}

func newHarness(opts Options) *harness {
	h := &harness{
		x:   &brokertest.Stub{BrokerName: "x"},
		y:   &brokertest.Stub{BrokerName: "y"},
		dir: directory.NewMemory(),
	}
	h.dir.PutAccount(schema.AccountRecord{ID: "A", Broker: "x"})
	h.dir.PutAccount(schema.AccountRecord{ID: "B", Broker: "y"})
	h.dir.PutAccount(schema.AccountRecord{ID: "C", Broker: "x"})
	h.adapters = broker.NewSet(h.x, h.y)
	h.engine = NewEngine(session.NewStore(h.adapters, session.Options{}), h.dir, opts)
	h.resolver = resolver.New(h.dir, h.dir, nil, h.adapters, nil)
	return h
}

func buy(accounts ...string) schema.Instruction {
	return schema.Instruction{
		Instrument: schema.InstrumentRef{Exchange: "NSE", Symbol: "PNB", SecurityID: "1"},
		Action:     schema.SideBuy,
		OrderType:  schema.OrderTypeMarket,
		Quantity:   1,
		Targets:    schema.TargetSet{Accounts: accounts},
	}
}

func TestTwoBrokersSucceedConcurrently(t *testing.T) {
	h := newHarness(Options{})
	var barrier sync.WaitGroup
	barrier.Add(2)
	rendezvous := func(ctx context.Context, _ schema.Session, _ schema.OrderIntent) (schema.Ack, error) {
		barrier.Done()
		done := make(chan struct{})
		go func() { barrier.Wait(); close(done) }()
		select {
		case <-done:
			return schema.Ack{Status: "SUCCESS", Success: true}, nil
		case <-time.After(2 * time.Second):
			return schema.Ack{}, errors.New("units did not run in parallel")
		}
	}
	h.x.PlaceFn = rendezvous
	h.y.PlaceFn = rendezvous

	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "tag", buy("A", "B")))
	require.Equal(t, schema.AggregateCompleted, agg.Status)
	require.Len(t, agg.Results, 2)
	require.True(t, agg.Results["tag:A"].OK(), agg.Results["tag:A"].ErrorMessage)
	require.True(t, agg.Results["tag:B"].OK(), agg.Results["tag:B"].ErrorMessage)
	require.NotEmpty(t, agg.BatchID)
}

func TestInvalidIntentsNeverReachAdapters(t *testing.T) {
	h := newHarness(Options{})
	ins := buy("A", "B", "ghost", "C")
	ins.PerAccountQty = map[string]int{"C": 0}
	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "", ins))

	require.Len(t, agg.Results, 4)
	var errCount int
	for _, r := range agg.Results {
		if !r.OK() {
			errCount++
			require.Equal(t, string(errs.CodeInvalid), r.ErrorKind)
		}
	}
	require.Equal(t, 2, errCount)
	require.Equal(t, int64(1), h.x.Places.Load())
	require.Equal(t, int64(1), h.y.Places.Load())
}

func TestLimitWithoutPriceMakesNoCalls(t *testing.T) {
	h := newHarness(Options{})
	ins := buy("A", "B")
	ins.OrderType = schema.OrderTypeLimit
	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "", ins))

	require.Equal(t, schema.AggregateEmpty, agg.Status)
	require.Len(t, agg.Results, 2)
	for _, r := range agg.Results {
		require.Equal(t, resolver.MsgLimitPrice, r.ErrorMessage)
	}
	require.Zero(t, h.x.Places.Load()+h.y.Places.Load()+h.x.Auths.Load()+h.y.Auths.Load())
}

func TestEmptyBatchSpawnsNothing(t *testing.T) {
	h := newHarness(Options{})
	agg := h.engine.Execute(context.Background(), nil, nil, nil)
	require.Equal(t, schema.AggregateEmpty, agg.Status)
	require.Empty(t, agg.Results)
}

func TestDuplicateTargetsKeepFirst(t *testing.T) {
	h := newHarness(Options{})
	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "t", buy("A", "A", "B")))
	require.Len(t, agg.Results, 2)
	require.Equal(t, int64(1), h.x.Places.Load())
	require.Equal(t, []schema.SkippedItem{{Key: "t:A", Reason: "duplicate_target:t:A"}}, agg.Skipped)
}

func TestDuplicateValidTargetBeatsLaterInvalidOne(t *testing.T) {
	h := newHarness(Options{})
	h.dir.PutGroup(schema.Group{ID: "g1", Name: "g1", Multiplier: 1, Members: []string{"A"}})
	h.dir.PutGroup(schema.Group{ID: "g2", Name: "g2", Multiplier: 1, Members: []string{"A", "B"}})
	ins := buy()
	ins.QuantityMode = schema.QuantityPerAccount
	ins.Targets = schema.TargetSet{Groups: []string{"g1", "g2"}}
	ins.PerGroupQty = map[string]int{"g1": 5}
	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "t", ins))

	require.True(t, agg.Results["t:A"].OK(), agg.Results["t:A"].ErrorMessage)
	require.Equal(t, string(errs.CodeInvalid), agg.Results["t:B"].ErrorKind)
	require.Equal(t, int64(1), h.x.Places.Load())
	require.Zero(t, h.y.Places.Load())
	require.Equal(t, []schema.SkippedItem{{Key: "t:A", Reason: "duplicate_target:t:A"}}, agg.Skipped)
}

func TestFailuresAreIsolatedPerUnit(t *testing.T) {
	h := newHarness(Options{MaxWorkers: 2})
	h.x.PlaceFn = func(_ context.Context, _ schema.Session, intent schema.OrderIntent) (schema.Ack, error) {
		if intent.AccountID == "A" {
			return schema.Ack{}, errs.New("x", errs.CodeNetwork, errs.WithMessage("dial timeout"))
		}
		return schema.Ack{Status: "REJECTED", Message: "RMS: margin shortfall"}, nil
	}
	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "", buy("A", "B", "C")))

	require.Equal(t, schema.AggregateCompleted, agg.Status)
	require.Equal(t, "network", agg.Results[":A"].ErrorKind)
	require.Equal(t, "dial timeout", agg.Results[":A"].ErrorMessage)
	require.True(t, agg.Results[":B"].OK())
	require.Equal(t, "broker_error", agg.Results[":C"].ErrorKind)
	require.Contains(t, agg.Results[":C"].ErrorMessage, "margin shortfall")
}

func TestAcceptedPhraseCountsAsOK(t *testing.T) {
	h := newHarness(Options{})
	h.y.PlaceFn = func(context.Context, schema.Session, schema.OrderIntent) (schema.Ack, error) {
		return schema.Ack{Message: "Order Placed Successfully"}, nil
	}
	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "", buy("B")))
	require.True(t, agg.Results[":B"].OK())
}

func TestAuthFailureRetriedOnceInsideUnit(t *testing.T) {
	h := newHarness(Options{})
	h.x.PlaceFn = func(_ context.Context, s schema.Session, _ schema.OrderIntent) (schema.Ack, error) {
		if s.Token == "A-token-1" {
			return schema.Ack{}, errs.New("x", errs.CodeAuth, errs.WithMessage("DH-901"))
		}
		return schema.Ack{Success: true}, nil
	}
	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "", buy("A")))
	require.True(t, agg.Results[":A"].OK())
	require.Equal(t, int64(2), h.x.Auths.Load())
	require.Equal(t, int64(2), h.x.Places.Load())
}

func TestUnitTimeoutAndPanicBecomeErrors(t *testing.T) {
	h := newHarness(Options{UnitTimeout: 20 * time.Millisecond})
	h.x.PlaceFn = func(ctx context.Context, _ schema.Session, _ schema.OrderIntent) (schema.Ack, error) {
		<-ctx.Done()
		return schema.Ack{}, ctx.Err()
	}
	h.y.PlaceFn = func(context.Context, schema.Session, schema.OrderIntent) (schema.Ack, error) {
		panic("adapter bug")
	}
	agg := h.engine.Dispatch(context.Background(), h.resolver.Resolve(context.Background(), "", buy("A", "B")))
	require.Len(t, agg.Results, 2)
	require.Equal(t, "network", agg.Results[":A"].ErrorKind)
	require.Contains(t, agg.Results[":A"].ErrorMessage, "deadline exceeded")
	require.Equal(t, "panic", agg.Results[":B"].ErrorKind)
}

func TestExecuteCustomUnits(t *testing.T) {
	h := newHarness(Options{})
	account, err := h.dir.GetAccount(context.Background(), "A")
	require.NoError(t, err)
	units := []Unit{{
		Key:       "cancel:A:42",
		Account:   account,
		Operation: OpCancel,
		Call: func(ctx context.Context, adapter broker.Adapter, sess schema.Session) (schema.Ack, error) {
			return adapter.CancelOrder(ctx, sess, "42")
		},
	}}
	agg := h.engine.Execute(context.Background(), units, nil, nil)
	require.True(t, agg.Results["cancel:A:42"].OK())
	require.Equal(t, int64(1), h.x.Cancels.Load())
}
