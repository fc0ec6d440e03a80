package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/broker/brokertest"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

var accountC = schema.AccountRecord{ID: "C", Broker: "x"}

func authErr() error {
	return errs.New("x", errs.CodeAuth, errs.WithMessage("invalid session"))
}

func newStore(stub *brokertest.Stub, opts Options) *Store {
	return NewStore(broker.NewSet(stub), opts)
}

func TestCallWithAuthReusesCachedSession(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	store := newStore(stub, Options{})
	var tokens []string
	for i := 0; i < 3; i++ {
		err := store.CallWithAuth(context.Background(), accountC, func(_ context.Context, _ broker.Adapter, s schema.Session) error {
			tokens = append(tokens, s.Token)
			return nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), stub.Auths.Load())
	require.Equal(t, []string{"C-token-1", "C-token-1", "C-token-1"}, tokens)
	require.Equal(t, schema.SessionActive, store.State("C"))
}

func TestCallWithAuthRetriesOnceAfterAuthFailure(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	store := newStore(stub, Options{})
	var calls []string
	err := store.CallWithAuth(context.Background(), accountC, func(_ context.Context, _ broker.Adapter, s schema.Session) error {
		calls = append(calls, s.Token)
		if s.Token == "C-token-1" {
			return authErr()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), stub.Auths.Load())
	require.Equal(t, []string{"C-token-1", "C-token-2"}, calls)
	require.Equal(t, schema.SessionActive, store.State("C"))
}

func TestCallWithAuthSecondAuthFailureIsTerminal(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	store := newStore(stub, Options{})
	var calls atomic.Int32
	err := store.CallWithAuth(context.Background(), accountC, func(context.Context, broker.Adapter, schema.Session) error {
		calls.Add(1)
		return authErr()
	})
	require.Error(t, err)
	require.True(t, errs.IsAuth(err))
	require.Contains(t, err.Error(), "authentication failed after re-login")
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, int64(2), stub.Auths.Load())
	require.Equal(t, schema.SessionStale, store.State("C"))
}

func TestCallWithAuthDoesNotRetryOtherErrors(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	store := newStore(stub, Options{})
	boom := errs.New("x", errs.CodeNetwork, errs.WithMessage("timeout"))
	var calls atomic.Int32
	err := store.CallWithAuth(context.Background(), accountC, func(context.Context, broker.Adapter, schema.Session) error {
		calls.Add(1)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, int64(1), stub.Auths.Load())
}

func TestCallWithAuthLoginFailure(t *testing.T) {
	stub := &brokertest.Stub{
		BrokerName: "x",
		AuthenticateFn: func(context.Context, schema.AccountRecord) (schema.Session, error) {
			return schema.Session{}, errs.New("x", errs.CodeAuth, errs.WithMessage("bad totp"))
		},
	}
	store := newStore(stub, Options{})
	called := false
	err := store.CallWithAuth(context.Background(), accountC, func(context.Context, broker.Adapter, schema.Session) error {
		called = true
		return nil
	})
	require.True(t, errs.IsAuth(err))
	require.False(t, called)
	require.Equal(t, schema.SessionNone, store.State("C"))
}

func TestEmptyTokenCountsAsLoginFailure(t *testing.T) {
	stub := &brokertest.Stub{
		BrokerName: "x",
		AuthenticateFn: func(context.Context, schema.AccountRecord) (schema.Session, error) {
			return schema.Session{}, nil
		},
	}
	store := newStore(stub, Options{})
	err := store.CallWithAuth(context.Background(), accountC, func(context.Context, broker.Adapter, schema.Session) error { return nil })
	require.True(t, errs.IsAuth(err))
}

func TestProbeMarksStaleThenSingleReauth(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	stub.ListOrdersFn = func(_ context.Context, s schema.Session) ([]schema.NativeOrder, error) {
		if s.Token == "C-token-1" {
			return nil, authErr()
		}
		return nil, nil
	}
	store := newStore(stub, Options{})
	ctx := context.Background()

	require.NoError(t, store.CallWithAuth(ctx, accountC, func(context.Context, broker.Adapter, schema.Session) error { return nil }))
	state, err := store.Probe(ctx, accountC)
	require.NoError(t, err)
	require.Equal(t, schema.SessionStale, state)

	var used string
	require.NoError(t, store.CallWithAuth(ctx, accountC, func(_ context.Context, _ broker.Adapter, s schema.Session) error {
		used = s.Token
		return nil
	}))
	require.Equal(t, "C-token-2", used)
	require.Equal(t, int64(2), stub.Auths.Load())

	state, err = store.Probe(ctx, accountC)
	require.NoError(t, err)
	require.Equal(t, schema.SessionActive, state)
}

func TestProbeWithoutSessionIsNoop(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	store := newStore(stub, Options{})
	state, err := store.Probe(context.Background(), accountC)
	require.NoError(t, err)
	require.Equal(t, schema.SessionNone, state)
	require.Equal(t, int64(0), stub.Lists.Load())
}

func TestInvalidateForcesLogin(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	store := newStore(stub, Options{})
	ctx := context.Background()
	noop := func(context.Context, broker.Adapter, schema.Session) error { return nil }

	require.NoError(t, store.CallWithAuth(ctx, accountC, noop))
	store.Invalidate("C")
	require.Equal(t, schema.SessionNone, store.State("C"))
	require.NoError(t, store.CallWithAuth(ctx, accountC, noop))
	require.Equal(t, int64(2), stub.Auths.Load())
}

func TestCallsForSameAccountAreSerialised(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	store := newStore(stub, Options{})

	var inFlight, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.CallWithAuth(context.Background(), accountC, func(context.Context, broker.Adapter, schema.Session) error {
				n := inFlight.Add(1)
				for {
					old := maxSeen.Load()
					if n <= old || maxSeen.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen.Load())
	require.Equal(t, int64(1), stub.Auths.Load())
}

func TestSharedSessionBrokerSerialisesAcrossAccounts(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	store := newStore(stub, Options{SharedSessionBrokers: []string{" X "}})

	var inFlight, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C", "D"} {
		account := schema.AccountRecord{ID: id, Broker: "x"}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.CallWithAuth(context.Background(), account, func(context.Context, broker.Adapter, schema.Session) error {
				n := inFlight.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen.Load())
}

func TestUnknownBroker(t *testing.T) {
	store := newStore(&brokertest.Stub{BrokerName: "x"}, Options{})
	err := store.CallWithAuth(context.Background(), schema.AccountRecord{ID: "Z", Broker: "zerodha"},
		func(context.Context, broker.Adapter, schema.Session) error { return nil })
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestWarmAuthenticatesEveryAccount(t *testing.T) {
	stub := &brokertest.Stub{BrokerName: "x"}
	stub.AuthenticateFn = func(_ context.Context, a schema.AccountRecord) (schema.Session, error) {
		if strings.HasPrefix(a.ID, "bad") {
			return schema.Session{}, errors.New("login refused")
		}
		return schema.Session{Token: "t-" + a.ID}, nil
	}
	store := newStore(stub, Options{})
	accounts := []schema.AccountRecord{
		{ID: "a1", Broker: "x"}, {ID: "a2", Broker: "x"}, {ID: "bad1", Broker: "x"},
	}
	require.NoError(t, store.Warm(context.Background(), accounts, 2))
	require.Equal(t, schema.SessionActive, store.State("a1"))
	require.Equal(t, schema.SessionActive, store.State("a2"))
	require.Equal(t, schema.SessionNone, store.State("bad1"))
}
