package broker_test

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/broker/brokertest"
)

func TestRegistryBuildCreatesEachBrokerOnce(t *testing.T) {
	reg := broker.NewRegistry()
	calls := 0
	reg.Register("Dhan", func(_ context.Context, cfg map[string]any, _ *log.Logger) (broker.Adapter, error) {
		calls++
		if cfg["baseUrl"] != "http://dhan" {
			t.Fatalf("unexpected config passed to factory: %v", cfg)
		}
		return &brokertest.Stub{BrokerName: "dhan"}, nil
	})
	reg.Register("paper", func(context.Context, map[string]any, *log.Logger) (broker.Adapter, error) {
		return &brokertest.Stub{BrokerName: "paper"}, nil
	})

	set, err := reg.Build(context.Background(), map[string]map[string]any{
		" dhan ": {"baseUrl": "http://dhan"},
	}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected factory to run once, got %d", calls)
	}
	if _, ok := set.Get("DHAN"); !ok {
		t.Fatal("expected dhan adapter to be resolvable case-insensitively")
	}
	if _, ok := set.Get("paper"); ok {
		t.Fatal("paper was registered but not configured; it must not be built")
	}
	if got := strings.Join(set.Names(), ","); got != "dhan" {
		t.Fatalf("unexpected names %q", got)
	}
	if got := strings.Join(reg.Registered(), ","); got != "dhan,paper" {
		t.Fatalf("unexpected registered %q", got)
	}
}

func TestRegistryCreateUnknownBroker(t *testing.T) {
	reg := broker.NewRegistry()
	_, err := reg.Create(context.Background(), "zerodha", nil, nil)
	if err == nil || !strings.Contains(err.Error(), `broker "zerodha" not registered`) {
		t.Fatalf("expected not registered error, got %v", err)
	}
}

func TestRegistryWrapsFactoryErrors(t *testing.T) {
	reg := broker.NewRegistry()
	boom := errors.New("bad config")
	reg.Register("motilal", func(context.Context, map[string]any, *log.Logger) (broker.Adapter, error) {
		return nil, boom
	})
	_, err := reg.Build(context.Background(), map[string]map[string]any{"motilal": nil}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped factory error, got %v", err)
	}
}

func TestRegisterNilFactoryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil factory")
		}
	}()
	broker.NewRegistry().Register("x", nil)
}

func TestNewSetKeysByName(t *testing.T) {
	set := broker.NewSet(&brokertest.Stub{BrokerName: "Y"}, nil, &brokertest.Stub{BrokerName: "x"})
	if got := strings.Join(set.Names(), ","); got != "x,y" {
		t.Fatalf("unexpected names %q", got)
	}
	var empty *broker.Set
	if _, ok := empty.Get("x"); ok {
		t.Fatal("nil set must not resolve adapters")
	}
}
