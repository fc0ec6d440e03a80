// Package dispatch runs resolved intents concurrently against broker adapters
// and joins their outcomes into one aggregate.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/normalize"
	"github.com/coachpo/multibroker/internal/app/resolver"
	"github.com/coachpo/multibroker/internal/app/session"
	"github.com/coachpo/multibroker/internal/domain/directory"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/telemetry"
)

// Operation names used for logging and metrics.
const (
	OpPlace  = "place"
	OpCancel = "cancel"
	OpModify = "modify"
	OpClose  = "close"
)

// Call is the broker request a unit makes once it holds a session.
type Call func(ctx context.Context, adapter broker.Adapter, sess schema.Session) (schema.Ack, error)

// Unit is one independent piece of work keyed for the result map.
type Unit struct {
	Key       string
	Account   schema.AccountRecord
	Operation string
	// Accept lists message phrases that count as broker acceptance.
	Accept []string
	Call   Call
}

// Options configure an Engine.
type Options struct {
	// MaxWorkers caps concurrent units; 0 runs every unit at once.
	MaxWorkers int
	// UnitTimeout bounds each unit; 0 leaves units to the adapter's own timeout.
	UnitTimeout time.Duration
	Metrics     *telemetry.DispatchMetrics
	Logger      *log.Logger
}

// Engine fans units out and joins them.
type Engine struct {
	sessions *session.Store
	accounts directory.AccountDirectory
	opts     Options
}

// NewEngine constructs a dispatch engine.
func NewEngine(sessions *session.Store, accounts directory.AccountDirectory, opts Options) *Engine {
	return &Engine{sessions: sessions, accounts: accounts, opts: opts}
}

// Dispatch places every resolved intent. Validation failures from res are
// copied into the aggregate as-is and never reach a broker.
func (e *Engine) Dispatch(ctx context.Context, res resolver.Resolution) schema.DispatchAggregate {
	units := make([]Unit, 0, len(res.Intents))
	var lookupFailures []schema.DispatchResult
	for _, intent := range res.Intents {
		account, err := e.accounts.GetAccount(ctx, intent.AccountID)
		if err != nil {
			lookupFailures = append(lookupFailures, schema.DispatchResult{
				Key:          intent.Key(),
				AccountID:    intent.AccountID,
				Broker:       intent.Broker,
				Status:       schema.ResultError,
				ErrorKind:    string(errs.CodeNotFound),
				ErrorMessage: errs.Message(err),
			})
			continue
		}
		units = append(units, PlaceUnit(account, intent))
	}
	pre := append(append([]schema.DispatchResult{}, res.Invalid...), lookupFailures...)
	return e.Execute(ctx, units, pre, res.Skipped)
}

// PlaceUnit builds the unit that places intent for account.
func PlaceUnit(account schema.AccountRecord, intent schema.OrderIntent) Unit {
	return Unit{
		Key:       intent.Key(),
		Account:   account,
		Operation: OpPlace,
		Accept:    normalize.PlacePhrases,
		Call: func(ctx context.Context, adapter broker.Adapter, sess schema.Session) (schema.Ack, error) {
			return adapter.PlaceOrder(ctx, sess, intent)
		},
	}
}

// Execute runs units concurrently, one goroutine each (bounded by MaxWorkers),
// and returns once all have finished. pre holds results decided before
// dispatch and claims its keys ahead of every unit, so callers that mix the
// two must dedupe in input order first (the resolver does). Among units the
// first claiming a key wins; later ones are skipped.
func (e *Engine) Execute(ctx context.Context, units []Unit, pre []schema.DispatchResult, skipped []schema.SkippedItem) schema.DispatchAggregate {
	agg := schema.DispatchAggregate{
		BatchID: uuid.NewString(),
		Status:  schema.AggregateCompleted,
		Results: make(map[string]schema.DispatchResult, len(units)+len(pre)),
		Skipped: append([]schema.SkippedItem(nil), skipped...),
	}
	for _, r := range pre {
		if _, dup := agg.Results[r.Key]; dup {
			agg.Skipped = append(agg.Skipped, duplicate(r.Key))
			continue
		}
		agg.Results[r.Key] = r
	}

	runnable := make([]Unit, 0, len(units))
	for _, u := range units {
		if _, dup := agg.Results[u.Key]; dup {
			agg.Skipped = append(agg.Skipped, duplicate(u.Key))
			continue
		}
		// reserve the key so later duplicates are caught
		agg.Results[u.Key] = schema.DispatchResult{}
		runnable = append(runnable, u)
	}

	if len(runnable) == 0 {
		agg.Status = schema.AggregateEmpty
		e.opts.Metrics.RecordBatch(ctx, agg.Status)
		return agg
	}

	var mu sync.Mutex
	p := pool.New()
	if e.opts.MaxWorkers > 0 {
		p = p.WithMaxGoroutines(e.opts.MaxWorkers)
	}
	for _, unit := range runnable {
		u := unit
		p.Go(func() {
			result := e.run(ctx, u)
			mu.Lock()
			agg.Results[u.Key] = result
			mu.Unlock()
		})
	}
	p.Wait()

	e.opts.Metrics.RecordBatch(ctx, agg.Status)
	e.logf("batch %s: units=%d skipped=%d", agg.BatchID, len(runnable), len(agg.Skipped))
	return agg
}

func (e *Engine) run(ctx context.Context, u Unit) (result schema.DispatchResult) {
	result = schema.DispatchResult{
		Key:       u.Key,
		AccountID: u.Account.ID,
		Broker:    u.Account.Broker,
		Status:    schema.ResultError,
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result.Status = schema.ResultError
			result.ErrorKind = "panic"
			result.ErrorMessage = fmt.Sprintf("unit panic: %v", r)
		}
		outcome := telemetry.ResultOK
		if !result.OK() {
			outcome = telemetry.ResultError
		}
		e.opts.Metrics.RecordUnit(ctx, u.Account.Broker, u.Operation, outcome, result.ErrorKind, time.Since(start))
	}()

	if e.opts.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.UnitTimeout)
		defer cancel()
	}

	var ack schema.Ack
	err := e.sessions.CallWithAuth(ctx, u.Account, func(ctx context.Context, adapter broker.Adapter, sess schema.Session) error {
		var callErr error
		ack, callErr = u.Call(ctx, adapter, sess)
		return callErr
	})
	if err != nil {
		code, _ := errs.CodeOf(err)
		if code == "" {
			code = errs.CodeNetwork
		}
		result.ErrorKind = string(code)
		result.ErrorMessage = errs.Message(err)
		e.logf("%s failed: key=%s broker=%s err=%v", u.Operation, u.Key, u.Account.Broker, err)
		return result
	}

	result.Ack = &ack
	result.BrokerPayload = ack.Raw
	if normalize.Accepted(ack, u.Accept...) {
		result.Status = schema.ResultOK
		return result
	}
	result.ErrorKind = string(errs.CodeBroker)
	result.ErrorMessage = normalize.AckText(ack)
	return result
}

func duplicate(key string) schema.SkippedItem {
	return schema.SkippedItem{Key: key, Reason: resolver.ReasonDuplicate + key}
}

func (e *Engine) logf(format string, args ...any) {
	if e.opts.Logger != nil {
		e.opts.Logger.Printf(format, args...)
	}
}
