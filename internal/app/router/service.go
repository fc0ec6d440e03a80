// Package router exposes the operator-facing operations: placing, cancelling,
// modifying and squaring off orders across every configured account, and the
// normalised order, position and holdings views.
package router

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/dispatch"
	"github.com/coachpo/multibroker/internal/app/resolver"
	"github.com/coachpo/multibroker/internal/app/session"
	"github.com/coachpo/multibroker/internal/domain/directory"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Deps are the collaborators a Service is built from.
type Deps struct {
	Accounts directory.AccountDirectory
	Resolver *resolver.Resolver
	Engine   *dispatch.Engine
	Sessions *session.Store
	Adapters *broker.Set
	Lots     directory.LotSizer
	// ListWorkers bounds per-account fan-out for the list views; 0 means GOMAXPROCS.
	ListWorkers int
	Logger      *log.Logger
}

// Service implements the public router operations.
type Service struct {
	accounts    directory.AccountDirectory
	resolver    *resolver.Resolver
	engine      *dispatch.Engine
	sessions    *session.Store
	adapters    *broker.Set
	lots        directory.LotSizer
	listWorkers int
	logger      *log.Logger
}

// New constructs a Service.
func New(deps Deps) *Service {
	lots := deps.Lots
	if lots == nil {
		lots = directory.LotSizerFunc(nil)
	}
	return &Service{
		accounts:    deps.Accounts,
		resolver:    deps.Resolver,
		engine:      deps.Engine,
		sessions:    deps.Sessions,
		adapters:    deps.Adapters,
		lots:        lots,
		listWorkers: deps.ListWorkers,
		logger:      deps.Logger,
	}
}

// Place resolves ins into per-account intents and dispatches them. tag
// prefixes every result key.
func (s *Service) Place(ctx context.Context, tag string, ins schema.Instruction) schema.DispatchAggregate {
	resolver.Normalize(&ins)
	res := s.resolver.Resolve(ctx, strings.TrimSpace(tag), ins)
	agg := s.engine.Dispatch(ctx, res)
	s.logf("place tag=%s intents=%d invalid=%d skipped=%d batch=%s", tag, len(res.Intents), len(res.Invalid), len(agg.Skipped), agg.BatchID)
	return agg
}

// Accounts lists every account belonging to a configured broker, in broker
// name order.
func (s *Service) Accounts(ctx context.Context) ([]schema.AccountRecord, error) {
	var out []schema.AccountRecord
	for _, name := range s.adapters.Names() {
		accounts, err := s.accounts.ListAccountsByBroker(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("list %s accounts: %w", name, err)
		}
		out = append(out, accounts...)
	}
	return out, nil
}

// Warm authenticates every account in the background pool.
func (s *Service) Warm(ctx context.Context, workers int) error {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return err
	}
	return s.sessions.Warm(ctx, accounts, workers)
}

// byName resolves an operator-supplied display name. Misses become a
// not-found result under key.
func (s *Service) byName(ctx context.Context, key, name string) (schema.AccountRecord, *schema.DispatchResult) {
	account, err := s.accounts.FindAccountByDisplayName(ctx, name)
	if err == nil {
		return account, nil
	}
	kind := errs.CodeNotFound
	if code, ok := errs.CodeOf(err); ok {
		kind = code
	}
	return schema.AccountRecord{}, &schema.DispatchResult{
		Key:          key,
		Status:       schema.ResultError,
		ErrorKind:    string(kind),
		ErrorMessage: fmt.Sprintf(MsgClientNotFound, name),
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func invalidResult(key, msg string) schema.DispatchResult {
	return schema.DispatchResult{
		Key:          key,
		Status:       schema.ResultError,
		ErrorKind:    string(errs.CodeInvalid),
		ErrorMessage: msg,
	}
}
