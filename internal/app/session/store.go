// Package session owns authenticated broker sessions and the call-with-auth-retry contract.
package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/telemetry"
	"github.com/coachpo/multibroker/lib/async"
)

// Op is a privileged broker call made with a session.
type Op func(ctx context.Context, adapter broker.Adapter, session schema.Session) error

// Options configure a Store.
type Options struct {
	// SharedSessionBrokers serialises every call to these brokers, not just
	// calls for the same account.
	SharedSessionBrokers []string
	Metrics              *telemetry.SessionMetrics
	Logger               *log.Logger
	Clock                func() time.Time
}

// Store caches one session per account. Calls for the same account are
// serialised so a re-login never races a call holding the stale token.
type Store struct {
	adapters    *broker.Set
	brokerLocks map[string]*sync.Mutex
	metrics     *telemetry.SessionMetrics
	logger      *log.Logger
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	state   atomic.Value // schema.SessionState
	session schema.Session
}

func (e *entry) setState(state schema.SessionState) { e.state.Store(state) }

func (e *entry) getState() schema.SessionState {
	if v, ok := e.state.Load().(schema.SessionState); ok {
		return v
	}
	return schema.SessionNone
}

// NewStore constructs a session store over the startup adapter set.
func NewStore(adapters *broker.Set, opts Options) *Store {
	locks := make(map[string]*sync.Mutex, len(opts.SharedSessionBrokers))
	for _, name := range opts.SharedSessionBrokers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key != "" {
			locks[key] = &sync.Mutex{}
		}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		adapters:    adapters,
		brokerLocks: locks,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         clock,
		entries:     make(map[string]*entry),
	}
}

// CallWithAuth runs op with the account's session. A cached Active session is
// reused; otherwise the store logs in once. If op reports an authentication
// failure the store logs in again and retries op exactly once. A second
// authentication failure is terminal for this call.
func (s *Store) CallWithAuth(ctx context.Context, account schema.AccountRecord, op Op) error {
	adapter, ok := s.adapters.Get(account.Broker)
	if !ok {
		return errs.New(account.Broker, errs.CodeInvalid,
			errs.WithAccount(account.ID), errs.WithMessage("broker not configured"))
	}
	unlock := s.lock(account)
	defer unlock()
	e := s.entry(account.ID)

	sess, err := s.ensure(ctx, adapter, account, e)
	if err != nil {
		return err
	}
	err = op(ctx, adapter, sess)
	if err == nil {
		s.verified(e)
		return nil
	}
	if !errs.IsAuth(err) {
		return err
	}

	e.setState(schema.SessionStale)
	s.metrics.RecordRetry(ctx, adapter.Name())
	s.logf("session stale, re-authenticating: broker=%s account=%s err=%v", adapter.Name(), account.ID, err)

	sess, aerr := s.authenticate(ctx, adapter, account, e)
	if aerr != nil {
		return aerr
	}
	err = op(ctx, adapter, sess)
	if err == nil {
		s.verified(e)
		return nil
	}
	if errs.IsAuth(err) {
		e.setState(schema.SessionStale)
		return errs.New(adapter.Name(), errs.CodeAuth,
			errs.WithAccount(account.ID),
			errs.WithMessage("authentication failed after re-login"),
			errs.WithCause(err))
	}
	return err
}

// Probe checks a cached Active session with a cheap read. An authentication
// failure moves the account to Probed-Stale so the next call logs in again.
// Accounts without a cached session are left untouched.
func (s *Store) Probe(ctx context.Context, account schema.AccountRecord) (schema.SessionState, error) {
	adapter, ok := s.adapters.Get(account.Broker)
	if !ok {
		return schema.SessionNone, errs.New(account.Broker, errs.CodeInvalid,
			errs.WithAccount(account.ID), errs.WithMessage("broker not configured"))
	}
	unlock := s.lock(account)
	defer unlock()
	e := s.entry(account.ID)
	if e.getState() != schema.SessionActive {
		return e.getState(), nil
	}

	var err error
	if prober, ok := adapter.(broker.Prober); ok {
		err = prober.Probe(ctx, e.session)
	} else {
		_, err = adapter.ListOrders(ctx, e.session)
	}
	switch {
	case err == nil:
		s.verified(e)
	case errs.IsAuth(err):
		e.setState(schema.SessionStale)
		s.logf("probe found stale session: broker=%s account=%s", adapter.Name(), account.ID)
		return e.getState(), nil
	}
	return e.getState(), err
}

// Invalidate drops the cached session for accountID.
func (s *Store) Invalidate(accountID string) {
	s.mu.Lock()
	e, ok := s.entries[accountID]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.setState(schema.SessionNone)
	e.session = schema.Session{}
	e.mu.Unlock()
}

// State reports the lifecycle state for accountID without blocking on
// in-flight calls.
func (s *Store) State(accountID string) schema.SessionState {
	s.mu.Lock()
	e, ok := s.entries[accountID]
	s.mu.Unlock()
	if !ok {
		return schema.SessionNone
	}
	return e.getState()
}

// Warm logs every account in on a bounded pool and waits for the attempts to
// finish. Failures are logged and otherwise ignored; the next call retries.
func (s *Store) Warm(ctx context.Context, accounts []schema.AccountRecord, workers int) error {
	if len(accounts) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 4
	}
	pool, err := async.NewPool(workers, len(accounts), async.WithErrorHandler(func(err error) {
		s.logf("session warm-up: %v", err)
	}))
	if err != nil {
		return err
	}
	for _, account := range accounts {
		acct := account
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			return s.CallWithAuth(ctx, acct, func(context.Context, broker.Adapter, schema.Session) error {
				return nil
			})
		}); err != nil {
			s.logf("session warm-up submit: account=%s err=%v", acct.ID, err)
		}
	}
	if err := pool.Shutdown(ctx); err != nil {
		return fmt.Errorf("session warm-up: %w", err)
	}
	return nil
}

// ensure returns the cached session or logs in. Caller holds e.mu.
func (s *Store) ensure(ctx context.Context, adapter broker.Adapter, account schema.AccountRecord, e *entry) (schema.Session, error) {
	if e.getState() == schema.SessionActive && e.session.Valid() {
		return e.session, nil
	}
	return s.authenticate(ctx, adapter, account, e)
}

// authenticate replaces the entry's session wholesale. Caller holds e.mu.
func (s *Store) authenticate(ctx context.Context, adapter broker.Adapter, account schema.AccountRecord, e *entry) (schema.Session, error) {
	e.setState(schema.SessionAuthenticating)
	sess, err := adapter.Authenticate(ctx, account)
	if err == nil && !sess.Valid() {
		err = errs.New(adapter.Name(), errs.CodeAuth,
			errs.WithAccount(account.ID), errs.WithMessage("login returned no token"))
	}
	if err != nil {
		s.metrics.RecordAuth(ctx, adapter.Name(), false)
		e.setState(schema.SessionNone)
		e.session = schema.Session{}
		return schema.Session{}, err
	}
	s.metrics.RecordAuth(ctx, adapter.Name(), true)
	now := s.now()
	if sess.AccountID == "" {
		sess.AccountID = account.ID
	}
	if sess.Broker == "" {
		sess.Broker = adapter.Name()
	}
	if sess.IssuedAt.IsZero() {
		sess.IssuedAt = now
	}
	sess.LastVerifiedAt = now
	e.session = sess
	e.setState(schema.SessionActive)
	return sess, nil
}

func (s *Store) verified(e *entry) {
	e.session.LastVerifiedAt = s.now()
	e.setState(schema.SessionActive)
}

func (s *Store) entry(accountID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[accountID]
	if !ok {
		e = &entry{}
		e.setState(schema.SessionNone)
		s.entries[accountID] = e
	}
	return e
}

// lock takes the broker lock (when configured) before the account lock.
func (s *Store) lock(account schema.AccountRecord) func() {
	var brokerLock *sync.Mutex
	if l, ok := s.brokerLocks[strings.ToLower(strings.TrimSpace(account.Broker))]; ok {
		brokerLock = l
		brokerLock.Lock()
	}
	e := s.entry(account.ID)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		if brokerLock != nil {
			brokerLock.Unlock()
		}
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
