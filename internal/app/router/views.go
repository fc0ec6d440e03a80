package router

import (
	"context"

	"github.com/sourcegraph/conc/iter"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/normalize"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

// AccountError reports one account that could not be read. The views still
// return every other account's rows.
type AccountError struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	Broker    string `json:"broker"`
	Kind      string `json:"error_kind"`
	Message   string `json:"error_message"`
}

// OrdersView is the bucketed order book across all accounts.
type OrdersView struct {
	schema.OrderBook
	Errors []AccountError `json:"errors,omitempty"`
}

// PositionsView is the open/closed position split across all accounts.
type PositionsView struct {
	schema.PositionBook
	Errors []AccountError `json:"errors,omitempty"`
}

// HoldingsView is the holdings listing plus per-account summaries.
type HoldingsView struct {
	schema.HoldingsReport
	Errors []AccountError `json:"errors,omitempty"`
}

type accountRead[T any] struct {
	value T
	err   *AccountError
}

// fanOut runs read for every account with a session, in parallel, and returns
// the outcomes in account order.
func fanOut[T any](ctx context.Context, s *Service, read func(ctx context.Context, account schema.AccountRecord, adapter broker.Adapter, sess schema.Session) (T, error)) ([]accountRead[T], error) {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	mapper := iter.Mapper[schema.AccountRecord, accountRead[T]]{MaxGoroutines: s.listWorkers}
	return mapper.Map(accounts, func(account *schema.AccountRecord) accountRead[T] {
		var out accountRead[T]
		err := s.sessions.CallWithAuth(ctx, *account, func(ctx context.Context, adapter broker.Adapter, sess schema.Session) error {
			var callErr error
			out.value, callErr = read(ctx, *account, adapter, sess)
			return callErr
		})
		if err != nil {
			kind, ok := errs.CodeOf(err)
			if !ok {
				kind = errs.CodeNetwork
			}
			out.err = &AccountError{
				Name:      account.Name(),
				AccountID: account.ID,
				Broker:    account.Broker,
				Kind:      string(kind),
				Message:   errs.Message(err),
			}
			s.logf("read %s (%s) failed: %v", account.Name(), account.Broker, err)
		}
		return out
	}), nil
}

// ListOrders returns every account's order book, bucketed by status.
func (s *Service) ListOrders(ctx context.Context) (OrdersView, error) {
	reads, err := fanOut(ctx, s, func(ctx context.Context, account schema.AccountRecord, adapter broker.Adapter, sess schema.Session) (schema.OrderBook, error) {
		rows, err := adapter.ListOrders(ctx, sess)
		if err != nil {
			return schema.OrderBook{}, err
		}
		return normalize.Orders(account, adapter.Name(), rows), nil
	})
	if err != nil {
		return OrdersView{}, err
	}
	var view OrdersView
	for _, r := range reads {
		if r.err != nil {
			view.Errors = append(view.Errors, *r.err)
			continue
		}
		view.Merge(r.value)
	}
	return view, nil
}

// ListPositions returns every account's positions split into open and closed.
func (s *Service) ListPositions(ctx context.Context) (PositionsView, error) {
	reads, err := fanOut(ctx, s, func(ctx context.Context, account schema.AccountRecord, adapter broker.Adapter, sess schema.Session) (schema.PositionBook, error) {
		rows, err := adapter.ListPositions(ctx, sess)
		if err != nil {
			return schema.PositionBook{}, err
		}
		return normalize.Positions(account, adapter.Name(), rows), nil
	})
	if err != nil {
		return PositionsView{}, err
	}
	var view PositionsView
	for _, r := range reads {
		if r.err != nil {
			view.Errors = append(view.Errors, *r.err)
			continue
		}
		normalize.MergePositions(&view.PositionBook, r.value)
	}
	return view, nil
}

type accountHoldings struct {
	rows    []schema.HoldingRow
	summary schema.SummaryRow
}

// Holdings returns every account's holdings and one summary row per account.
func (s *Service) Holdings(ctx context.Context) (HoldingsView, error) {
	reads, err := fanOut(ctx, s, func(ctx context.Context, account schema.AccountRecord, adapter broker.Adapter, sess schema.Session) (accountHoldings, error) {
		rows, err := adapter.ListHoldings(ctx, sess)
		if err != nil {
			return accountHoldings{}, err
		}
		margin := adapter.GetAvailableMargin(ctx, sess)
		holdings, summary := normalize.Holdings(account, adapter.Name(), rows, margin)
		return accountHoldings{rows: holdings, summary: summary}, nil
	})
	if err != nil {
		return HoldingsView{}, err
	}
	view := HoldingsView{HoldingsReport: schema.HoldingsReport{Holdings: []schema.HoldingRow{}, Summary: []schema.SummaryRow{}}}
	for _, r := range reads {
		if r.err != nil {
			view.Errors = append(view.Errors, *r.err)
			continue
		}
		view.Holdings = append(view.Holdings, r.value.rows...)
		view.Summary = append(view.Summary, r.value.summary)
	}
	return view, nil
}

// Summary returns only the per-account summary rows of Holdings.
func (s *Service) Summary(ctx context.Context) ([]schema.SummaryRow, []AccountError, error) {
	view, err := s.Holdings(ctx)
	if err != nil {
		return nil, nil, err
	}
	return view.Summary, view.Errors, nil
}
