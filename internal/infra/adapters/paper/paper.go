// Package paper provides an in-memory broker for dry runs and tests. Market
// orders fill at the configured last traded price; everything else rests
// until cancelled.
package paper

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Name is the default broker identifier.
const Name = "paper"

// Order statuses reported in the paper order book.
const (
	StatusPending   = "PENDING"
	StatusTraded    = "TRADED"
	StatusCancelled = "CANCELLED"
	StatusRejected  = "REJECTED"
)

// Options configure the paper broker.
type Options struct {
	// Name overrides the broker identifier so one process can host several paper brokers.
	Name string
	Unit schema.LotUnit
	// SessionTTL expires tokens after the given age; zero keeps them forever.
	SessionTTL time.Duration
	// Latency delays every call, honouring context cancellation.
	Latency time.Duration
	// Prices maps upper-cased symbols (or security ids) to last traded prices.
	Prices map[string]float64
	// Cash is each account's starting available margin.
	Cash float64
	// Holdings seed every account's demat holdings.
	Holdings []schema.NativeHolding
	Logger   *log.Logger
	Now      func() time.Time
}

func withDefaults(in Options) Options {
	if strings.TrimSpace(in.Name) == "" {
		in.Name = Name
	}
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	if in.Now == nil {
		in.Now = time.Now
	}
	prices := make(map[string]float64, len(in.Prices))
	for k, v := range in.Prices {
		prices[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	in.Prices = prices
	return in
}

type token struct {
	accountID string
	issued    time.Time
}

type order struct {
	row    schema.NativeOrder
	intent schema.OrderIntent
}

type position struct {
	ref       schema.InstrumentRef
	product   string
	buyQty    int
	sellQty   int
	buyValue  decimal.Decimal
	sellValue decimal.Decimal
}

type book struct {
	orders    []*order
	positions map[string]*position
	cash      decimal.Decimal
}

// Adapter is the in-memory broker. It is safe for concurrent use.
type Adapter struct {
	opts Options

	mu     sync.Mutex
	seq    int64
	tokens map[string]token
	books  map[string]*book
}

// New constructs a paper broker.
func New(opts Options) *Adapter {
	return &Adapter{
		opts:   withDefaults(opts),
		tokens: make(map[string]token),
		books:  make(map[string]*book),
	}
}

// Name implements broker.Adapter.
func (a *Adapter) Name() string { return a.opts.Name }

// LotUnit implements broker.Adapter.
func (a *Adapter) LotUnit() schema.LotUnit { return a.opts.Unit }

// Authenticate issues a fresh token. Accounts whose credentials carry
// reject_login=true are refused.
func (a *Adapter) Authenticate(ctx context.Context, account schema.AccountRecord) (schema.Session, error) {
	if err := a.wait(ctx); err != nil {
		return schema.Session{}, err
	}
	if v, _ := strconv.ParseBool(account.Credential("reject_login")); v {
		return schema.Session{}, errs.New(a.opts.Name, errs.CodeAuth,
			errs.WithAccount(account.ID),
			errs.WithMessage("login refused"))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	tok := fmt.Sprintf("%s-%s-%d", a.opts.Name, account.ID, a.seq)
	now := a.opts.Now()
	a.tokens[tok] = token{accountID: account.ID, issued: now}
	a.bookFor(account.ID)
	return schema.Session{
		AccountID:      account.ID,
		Broker:         a.opts.Name,
		Token:          tok,
		IssuedAt:       now,
		LastVerifiedAt: now,
	}, nil
}

// Probe implements broker.Prober.
func (a *Adapter) Probe(ctx context.Context, sess schema.Session) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.check(sess)
}

// Expire invalidates every token issued to accountID, as a broker does when
// a session is revoked server-side.
func (a *Adapter) Expire(accountID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, t := range a.tokens {
		if t.accountID == accountID {
			delete(a.tokens, k)
		}
	}
}

// SetPrice updates the last traded price for symbol.
func (a *Adapter) SetPrice(symbol string, ltp float64) {
	a.mu.Lock()
	a.opts.Prices[strings.ToUpper(strings.TrimSpace(symbol))] = ltp
	a.mu.Unlock()
}

// ListOrders implements broker.Adapter.
func (a *Adapter) ListOrders(ctx context.Context, sess schema.Session) ([]schema.NativeOrder, error) {
	b, err := a.session(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer a.mu.Unlock()
	out := make([]schema.NativeOrder, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o.row)
	}
	return out, nil
}

// ListPositions implements broker.Adapter.
func (a *Adapter) ListPositions(ctx context.Context, sess schema.Session) ([]schema.NativePosition, error) {
	b, err := a.session(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer a.mu.Unlock()
	out := make([]schema.NativePosition, 0, len(b.positions))
	for _, p := range b.positions {
		buyAvg, sellAvg := average(p.buyValue, p.buyQty), average(p.sellValue, p.sellQty)
		closed := min(p.buyQty, p.sellQty)
		booked := sellAvg.Sub(buyAvg).Mul(decimal.NewFromInt(int64(closed)))
		out = append(out, schema.NativePosition{
			Symbol:      p.ref.Symbol,
			Instrument:  p.ref,
			ProductType: p.product,
			BuyQty:      p.buyQty,
			SellQty:     p.sellQty,
			BuyAvg:      buyAvg.InexactFloat64(),
			SellAvg:     sellAvg.InexactFloat64(),
			Booked:      booked.InexactFloat64(),
			LTP:         a.price(p.ref),
		})
	}
	return out, nil
}

// ListHoldings returns the seeded holdings priced at current LTPs.
func (a *Adapter) ListHoldings(ctx context.Context, sess schema.Session) ([]schema.NativeHolding, error) {
	if _, err := a.session(ctx, sess); err != nil {
		return nil, err
	}
	defer a.mu.Unlock()
	out := make([]schema.NativeHolding, 0, len(a.opts.Holdings))
	for _, h := range a.opts.Holdings {
		if ltp := a.price(schema.InstrumentRef{Symbol: h.Symbol}); ltp > 0 {
			h.LTP = ltp
		}
		out = append(out, h)
	}
	return out, nil
}

// GetAvailableMargin implements broker.Adapter.
func (a *Adapter) GetAvailableMargin(ctx context.Context, sess schema.Session) float64 {
	b, err := a.session(ctx, sess)
	if err != nil {
		return 0
	}
	defer a.mu.Unlock()
	return b.cash.InexactFloat64()
}

// PlaceOrder implements broker.Adapter.
func (a *Adapter) PlaceOrder(ctx context.Context, sess schema.Session, intent schema.OrderIntent) (schema.Ack, error) {
	b, err := a.session(ctx, sess)
	if err != nil {
		return schema.Ack{}, err
	}
	defer a.mu.Unlock()

	a.seq++
	o := &order{
		intent: intent,
		row: schema.NativeOrder{
			OrderID:  fmt.Sprintf("PAPER-%d", a.seq),
			Symbol:   intent.Instrument.Symbol,
			Side:     string(intent.Action),
			Quantity: float64(intent.Quantity),
			Price:    intent.Price,
			Status:   StatusPending,
		},
	}
	b.orders = append(b.orders, o)

	if intent.Quantity <= 0 {
		o.row.Status = StatusRejected
		return schema.Ack{OrderID: o.row.OrderID, Status: StatusRejected, Message: "quantity must be > 0"}, nil
	}
	ltp := a.price(intent.Instrument)
	switch intent.OrderType {
	case schema.OrderTypeMarket, "":
		fill := ltp
		if fill <= 0 {
			fill = intent.Price
		}
		if fill <= 0 {
			o.row.Status = StatusRejected
			return schema.Ack{OrderID: o.row.OrderID, Status: StatusRejected, Message: "no price for " + intent.Instrument.Symbol}, nil
		}
		a.fill(b, o, fill)
	case schema.OrderTypeLimit:
		if marketable(intent.Action, intent.Price, ltp) {
			a.fill(b, o, intent.Price)
		}
	}
	a.logf("placed %s %s %d %s status=%s", o.row.OrderID, intent.Action, intent.Quantity, intent.Instrument.Symbol, o.row.Status)
	return schema.Ack{OrderID: o.row.OrderID, Status: o.row.Status, Message: "order placed", Success: true}, nil
}

// CancelOrder cancels a resting order.
func (a *Adapter) CancelOrder(ctx context.Context, sess schema.Session, orderID string) (schema.Ack, error) {
	b, err := a.session(ctx, sess)
	if err != nil {
		return schema.Ack{}, err
	}
	defer a.mu.Unlock()
	o := b.find(orderID)
	switch {
	case o == nil:
		return schema.Ack{OrderID: orderID, Status: StatusRejected, Message: "order not found"}, nil
	case o.row.Status != StatusPending:
		return schema.Ack{OrderID: orderID, Status: o.row.Status, Message: "order is " + strings.ToLower(o.row.Status)}, nil
	}
	o.row.Status = StatusCancelled
	return schema.Ack{OrderID: orderID, Status: StatusCancelled, Message: "cancelled successfully", Success: true}, nil
}

// ModifyOrder amends a resting order; zero fields are left unchanged.
func (a *Adapter) ModifyOrder(ctx context.Context, sess schema.Session, orderID string, delta schema.ModifyDelta) (schema.Ack, error) {
	b, err := a.session(ctx, sess)
	if err != nil {
		return schema.Ack{}, err
	}
	defer a.mu.Unlock()
	o := b.find(orderID)
	if o == nil {
		return schema.Ack{OrderID: orderID, Status: StatusRejected, Message: "order not found"}, nil
	}
	if o.row.Status != StatusPending {
		return schema.Ack{OrderID: orderID, Status: o.row.Status, Message: "order is " + strings.ToLower(o.row.Status)}, nil
	}
	if delta.OrderType != "" {
		o.intent.OrderType = delta.OrderType
	}
	if delta.Quantity > 0 {
		o.intent.Quantity = delta.Quantity
		o.row.Quantity = float64(delta.Quantity)
	}
	if delta.Price > 0 {
		o.intent.Price = delta.Price
		o.row.Price = delta.Price
	}
	if delta.TriggerPrice > 0 {
		o.intent.TriggerPrice = delta.TriggerPrice
	}
	if o.intent.OrderType == schema.OrderTypeLimit && marketable(o.intent.Action, o.intent.Price, a.price(o.intent.Instrument)) {
		a.fill(b, o, o.intent.Price)
	}
	return schema.Ack{OrderID: orderID, Status: o.row.Status, Message: "order modified", Success: true}, nil
}

// session validates sess and returns its book with a.mu held on success.
func (a *Adapter) session(ctx context.Context, sess schema.Session) (*book, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	if err := a.check(sess); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	return a.bookFor(sess.AccountID), nil
}

func (a *Adapter) check(sess schema.Session) error {
	t, ok := a.tokens[sess.Token]
	if !ok || t.accountID != sess.AccountID {
		return errs.New(a.opts.Name, errs.CodeAuth, errs.WithAccount(sess.AccountID), errs.WithMessage("invalid session"))
	}
	if ttl := a.opts.SessionTTL; ttl > 0 && a.opts.Now().Sub(t.issued) >= ttl {
		delete(a.tokens, sess.Token)
		return errs.New(a.opts.Name, errs.CodeAuth, errs.WithAccount(sess.AccountID), errs.WithMessage("session expired"))
	}
	return nil
}

func (a *Adapter) bookFor(accountID string) *book {
	b, ok := a.books[accountID]
	if !ok {
		b = &book{positions: make(map[string]*position), cash: decimal.NewFromFloat(a.opts.Cash)}
		a.books[accountID] = b
	}
	return b
}

func (a *Adapter) fill(b *book, o *order, price float64) {
	o.row.Status = StatusTraded
	o.row.Price = price
	key := o.intent.Instrument.Key()
	p, ok := b.positions[key]
	if !ok {
		p = &position{ref: o.intent.Instrument, product: o.intent.ProductType}
		b.positions[key] = p
	}
	qty := o.intent.Quantity
	value := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(qty)))
	if o.intent.Action == schema.SideSell {
		p.sellQty += qty
		p.sellValue = p.sellValue.Add(value)
		b.cash = b.cash.Add(value)
		return
	}
	p.buyQty += qty
	p.buyValue = p.buyValue.Add(value)
	b.cash = b.cash.Sub(value)
}

func (a *Adapter) price(ref schema.InstrumentRef) float64 {
	if v, ok := a.opts.Prices[strings.ToUpper(strings.TrimSpace(ref.Symbol))]; ok {
		return v
	}
	if ref.SecurityID != "" {
		return a.opts.Prices[strings.ToUpper(ref.SecurityID)]
	}
	return 0
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.opts.Latency > 0 {
		timer := time.NewTimer(a.opts.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return errs.New(a.opts.Name, errs.CodeNetwork, errs.WithMessage("request cancelled"), errs.WithCause(err))
	}
	return nil
}

func (a *Adapter) logf(format string, args ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Printf(format, args...)
	}
}

func (b *book) find(orderID string) *order {
	id := strings.TrimSpace(orderID)
	for _, o := range b.orders {
		if o.row.OrderID == id {
			return o
		}
	}
	return nil
}

func marketable(side schema.Side, limit, ltp float64) bool {
	if ltp <= 0 || limit <= 0 {
		return false
	}
	if side == schema.SideSell {
		return ltp >= limit
	}
	return ltp <= limit
}

func average(value decimal.Decimal, qty int) decimal.Decimal {
	if qty <= 0 {
		return decimal.Zero
	}
	return value.Div(decimal.NewFromInt(int64(qty)))
}
