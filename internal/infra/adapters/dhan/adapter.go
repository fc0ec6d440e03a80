// Package dhan implements the broker adapter for the Dhan v2 REST API.
package dhan

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

const extraClientID = "client_id"

var authMarkers = [][]byte{[]byte("DH-901"), []byte("Invalid_Authentication")}

// Adapter talks to Dhan on behalf of any number of accounts. It holds no
// per-account state; tokens travel in the session.
type Adapter struct {
	opts   Options
	client *shared.Client
}

// New constructs a Dhan adapter.
func New(opts Options) *Adapter {
	opts = withDefaults(opts)
	return &Adapter{
		opts:   opts,
		client: shared.NewClient(Name, opts.HTTPClient, opts.Logger),
	}
}

// Name implements broker.Adapter.
func (a *Adapter) Name() string { return Name }

// LotUnit implements broker.Adapter. Dhan takes raw share counts.
func (a *Adapter) LotUnit() schema.LotUnit { return schema.LotUnitShares }

// Authenticate validates the account's access token against the profile endpoint.
func (a *Adapter) Authenticate(ctx context.Context, account schema.AccountRecord) (schema.Session, error) {
	token := account.Credential("access_token", "apikey")
	if token == "" {
		return schema.Session{}, errs.New(Name, errs.CodeAuth,
			errs.WithAccount(account.ID),
			errs.WithMessage("missing access token"))
	}
	sess := schema.Session{
		AccountID: account.ID,
		Broker:    Name,
		Token:     token,
		Extra:     map[string]string{extraClientID: clientID(account)},
	}
	if err := a.Probe(ctx, sess); err != nil {
		return schema.Session{}, err
	}
	sess.IssuedAt = a.opts.Now()
	sess.LastVerifiedAt = sess.IssuedAt
	return sess, nil
}

// Probe hits the profile endpoint; any non-2xx answer is an auth failure.
func (a *Adapter) Probe(ctx context.Context, sess schema.Session) error {
	resp, err := a.do(ctx, sess, http.MethodGet, a.opts.restEndpoint(a.opts.paths.profile), nil)
	if err != nil {
		return err
	}
	if err := authError(resp, sess.AccountID); err != nil {
		return err
	}
	if !resp.OK() {
		return errs.New(Name, errs.CodeAuth,
			errs.WithAccount(sess.AccountID),
			errs.WithHTTP(resp.Status),
			errs.WithMessage("profile check failed"),
			errs.WithRawMessage(resp.Snippet()))
	}
	return nil
}

// ListOrders returns the day's order book.
func (a *Adapter) ListOrders(ctx context.Context, sess schema.Session) ([]schema.NativeOrder, error) {
	var rows []orderRow
	if err := a.list(ctx, sess, a.opts.paths.orders, &rows); err != nil {
		return nil, err
	}
	out := make([]schema.NativeOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, schema.NativeOrder{
			OrderID:  r.OrderID.String(),
			Symbol:   r.TradingSymbol,
			Side:     r.TransactionType,
			Quantity: r.Quantity.Float(),
			Price:    r.Price.Float(),
			Status:   r.OrderStatus,
		})
	}
	return out, nil
}

// ListPositions returns the account's positions. Dhan reports its own
// unrealised P&L and no LTP, so Unrealized is always set.
func (a *Adapter) ListPositions(ctx context.Context, sess schema.Session) ([]schema.NativePosition, error) {
	var rows []positionRow
	if err := a.list(ctx, sess, a.opts.paths.positions, &rows); err != nil {
		return nil, err
	}
	out := make([]schema.NativePosition, 0, len(rows))
	for _, r := range rows {
		buy, sell := r.BuyQty.Int(), r.SellQty.Int()
		// netQty is authoritative when carry-forward legs make buy-sell disagree
		if net := r.NetQty.Int(); buy-sell != net {
			buy, sell = 0, 0
			if net > 0 {
				buy = net
			} else {
				sell = -net
			}
		}
		unrealized := r.UnrealizedProfit.Float()
		out = append(out, schema.NativePosition{
			Symbol: r.TradingSymbol,
			Instrument: schema.InstrumentRef{
				Exchange:   r.ExchangeSegment,
				Symbol:     r.TradingSymbol,
				SecurityID: r.SecurityID.String(),
			},
			ProductType: r.ProductType,
			BuyQty:      buy,
			SellQty:     sell,
			BuyAvg:      r.BuyAvg.Float(),
			SellAvg:     r.SellAvg.Float(),
			Booked:      r.RealizedProfit.Float(),
			Unrealized:  &unrealized,
		})
	}
	return out, nil
}

// ListHoldings returns demat holdings with the LTP Dhan embeds in each row.
func (a *Adapter) ListHoldings(ctx context.Context, sess schema.Session) ([]schema.NativeHolding, error) {
	var rows []holdingRow
	if err := a.list(ctx, sess, a.opts.paths.holdings, &rows); err != nil {
		return nil, err
	}
	out := make([]schema.NativeHolding, 0, len(rows))
	for _, r := range rows {
		qty := r.TotalQty.Float()
		if r.AvailableQty != nil {
			qty = r.AvailableQty.Float()
		}
		out = append(out, schema.NativeHolding{
			Symbol:   strings.TrimSpace(r.TradingSymbol),
			Quantity: qty,
			BuyAvg:   r.AvgCostPrice.Float(),
			LTP:      r.LastTradedPrice.Float(),
		})
	}
	return out, nil
}

// GetAvailableMargin reads the fund limit; failures yield 0.
func (a *Adapter) GetAvailableMargin(ctx context.Context, sess schema.Session) float64 {
	resp, err := a.do(ctx, sess, http.MethodGet, a.opts.restEndpoint(a.opts.paths.funds), nil)
	if err != nil || !resp.OK() || resp.Empty() {
		a.logf("fundlimit unavailable: account=%s err=%v", sess.AccountID, err)
		return 0
	}
	var funds fundLimit
	if err := a.client.Decode(resp, &funds); err != nil {
		a.logf("fundlimit decode: account=%s err=%v", sess.AccountID, err)
		return 0
	}
	if funds.AvailabelBalance != nil {
		return funds.AvailabelBalance.Float()
	}
	return funds.AvailableBalance.Float()
}

// PlaceOrder submits intent. Broker rejections come back as a non-successful
// Ack; only transport and authentication failures are errors.
func (a *Adapter) PlaceOrder(ctx context.Context, sess schema.Session, intent schema.OrderIntent) (schema.Ack, error) {
	securityID := strings.TrimSpace(intent.Instrument.SecurityID)
	if securityID == "" {
		return schema.Ack{}, errs.New(Name, errs.CodeInvalid,
			errs.WithAccount(intent.AccountID),
			errs.WithMessage("missing securityId"))
	}
	client := sess.Extra[extraClientID]
	req := placeRequest{
		DhanClientID:      client,
		CorrelationID:     a.correlation(intent, client),
		TransactionType:   string(intent.Action),
		ExchangeSegment:   exchangeSegment(intent.Exchange),
		ProductType:       productType(intent.ProductType),
		OrderType:         orderType(intent.OrderType),
		Validity:          strings.ToUpper(intent.Validity),
		SecurityID:        securityID,
		Quantity:          intent.Quantity,
		DisclosedQuantity: intent.DisclosedQty,
		AfterMarketOrder:  intent.IsAMO,
	}
	if req.Validity == "" {
		req.Validity = "DAY"
	}
	if intent.OrderType == schema.OrderTypeLimit || intent.OrderType == schema.OrderTypeStopLoss {
		req.Price = intent.Price
	}
	if intent.OrderType.IsStopLoss() {
		req.TriggerPrice = intent.TriggerPrice
	}
	if intent.IsAMO {
		req.AmoTime = "OPEN"
	}

	resp, err := a.do(ctx, sess, http.MethodPost, a.opts.restEndpoint(a.opts.paths.orders), req)
	if err != nil {
		return schema.Ack{}, err
	}
	if err := authError(resp, sess.AccountID); err != nil {
		return schema.Ack{}, err
	}
	ack, body := a.ack(resp)
	ack.Success = resp.OK() && (strings.EqualFold(body.Status, "success") ||
		(ack.OrderID != "" && !strings.HasPrefix(strings.ToUpper(body.OrderStatus), "REJECT")))
	return ack, nil
}

// CancelOrder deletes a resting order. Dhan answers cancels in several
// shapes; all of them are folded into Ack.Success.
func (a *Adapter) CancelOrder(ctx context.Context, sess schema.Session, orderID string) (schema.Ack, error) {
	resp, err := a.do(ctx, sess, http.MethodDelete, a.opts.orderEndpoint(orderID), nil)
	if err != nil {
		return schema.Ack{}, err
	}
	if err := authError(resp, sess.AccountID); err != nil {
		return schema.Ack{}, err
	}
	ack, body := a.ack(resp)
	if ack.OrderID == "" {
		ack.OrderID = strings.TrimSpace(orderID)
	}
	ack.Success = cancelAccepted(resp, body)
	if ack.Success && ack.Status == "" {
		ack.Status = "CANCELLED"
	}
	return ack, nil
}

// ModifyOrder amends a resting order.
func (a *Adapter) ModifyOrder(ctx context.Context, sess schema.Session, orderID string, delta schema.ModifyDelta) (schema.Ack, error) {
	id := strings.TrimSpace(orderID)
	req := modifyRequest{
		DhanClientID:      sess.Extra[extraClientID],
		OrderID:           id,
		OrderType:         orderType(delta.OrderType),
		Quantity:          delta.Quantity,
		Price:             delta.Price,
		DisclosedQuantity: delta.DisclosedQty,
		TriggerPrice:      delta.TriggerPrice,
		Validity:          strings.ToUpper(strings.TrimSpace(delta.Validity)),
	}
	if req.Validity == "" {
		req.Validity = "DAY"
	}
	resp, err := a.do(ctx, sess, http.MethodPut, a.opts.orderEndpoint(id), req)
	if err != nil {
		return schema.Ack{}, err
	}
	if err := authError(resp, sess.AccountID); err != nil {
		return schema.Ack{}, err
	}
	ack, body := a.ack(resp)
	if ack.OrderID == "" {
		ack.OrderID = id
	}
	ack.Success = resp.OK() && !strings.EqualFold(body.Status, "failure") &&
		!strings.HasPrefix(strings.ToUpper(body.OrderStatus), "REJECT") && body.ErrorCode == ""
	return ack, nil
}

func (a *Adapter) correlation(intent schema.OrderIntent, client string) string {
	if id := strings.TrimSpace(intent.CorrelationID); id != "" {
		return id
	}
	if intent.Tag == schema.TagSquareOff {
		return correlationID("SQ"+strconv.FormatInt(a.opts.Now().Unix(), 10), client)
	}
	return correlationID("ROUTER", client)
}

func (a *Adapter) do(ctx context.Context, sess schema.Session, method, url string, body any) (shared.Response, error) {
	return a.client.Do(ctx, shared.Request{
		Method:  method,
		URL:     url,
		Headers: map[string]string{"access-token": sess.Token},
		Body:    body,
	})
}

// list fetches a JSON array endpoint into out. Empty 2xx bodies yield no rows.
func (a *Adapter) list(ctx context.Context, sess schema.Session, path string, out any) error {
	resp, err := a.do(ctx, sess, http.MethodGet, a.opts.restEndpoint(path), nil)
	if err != nil {
		return err
	}
	if err := authError(resp, sess.AccountID); err != nil {
		return err
	}
	if !resp.OK() {
		var body errorBody
		_ = a.client.Decode(resp, &body)
		return errs.New(Name, errs.CodeBroker,
			errs.WithAccount(sess.AccountID),
			errs.WithHTTP(resp.Status),
			errs.WithMessage("list "+strings.TrimPrefix(path, "/v2/")),
			errs.WithRawCode(body.ErrorCode),
			errs.WithRawMessage(firstNonEmpty(body.text(), resp.Snippet())))
	}
	if resp.Empty() {
		return nil
	}
	return a.client.Decode(resp, out)
}

func (a *Adapter) ack(resp shared.Response) (schema.Ack, errorBody) {
	ack := schema.Ack{HTTPStatus: resp.Status, Empty: resp.Empty()}
	if !ack.Empty {
		ack.Raw = append([]byte(nil), resp.Body...)
	}
	var body errorBody
	if ack.Empty || a.client.Decode(resp, &body) != nil {
		if !ack.Empty {
			ack.Message = resp.Snippet()
		}
		return ack, body
	}
	ack.OrderID = body.OrderID.String()
	ack.Status = firstNonEmpty(body.OrderStatus, body.Status, body.ErrorCode)
	ack.Message = body.text()
	return ack, body
}

func (a *Adapter) logf(format string, args ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Printf(format, args...)
	}
}

func cancelAccepted(resp shared.Response, body errorBody) bool {
	if strings.EqualFold(strings.TrimSpace(body.Status), "success") {
		return true
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(body.OrderStatus)), "CANCEL") {
		return true
	}
	msg := strings.ToLower(body.text())
	if strings.Contains(msg, "cancel") {
		for _, w := range []string{"sent", "received", "already", "placed"} {
			if strings.Contains(msg, w) {
				return true
			}
		}
	}
	return resp.OK() && resp.Empty()
}

func authError(resp shared.Response, accountID string) error {
	marked := resp.Status == http.StatusUnauthorized
	for _, m := range authMarkers {
		if bytes.Contains(resp.Body, m) {
			marked = true
			break
		}
	}
	if !marked {
		return nil
	}
	return errs.New(Name, errs.CodeAuth,
		errs.WithAccount(accountID),
		errs.WithHTTP(resp.Status),
		errs.WithMessage("access token rejected"),
		errs.WithRawMessage(resp.Snippet()))
}

func clientID(account schema.AccountRecord) string {
	if id := account.Credential("client_id", "userid"); id != "" {
		return id
	}
	return account.ID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
