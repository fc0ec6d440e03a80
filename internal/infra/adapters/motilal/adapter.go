// Package motilal implements the broker adapter for the Motilal Oswal OpenAPI.
package motilal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/pquerna/otp/totp"
	"github.com/sourcegraph/conc/iter"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

const (
	statusSuccess = "SUCCESS"
	marginRowKey  = "total available margin for cash"

	extraClientCode = "client_code"
	extraAPIKey     = "api_key"
)

var (
	authPhrases = []string{"invalid session", "session expired", "authorization is invalid", "invalid authorization", "login again"}
	authCodes   = map[string]struct{}{"MO1001": {}, "MO8050": {}}
	emptyPhrase = []string{"no record", "no data", "not found"}
)

var productTypes = map[string]string{
	"CNC":      "DELIVERY",
	"MIS":      "VALUEPLUS",
	"INTRADAY": "VALUEPLUS",
	"NRML":     "NORMAL",
}

// Adapter talks to Motilal on behalf of any number of accounts.
type Adapter struct {
	opts   Options
	client *shared.Client
}

// New constructs a Motilal adapter.
func New(opts Options) *Adapter {
	opts = withDefaults(opts)
	return &Adapter{
		opts:   opts,
		client: shared.NewClient(Name, opts.HTTPClient, opts.Logger),
	}
}

// Name implements broker.Adapter.
func (a *Adapter) Name() string { return Name }

// LotUnit implements broker.Adapter. Motilal takes quantities in lots.
func (a *Adapter) LotUnit() schema.LotUnit { return schema.LotUnitLots }

// Authenticate performs the direct login: hashed password, PAN as second
// factor and the current TOTP when a key is configured.
func (a *Adapter) Authenticate(ctx context.Context, account schema.AccountRecord) (schema.Session, error) {
	userID := account.Credential("userid", "client_id")
	if userID == "" {
		userID = account.ID
	}
	apiKey := account.Credential("apikey", "api_key")
	password := account.Credential("password")
	pan := account.Credential("pan", "PAN")
	if apiKey == "" || password == "" || pan == "" {
		return schema.Session{}, errs.New(Name, errs.CodeAuth,
			errs.WithAccount(account.ID),
			errs.WithMessage("missing credentials"))
	}

	req := loginRequest{UserID: userID, Password: hashPassword(password, apiKey), TwoFA: pan}
	if key := account.Credential("totpkey", "mpin", "otp"); key != "" {
		code, err := totp.GenerateCode(key, a.opts.Now())
		if err != nil {
			return schema.Session{}, errs.New(Name, errs.CodeAuth,
				errs.WithAccount(account.ID),
				errs.WithMessage("generate totp"),
				errs.WithCause(err))
		}
		req.TOTP = code
	}

	resp, err := a.client.Do(ctx, shared.Request{
		Method:  http.MethodPost,
		URL:     a.opts.restEndpoint(a.opts.paths.login),
		Headers: a.opts.headers(apiKey, userID, ""),
		Body:    req,
	})
	if err != nil {
		return schema.Session{}, err
	}
	var env envelope
	if err := a.client.Decode(resp, &env); err != nil {
		return schema.Session{}, err
	}
	if !strings.EqualFold(env.Status, statusSuccess) || strings.TrimSpace(env.AuthToken) == "" {
		return schema.Session{}, errs.New(Name, errs.CodeAuth,
			errs.WithAccount(account.ID),
			errs.WithHTTP(resp.Status),
			errs.WithMessage("login rejected"),
			errs.WithRawCode(env.ErrorCode),
			errs.WithRawMessage(env.Message))
	}
	now := a.opts.Now()
	return schema.Session{
		AccountID:      account.ID,
		Broker:         Name,
		Token:          strings.TrimSpace(env.AuthToken),
		Extra:          map[string]string{extraClientCode: userID, extraAPIKey: apiKey},
		IssuedAt:       now,
		LastVerifiedAt: now,
	}, nil
}

// ListOrders returns the order book since the start of today's session.
func (a *Adapter) ListOrders(ctx context.Context, sess schema.Session) ([]schema.NativeOrder, error) {
	rows, err := a.orderBook(ctx, sess)
	if err != nil {
		return nil, err
	}
	out := make([]schema.NativeOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, schema.NativeOrder{
			OrderID:  r.UniqueOrderID.String(),
			Symbol:   r.Symbol,
			Side:     r.BuyOrSell,
			Quantity: r.OrderQty.Float(),
			Price:    r.Price.Float(),
			Status:   r.OrderStatus,
		})
	}
	return out, nil
}

func (a *Adapter) orderBook(ctx context.Context, sess schema.Session) ([]orderRow, error) {
	var rows []orderRow
	body := clientRequest{
		ClientCode:    sess.Extra[extraClientCode],
		DateTimeStamp: a.opts.Now().Format("02-Jan-2006") + " 09:00:00",
	}
	if err := a.list(ctx, sess, a.opts.paths.orderBook, body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (a *Adapter) restingOrder(ctx context.Context, sess schema.Session, orderID string) (orderRow, error) {
	rows, err := a.orderBook(ctx, sess)
	if err != nil {
		return orderRow{}, err
	}
	for _, r := range rows {
		if r.UniqueOrderID.String() == orderID {
			return r, nil
		}
	}
	return orderRow{}, errs.New(Name, errs.CodeNotFound,
		errs.WithAccount(sess.AccountID),
		errs.WithMessage("order not found: "+orderID))
}

// ListPositions returns net positions with the LTP Motilal embeds in each row.
func (a *Adapter) ListPositions(ctx context.Context, sess schema.Session) ([]schema.NativePosition, error) {
	var rows []positionRow
	if err := a.list(ctx, sess, a.opts.paths.positions, clientRequest{ClientCode: sess.Extra[extraClientCode]}, &rows); err != nil {
		return nil, err
	}
	out := make([]schema.NativePosition, 0, len(rows))
	for _, r := range rows {
		buy, sell := r.BuyQuantity.Int(), r.SellQuantity.Int()
		var buyAvg, sellAvg float64
		if buy > 0 {
			buyAvg = r.BuyAmount.Float() / float64(buy)
		}
		if sell > 0 {
			sellAvg = r.SellAmount.Float() / float64(sell)
		}
		product := r.ProductName
		if product == "" {
			product = r.ProductType
		}
		out = append(out, schema.NativePosition{
			Symbol: r.Symbol,
			Instrument: schema.InstrumentRef{
				Exchange:    r.Exchange,
				Symbol:      r.Symbol,
				SecurityID:  r.SymbolToken.String(),
				SymbolToken: r.SymbolToken.String(),
			},
			ProductType: product,
			BuyQty:      buy,
			SellQty:     sell,
			BuyAvg:      buyAvg,
			SellAvg:     sellAvg,
			Booked:      r.BookedProfitLoss.Float(),
			LTP:         r.LTP.Float(),
		})
	}
	return out, nil
}

// ListHoldings returns DP holdings valued at the NSE LTP of each scrip. Rows
// without a scrip code or with no quantity are dropped before pricing.
func (a *Adapter) ListHoldings(ctx context.Context, sess schema.Session) ([]schema.NativeHolding, error) {
	var rows []holdingRow
	if err := a.list(ctx, sess, a.opts.paths.holdings, clientRequest{ClientCode: sess.Extra[extraClientCode]}, &rows); err != nil {
		return nil, err
	}
	priced := make([]holdingRow, 0, len(rows))
	for _, r := range rows {
		if r.scripCode() == 0 || r.quantity() <= 0 {
			continue
		}
		priced = append(priced, r)
	}
	mapper := iter.Mapper[holdingRow, schema.NativeHolding]{MaxGoroutines: a.opts.Config.LTPWorkers}
	return mapper.Map(priced, func(r *holdingRow) schema.NativeHolding {
		return schema.NativeHolding{
			Symbol:   r.symbol(),
			Quantity: r.quantity(),
			BuyAvg:   r.buyAvg(),
			LTP:      a.ltp(ctx, sess, r.scripCode()),
		}
	}), nil
}

// GetAvailableMargin reads the cash margin row of the margin summary.
func (a *Adapter) GetAvailableMargin(ctx context.Context, sess schema.Session) float64 {
	var rows []marginRow
	if err := a.list(ctx, sess, a.opts.paths.margin, clientRequest{ClientCode: sess.Extra[extraClientCode]}, &rows); err != nil {
		a.logf("margin summary unavailable: account=%s err=%v", sess.AccountID, err)
		return 0
	}
	for _, r := range rows {
		if strings.EqualFold(strings.TrimSpace(r.Particulars), marginRowKey) {
			return r.Amount.Float()
		}
	}
	return 0
}

// PlaceOrder submits intent; Quantity is already in lots.
func (a *Adapter) PlaceOrder(ctx context.Context, sess schema.Session, intent schema.OrderIntent) (schema.Ack, error) {
	token, err := symbolToken(intent.Instrument)
	if err != nil {
		return schema.Ack{}, errs.New(Name, errs.CodeInvalid,
			errs.WithAccount(intent.AccountID),
			errs.WithMessage("missing symboltoken"),
			errs.WithCause(err))
	}
	exchange := strings.ToUpper(strings.TrimSpace(intent.Exchange))
	if exchange == "" {
		exchange = "NSE"
	}
	amo := "N"
	if intent.IsAMO {
		amo = "Y"
	}
	req := placeRequest{
		ClientCode:        sess.Extra[extraClientCode],
		Exchange:          exchange,
		SymbolToken:       token,
		BuyOrSell:         string(intent.Action),
		OrderType:         orderType(intent.OrderType),
		ProductType:       productType(intent.ProductType),
		OrderDuration:     strings.ToUpper(intent.Validity),
		TriggerPrice:      intent.TriggerPrice,
		QuantityInLot:     intent.Quantity,
		DisclosedQuantity: intent.DisclosedQty,
		AMOOrder:          amo,
		Tag:               intent.Tag,
	}
	if req.OrderDuration == "" {
		req.OrderDuration = "DAY"
	}
	if intent.OrderType == schema.OrderTypeLimit || intent.OrderType == schema.OrderTypeStopLoss {
		req.Price = intent.Price
	}
	env, resp, err := a.call(ctx, sess, a.opts.paths.place, req)
	if err != nil {
		return schema.Ack{}, err
	}
	ack := toAck(env, resp)
	ack.Success = resp.OK() && (strings.EqualFold(env.Status, statusSuccess) ||
		strings.Contains(strings.ToLower(env.Message), "order placed"))
	return ack, nil
}

// CancelOrder cancels a resting order by its unique order id.
func (a *Adapter) CancelOrder(ctx context.Context, sess schema.Session, orderID string) (schema.Ack, error) {
	id := strings.TrimSpace(orderID)
	env, resp, err := a.call(ctx, sess, a.opts.paths.cancel, cancelRequest{ClientCode: sess.Extra[extraClientCode], UniqueOrderID: id})
	if err != nil {
		return schema.Ack{}, err
	}
	ack := toAck(env, resp)
	if ack.OrderID == "" {
		ack.OrderID = id
	}
	ack.Success = resp.OK() && (strings.EqualFold(env.Status, statusSuccess) ||
		strings.Contains(strings.ToLower(env.Message), "cancel order request sent"))
	return ack, nil
}

// ModifyOrder amends a resting order; quantity is in lots. Motilal replaces
// every field, so zero fields are carried over from the order book row.
func (a *Adapter) ModifyOrder(ctx context.Context, sess schema.Session, orderID string, delta schema.ModifyDelta) (schema.Ack, error) {
	id := strings.TrimSpace(orderID)
	resting, err := a.restingOrder(ctx, sess, id)
	if err != nil {
		return schema.Ack{}, err
	}
	req := modifyRequest{
		ClientCode:           sess.Extra[extraClientCode],
		UniqueOrderID:        id,
		NewOrderType:         orderType(delta.OrderType),
		NewOrderDuration:     strings.ToUpper(strings.TrimSpace(delta.Validity)),
		NewQuantityInLot:     delta.Quantity,
		NewDisclosedQuantity: delta.DisclosedQty,
		NewPrice:             delta.Price,
		NewTriggerPrice:      delta.TriggerPrice,
		LastModifiedTime:     resting.LastModifiedTime,
		QtyTradedToday:       resting.QtyTradedToday.Int(),
	}
	if req.NewOrderDuration == "" {
		req.NewOrderDuration = "DAY"
	}
	if req.NewQuantityInLot <= 0 {
		req.NewQuantityInLot = resting.lots()
	}
	if req.NewPrice <= 0 && delta.OrderType != schema.OrderTypeMarket && delta.OrderType != schema.OrderTypeStopLossMarket {
		req.NewPrice = resting.Price.Float()
	}
	if req.NewTriggerPrice <= 0 && delta.OrderType.IsStopLoss() {
		req.NewTriggerPrice = resting.TriggerPrice.Float()
	}
	if req.NewDisclosedQuantity <= 0 {
		req.NewDisclosedQuantity = resting.DisclosedQuantity.Int()
	}
	env, resp, err := a.call(ctx, sess, a.opts.paths.modify, req)
	if err != nil {
		return schema.Ack{}, err
	}
	ack := toAck(env, resp)
	if ack.OrderID == "" {
		ack.OrderID = id
	}
	ack.Success = resp.OK() && strings.EqualFold(env.Status, statusSuccess)
	return ack, nil
}

// call posts body and decodes the envelope. Authentication failures become
// errors; every other outcome is returned for the caller to classify.
func (a *Adapter) call(ctx context.Context, sess schema.Session, path string, body any) (envelope, shared.Response, error) {
	resp, err := a.client.Do(ctx, shared.Request{
		Method:  http.MethodPost,
		URL:     a.opts.restEndpoint(path),
		Headers: a.opts.headers(sess.Extra[extraAPIKey], sess.Extra[extraClientCode], sess.Token),
		Body:    body,
	})
	if err != nil {
		return envelope{}, shared.Response{}, err
	}
	var env envelope
	if !resp.Empty() {
		if err := a.client.Decode(resp, &env); err != nil {
			if resp.Status == http.StatusUnauthorized {
				return envelope{}, resp, authError(sess.AccountID, resp, env)
			}
			return envelope{}, resp, err
		}
	}
	if isAuthFailure(resp, env) {
		return env, resp, authError(sess.AccountID, resp, env)
	}
	return env, resp, nil
}

// list fetches an endpoint whose data is an array. "No records" answers
// yield no rows.
func (a *Adapter) list(ctx context.Context, sess schema.Session, path string, body any, out any) error {
	env, resp, err := a.call(ctx, sess, path, body)
	if err != nil {
		return err
	}
	if !resp.OK() || !strings.EqualFold(env.Status, statusSuccess) {
		if resp.OK() && containsAny(strings.ToLower(env.Message), emptyPhrase...) {
			return nil
		}
		return errs.New(Name, errs.CodeBroker,
			errs.WithAccount(sess.AccountID),
			errs.WithHTTP(resp.Status),
			errs.WithMessage("request "+path[strings.LastIndex(path, "/")+1:]),
			errs.WithRawCode(env.ErrorCode),
			errs.WithRawMessage(firstNonEmpty(env.Message, resp.Snippet())))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return a.client.Decode(shared.Response{Status: resp.Status, Body: env.Data}, out)
}

// ltp returns the last traded price in rupees; Motilal reports paise.
func (a *Adapter) ltp(ctx context.Context, sess schema.Session, scripCode int64) float64 {
	env, resp, err := a.call(ctx, sess, a.opts.paths.ltp, ltpRequest{
		ClientCode: sess.Extra[extraClientCode],
		Exchange:   "NSE",
		ScripCode:  scripCode,
	})
	if err != nil || !resp.OK() || !strings.EqualFold(env.Status, statusSuccess) || len(env.Data) == 0 {
		a.logf("ltp unavailable: account=%s scrip=%d err=%v", sess.AccountID, scripCode, err)
		return 0
	}
	var data ltpData
	if err := a.client.Decode(shared.Response{Status: resp.Status, Body: env.Data}, &data); err != nil {
		return 0
	}
	return data.LTP.Float() / 100
}

func (a *Adapter) logf(format string, args ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Printf(format, args...)
	}
}

func (r holdingRow) symbol() string {
	return strings.TrimSpace(firstNonEmpty(r.ScripName, r.Symbol))
}

func (r holdingRow) quantity() float64 {
	if r.DPQuantity != nil {
		return r.DPQuantity.Float()
	}
	return r.Quantity.Float()
}

func (r holdingRow) buyAvg() float64 {
	if r.BuyAvgPrice != nil {
		return r.BuyAvgPrice.Float()
	}
	return r.AvgPrice.Float()
}

func (r holdingRow) scripCode() int64 {
	raw := firstNonEmpty(r.NSESymbolToken.String(), r.SymbolToken.String(), r.Token.String())
	code, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return code
}

func toAck(env envelope, resp shared.Response) schema.Ack {
	ack := schema.Ack{
		OrderID:    env.UniqueOrderID.String(),
		Status:     firstNonEmpty(env.Status, env.ErrorCode),
		Message:    env.Message,
		HTTPStatus: resp.Status,
		Empty:      resp.Empty(),
	}
	if !ack.Empty {
		ack.Raw = append([]byte(nil), resp.Body...)
	}
	return ack
}

func isAuthFailure(resp shared.Response, env envelope) bool {
	if resp.Status == http.StatusUnauthorized {
		return true
	}
	if strings.EqualFold(env.Status, statusSuccess) {
		return false
	}
	if _, ok := authCodes[strings.ToUpper(strings.TrimSpace(env.ErrorCode))]; ok {
		return true
	}
	return containsAny(strings.ToLower(env.Message), authPhrases...)
}

func authError(accountID string, resp shared.Response, env envelope) error {
	return errs.New(Name, errs.CodeAuth,
		errs.WithAccount(accountID),
		errs.WithHTTP(resp.Status),
		errs.WithMessage("session rejected"),
		errs.WithRawCode(env.ErrorCode),
		errs.WithRawMessage(firstNonEmpty(env.Message, resp.Snippet())))
}

func hashPassword(password, apiKey string) string {
	sum := sha256.Sum256([]byte(password + apiKey))
	return hex.EncodeToString(sum[:])
}

func symbolToken(ref schema.InstrumentRef) (int64, error) {
	raw := firstNonEmpty(ref.SymbolToken, ref.SecurityID)
	return strconv.ParseInt(raw, 10, 64)
}

func orderType(t schema.OrderType) string {
	switch t {
	case schema.OrderTypeStopLoss, schema.OrderTypeStopLossMarket:
		return "STOPLOSS"
	case "":
		return string(schema.OrderTypeMarket)
	default:
		return string(t)
	}
}

func productType(product string) string {
	upper := strings.ToUpper(strings.TrimSpace(product))
	if mapped, ok := productTypes[upper]; ok {
		return mapped
	}
	if upper == "" {
		return "NORMAL"
	}
	return upper
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
