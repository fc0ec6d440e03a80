package motilal

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

// envelope is the response shape shared by every Motilal endpoint.
type envelope struct {
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	ErrorCode     string          `json:"errorcode"`
	AuthToken     string          `json:"AuthToken"`
	UniqueOrderID shared.Text     `json:"uniqueorderid"`
	Data          json.RawMessage `json:"data"`
}

type loginRequest struct {
	UserID   string `json:"userid"`
	Password string `json:"password"`
	TwoFA    string `json:"2FA"`
	TOTP     string `json:"totp,omitempty"`
}

type clientRequest struct {
	ClientCode    string `json:"clientcode"`
	DateTimeStamp string `json:"datetimestamp,omitempty"`
}

type orderRow struct {
	UniqueOrderID     shared.Text   `json:"uniqueorderid"`
	Symbol            string        `json:"symbol"`
	BuyOrSell         string        `json:"buyorsell"`
	OrderQty          shared.Number `json:"orderqty"`
	LotSize           shared.Number `json:"lotsize"`
	Price             shared.Number `json:"price"`
	TriggerPrice      shared.Number `json:"triggerprice"`
	DisclosedQuantity shared.Number `json:"disclosedquantity"`
	QtyTradedToday    shared.Number `json:"qtytradedtoday"`
	LastModifiedTime  string        `json:"lastmodifiedtime"`
	OrderStatus       string        `json:"orderstatus"`
}

// lots is the resting order size in lots, never below one.
func (r orderRow) lots() int {
	size := r.LotSize.Int()
	if size <= 0 {
		size = 1
	}
	lots := r.OrderQty.Int() / size
	if lots < 1 {
		lots = 1
	}
	return lots
}

type positionRow struct {
	Symbol           string        `json:"symbol"`
	SymbolToken      shared.Text   `json:"symboltoken"`
	Exchange         string        `json:"exchange"`
	ProductName      string        `json:"productname"`
	ProductType      string        `json:"producttype"`
	BuyQuantity      shared.Number `json:"buyquantity"`
	SellQuantity     shared.Number `json:"sellquantity"`
	BuyAmount        shared.Number `json:"buyamount"`
	SellAmount       shared.Number `json:"sellamount"`
	BookedProfitLoss shared.Number `json:"bookedprofitloss"`
	LTP              shared.Number `json:"LTP"`
}

type holdingRow struct {
	ScripName      string         `json:"scripname"`
	Symbol         string         `json:"symbol"`
	DPQuantity     *shared.Number `json:"dpquantity"`
	Quantity       shared.Number  `json:"quantity"`
	BuyAvgPrice    *shared.Number `json:"buyavgprice"`
	AvgPrice       shared.Number  `json:"avgprice"`
	NSESymbolToken shared.Text    `json:"nsesymboltoken"`
	SymbolToken    shared.Text    `json:"symboltoken"`
	Token          shared.Text    `json:"token"`
}

type marginRow struct {
	Particulars string        `json:"particulars"`
	Amount      shared.Number `json:"amount"`
}

type ltpRequest struct {
	ClientCode string `json:"clientcode"`
	Exchange   string `json:"exchange"`
	ScripCode  int64  `json:"scripcode"`
}

type ltpData struct {
	LTP shared.Number `json:"ltp"`
}

type placeRequest struct {
	ClientCode        string  `json:"clientcode"`
	Exchange          string  `json:"exchange"`
	SymbolToken       int64   `json:"symboltoken"`
	BuyOrSell         string  `json:"buyorsell"`
	OrderType         string  `json:"ordertype"`
	ProductType       string  `json:"producttype"`
	OrderDuration     string  `json:"orderduration"`
	Price             float64 `json:"price"`
	TriggerPrice      float64 `json:"triggerprice"`
	QuantityInLot     int     `json:"quantityinlot"`
	DisclosedQuantity int     `json:"disclosedquantity"`
	AMOOrder          string  `json:"amoorder"`
	AlgoID            string  `json:"algoid"`
	GoodTillDate      string  `json:"goodtilldate"`
	Tag               string  `json:"tag"`
}

type cancelRequest struct {
	ClientCode    string `json:"clientcode"`
	UniqueOrderID string `json:"uniqueorderid"`
}

type modifyRequest struct {
	ClientCode           string  `json:"clientcode"`
	UniqueOrderID        string  `json:"uniqueorderid"`
	NewOrderType         string  `json:"newordertype"`
	NewOrderDuration     string  `json:"neworderduration"`
	NewQuantityInLot     int     `json:"newquantityinlot"`
	NewDisclosedQuantity int     `json:"newdisclosedquantity"`
	NewPrice             float64 `json:"newprice"`
	NewTriggerPrice      float64 `json:"newtriggerprice"`
	NewGoodTillDate      string  `json:"newgoodtilldate"`
	LastModifiedTime     string  `json:"lastmodifiedtime,omitempty"`
	QtyTradedToday       int     `json:"qtytradedtoday"`
}
