package router

import (
	"context"
	"strings"

	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/dispatch"
	"github.com/coachpo/multibroker/internal/app/normalize"
	"github.com/coachpo/multibroker/internal/app/resolver"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Operator-facing messages.
const (
	MsgClientNotFound   = "Client not found for: %s"
	MsgPositionNotFound = "Position not found: %s - %s"
	MsgAlreadyFlat      = "Already flat: %s - %s"
	MsgMissingOrderRef  = "name and order_id are required"
	MsgMissingCloseRef  = "name and symbol are required"
)

// OrderRef addresses one resting order by account display name.
type OrderRef struct {
	Name    string `json:"name"`
	OrderID string `json:"order_id"`
}

func (r OrderRef) key() string {
	return schema.ResultKey(strings.TrimSpace(r.OrderID), strings.TrimSpace(r.Name))
}

// ModifyRequest amends one resting order. Quantity is in broker units; see
// schema.ModifyDelta.
type ModifyRequest struct {
	OrderRef
	schema.ModifyDelta
}

// CancelOrders cancels each referenced order concurrently. Dispatched results
// are keyed "order_id:account_id". References that never resolve to an
// account (missing fields or unknown display name) are keyed
// "order_id:name" with the name as given, so the caller can match them back.
func (s *Service) CancelOrders(ctx context.Context, refs []OrderRef) schema.DispatchAggregate {
	units := make([]dispatch.Unit, 0, len(refs))
	var pre []schema.DispatchResult
	for _, ref := range refs {
		if strings.TrimSpace(ref.Name) == "" || strings.TrimSpace(ref.OrderID) == "" {
			pre = append(pre, invalidResult(ref.key(), MsgMissingOrderRef))
			continue
		}
		account, miss := s.byName(ctx, ref.key(), ref.Name)
		if miss != nil {
			pre = append(pre, *miss)
			continue
		}
		orderID := strings.TrimSpace(ref.OrderID)
		units = append(units, dispatch.Unit{
			Key:       schema.ResultKey(orderID, account.ID),
			Account:   account,
			Operation: dispatch.OpCancel,
			Accept:    normalize.CancelPhrases,
			Call: func(ctx context.Context, adapter broker.Adapter, sess schema.Session) (schema.Ack, error) {
				return adapter.CancelOrder(ctx, sess, orderID)
			},
		})
	}
	return s.engine.Execute(ctx, units, pre, nil)
}

// Modify amends each referenced order concurrently. Results are keyed like
// CancelOrders.
func (s *Service) Modify(ctx context.Context, reqs []ModifyRequest) schema.DispatchAggregate {
	units := make([]dispatch.Unit, 0, len(reqs))
	var pre []schema.DispatchResult
	for _, req := range reqs {
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.OrderID) == "" {
			pre = append(pre, invalidResult(req.key(), MsgMissingOrderRef))
			continue
		}
		delta := req.ModifyDelta
		delta.OrderType = schema.NormalizeOrderType(string(delta.OrderType))
		if msg := validateDelta(delta); msg != "" {
			pre = append(pre, invalidResult(req.key(), msg))
			continue
		}
		account, miss := s.byName(ctx, req.key(), req.Name)
		if miss != nil {
			pre = append(pre, *miss)
			continue
		}
		orderID := strings.TrimSpace(req.OrderID)
		units = append(units, dispatch.Unit{
			Key:       schema.ResultKey(orderID, account.ID),
			Account:   account,
			Operation: dispatch.OpModify,
			Accept:    normalize.ModifyPhrases,
			Call: func(ctx context.Context, adapter broker.Adapter, sess schema.Session) (schema.Ack, error) {
				return adapter.ModifyOrder(ctx, sess, orderID, delta)
			},
		})
	}
	return s.engine.Execute(ctx, units, pre, nil)
}

func validateDelta(d schema.ModifyDelta) string {
	switch {
	case d.OrderType == "":
		return "order_type is required"
	case d.Quantity < 0:
		return "quantity must be >= 0"
	case d.OrderType == schema.OrderTypeLimit && d.Price <= 0:
		return resolver.MsgLimitPrice
	case d.OrderType.IsStopLoss() && d.TriggerPrice <= 0:
		return resolver.MsgStopTrigger
	}
	return ""
}
