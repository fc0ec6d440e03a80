// Package resolver expands one operator instruction into per-account order intents.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/coachpo/multibroker/errs"
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/sizing"
	"github.com/coachpo/multibroker/internal/domain/directory"
	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Validation messages.
const (
	MsgLimitPrice     = "LIMIT requires price > 0"
	MsgStopTrigger    = "stop-loss order requires trigger_price > 0"
	MsgQuantity       = "quantity must be > 0"
	MsgUnknownAccount = "unknown account"
	MsgAction         = "action must be BUY or SELL"
)

// ReasonDuplicate prefixes the skip reason for a repeated target key.
const ReasonDuplicate = "duplicate_target:"

// Resolution is the outcome of resolving one instruction. Invalid holds one
// ERROR result per target that failed validation; those never reach a broker.
type Resolution struct {
	Intents []schema.OrderIntent
	Invalid []schema.DispatchResult
	Skipped []schema.SkippedItem
}

// Resolver turns instructions into intents.
type Resolver struct {
	accounts directory.AccountDirectory
	groups   directory.GroupDirectory
	lots     directory.LotSizer
	adapters *broker.Set
	sizer    sizing.Sizer
}

// New constructs a resolver. A nil sizer sizes AUTO with the base quantity and
// a nil lot sizer treats every lot size as 1.
func New(accounts directory.AccountDirectory, groups directory.GroupDirectory, lots directory.LotSizer, adapters *broker.Set, sizer sizing.Sizer) *Resolver {
	if sizer == nil {
		sizer = sizing.BaseQuantity{}
	}
	if lots == nil {
		lots = directory.LotSizerFunc(nil)
	}
	return &Resolver{
		accounts: accounts,
		groups:   groups,
		lots:     lots,
		adapters: adapters,
		sizer:    sizer,
	}
}

type target struct {
	accountID  string
	groupRef   string
	multiplier int
}

// Resolve expands ins for the given tag. The first target for an account
// yields exactly one intent or one invalid result, whichever it resolves to;
// later targets for the same account and missing groups are reported as
// skipped.
func (r *Resolver) Resolve(ctx context.Context, tag string, ins schema.Instruction) Resolution {
	var out Resolution
	targets := r.targets(ctx, ins, &out)
	lotSizes := make(map[string]int)
	claimed := make(map[string]struct{}, len(targets))

	for _, t := range targets {
		key := schema.ResultKey(tag, t.accountID)
		if _, dup := claimed[key]; dup {
			out.Skipped = append(out.Skipped, schema.SkippedItem{Key: key, Reason: ReasonDuplicate + key})
			continue
		}
		claimed[key] = struct{}{}
		account, err := r.lookupAccount(ctx, t.accountID)
		if err != nil {
			out.Invalid = append(out.Invalid, invalid(key, t.accountID, "", MsgUnknownAccount+" "+t.accountID))
			continue
		}
		if msg := validatePrices(ins); msg != "" {
			out.Invalid = append(out.Invalid, invalid(key, account.ID, account.Broker, msg))
			continue
		}
		adapter, ok := r.adapters.Get(account.Broker)
		if !ok {
			out.Invalid = append(out.Invalid, invalid(key, account.ID, account.Broker,
				fmt.Sprintf("broker %q not configured", account.Broker)))
			continue
		}
		qty, err := r.quantity(ctx, ins, account, t)
		if err != nil {
			out.Invalid = append(out.Invalid, invalid(key, account.ID, account.Broker, errs.Message(err)))
			continue
		}
		if qty <= 0 {
			out.Invalid = append(out.Invalid, invalid(key, account.ID, account.Broker, MsgQuantity))
			continue
		}

		memo := ins.Instrument.Key() + "|" + strings.ToLower(account.Broker)
		lotSize, seen := lotSizes[memo]
		if !seen {
			lotSize = schema.NormalizeLotSize(r.lots.LotSize(ins.Instrument, account.Broker))
			lotSizes[memo] = lotSize
		}

		out.Intents = append(out.Intents, schema.OrderIntent{
			AccountID:     account.ID,
			Broker:        strings.ToLower(account.Broker),
			Tag:           tag,
			Action:        ins.Action,
			OrderType:     ins.OrderType,
			ProductType:   strings.ToUpper(strings.TrimSpace(ins.ProductType)),
			Validity:      validity(ins.Validity),
			Exchange:      ins.Instrument.Exchange,
			Price:         ins.Price,
			TriggerPrice:  ins.TriggerPrice,
			DisclosedQty:  ins.DisclosedQty,
			IsAMO:         ins.AMO,
			CorrelationID: ins.CorrelationID,
			Quantity:      adapter.LotUnit().OrderQuantity(qty, lotSize),
			Instrument:    ins.Instrument,
		})
	}
	return out
}

// Normalize canonicalises the free-text fields of an instruction in place.
func Normalize(ins *schema.Instruction) {
	ins.Action = schema.NormalizeSide(string(ins.Action))
	ins.OrderType = schema.NormalizeOrderType(string(ins.OrderType))
	if ins.OrderType == "" {
		ins.OrderType = schema.OrderTypeMarket
	}
	ins.QuantityMode = schema.NormalizeQuantityMode(string(ins.QuantityMode))
	ins.Instrument.Exchange = strings.ToUpper(strings.TrimSpace(ins.Instrument.Exchange))
}

func (r *Resolver) targets(ctx context.Context, ins schema.Instruction, out *Resolution) []target {
	if len(ins.Targets.Groups) == 0 {
		targets := make([]target, 0, len(ins.Targets.Accounts))
		for _, id := range ins.Targets.Accounts {
			if id = strings.TrimSpace(id); id != "" {
				targets = append(targets, target{accountID: id, multiplier: 1})
			}
		}
		return targets
	}
	var targets []target
	for _, ref := range ins.Targets.Groups {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		var (
			members    []string
			multiplier int
			err        error
		)
		if r.groups != nil {
			members, multiplier, err = r.groups.ResolveGroupMembers(ctx, ref)
		} else {
			err = errs.New("", errs.CodeNotFound, errs.WithMessage("no group directory"))
		}
		if err != nil {
			out.Skipped = append(out.Skipped, schema.SkippedItem{Reason: "group_not_found:" + ref})
			continue
		}
		multiplier = directory.NormalizeMultiplier(multiplier)
		for _, id := range directory.DedupeMembers(members) {
			targets = append(targets, target{accountID: id, groupRef: ref, multiplier: multiplier})
		}
	}
	return targets
}

func (r *Resolver) lookupAccount(ctx context.Context, id string) (schema.AccountRecord, error) {
	if r.accounts == nil {
		return schema.AccountRecord{}, errs.New("", errs.CodeNotFound, errs.WithAccount(id))
	}
	return r.accounts.GetAccount(ctx, id)
}

// quantity resolves the lot quantity for one target before lot conversion.
func (r *Resolver) quantity(ctx context.Context, ins schema.Instruction, account schema.AccountRecord, t target) (int, error) {
	switch ins.QuantityMode {
	case schema.QuantityPerAccount:
		if q, ok := ins.PerAccountQty[account.ID]; ok {
			return q, nil
		}
		if t.groupRef != "" {
			if q, ok := ins.PerGroupQty[t.groupRef]; ok {
				return q, nil
			}
		}
		return 0, nil
	case schema.QuantityGroupMultiplier:
		return ins.Quantity * directory.NormalizeMultiplier(t.multiplier), nil
	case schema.QuantityAuto:
		q, err := r.sizer.Size(ctx, account, ins)
		if err != nil {
			return 0, errs.New(account.Broker, errs.CodeInvalid,
				errs.WithAccount(account.ID), errs.WithMessage("auto sizing failed"), errs.WithCause(err))
		}
		return q, nil
	default:
		if q, ok := ins.PerAccountQty[account.ID]; ok {
			return q, nil
		}
		return ins.Quantity, nil
	}
}

func validatePrices(ins schema.Instruction) string {
	switch {
	case ins.Action != schema.SideBuy && ins.Action != schema.SideSell:
		return MsgAction
	case ins.OrderType == schema.OrderTypeLimit && ins.Price <= 0:
		return MsgLimitPrice
	case ins.OrderType.IsStopLoss() && ins.TriggerPrice <= 0:
		return MsgStopTrigger
	}
	return ""
}

func validity(raw string) string {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if v == "" {
		return "DAY"
	}
	return v
}

func invalid(key, accountID, brokerName, msg string) schema.DispatchResult {
	return schema.DispatchResult{
		Key:          key,
		AccountID:    accountID,
		Broker:       brokerName,
		Status:       schema.ResultError,
		ErrorKind:    string(errs.CodeInvalid),
		ErrorMessage: msg,
	}
}
