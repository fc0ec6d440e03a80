// Package broker defines the capability set every broker backend implements and
// the registry that maps broker identifiers to adapters at startup.
package broker

import (
	"context"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Adapter speaks one broker's wire protocol.
//
// Authentication failures must be returned as errs.CodeAuth envelopes so the
// session store can re-authenticate; every other failure is opaque to callers.
type Adapter interface {
	Name() string
	LotUnit() schema.LotUnit

	Authenticate(ctx context.Context, account schema.AccountRecord) (schema.Session, error)
	ListOrders(ctx context.Context, session schema.Session) ([]schema.NativeOrder, error)
	ListPositions(ctx context.Context, session schema.Session) ([]schema.NativePosition, error)
	ListHoldings(ctx context.Context, session schema.Session) ([]schema.NativeHolding, error)
	// GetAvailableMargin returns 0 on any failure.
	GetAvailableMargin(ctx context.Context, session schema.Session) float64
	PlaceOrder(ctx context.Context, session schema.Session, intent schema.OrderIntent) (schema.Ack, error)
	CancelOrder(ctx context.Context, session schema.Session, orderID string) (schema.Ack, error)
	ModifyOrder(ctx context.Context, session schema.Session, orderID string, delta schema.ModifyDelta) (schema.Ack, error)
}

// Prober is implemented by adapters that expose a cheaper liveness call than
// ListOrders. The session store falls back to ListOrders otherwise.
type Prober interface {
	Probe(ctx context.Context, session schema.Session) error
}
