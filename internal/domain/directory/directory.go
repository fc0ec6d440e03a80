// Package directory declares the read-side contracts the router consumes for
// accounts, groups and lot sizes.
package directory

import (
	"context"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// AccountDirectory resolves brokerage accounts. Lookups that miss return an
// error carrying errs.CodeNotFound.
type AccountDirectory interface {
	GetAccount(ctx context.Context, accountID string) (schema.AccountRecord, error)
	ListAccountsByBroker(ctx context.Context, broker string) ([]schema.AccountRecord, error)
	// FindAccountByDisplayName matches case-insensitively on the full name.
	FindAccountByDisplayName(ctx context.Context, name string) (schema.AccountRecord, error)
}

// GroupDirectory expands a group reference (id or name) into member account ids
// and the group's quantity multiplier.
type GroupDirectory interface {
	ResolveGroupMembers(ctx context.Context, groupRef string) ([]string, int, error)
}

// LotSizer returns the lot size for an instrument on a broker. It never fails:
// any miss returns 1.
type LotSizer interface {
	LotSize(ref schema.InstrumentRef, broker string) int
}

// LotSizerFunc adapts a function to LotSizer.
type LotSizerFunc func(ref schema.InstrumentRef, broker string) int

// LotSize implements LotSizer.
func (f LotSizerFunc) LotSize(ref schema.InstrumentRef, broker string) int {
	if f == nil {
		return 1
	}
	return schema.NormalizeLotSize(f(ref, broker))
}
