// Package sizing implements the AUTO quantity mode.
package sizing

import (
	"context"

	"github.com/coachpo/multibroker/internal/domain/schema"
)

// Sizer decides the lot quantity for one account under AUTO mode.
type Sizer interface {
	Size(ctx context.Context, account schema.AccountRecord, instruction schema.Instruction) (int, error)
}

// BaseQuantity sizes every account with the instruction's base quantity.
type BaseQuantity struct{}

// Size implements Sizer.
func (BaseQuantity) Size(_ context.Context, _ schema.AccountRecord, instruction schema.Instruction) (int, error) {
	return instruction.Quantity, nil
}

// Func adapts a function to Sizer.
type Func func(ctx context.Context, account schema.AccountRecord, instruction schema.Instruction) (int, error)

// Size implements Sizer.
func (f Func) Size(ctx context.Context, account schema.AccountRecord, instruction schema.Instruction) (int, error) {
	return f(ctx, account, instruction)
}
