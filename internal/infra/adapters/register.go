// Package adapters wires built-in broker adapters into the registry.
package adapters

import (
	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/infra/adapters/dhan"
	"github.com/coachpo/multibroker/internal/infra/adapters/motilal"
	"github.com/coachpo/multibroker/internal/infra/adapters/paper"
)

// RegisterAll installs every built-in adapter into the provided registry.
func RegisterAll(reg *broker.Registry) {
	if reg == nil {
		return
	}
	dhan.RegisterFactory(reg)
	motilal.RegisterFactory(reg)

	// In-memory broker used for dry runs and testing.
	paper.RegisterFactory(reg)
}
