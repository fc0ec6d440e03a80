package dhan

import (
	"context"
	"log"

	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

// RegisterFactory installs the Dhan factory into the registry.
func RegisterFactory(reg *broker.Registry) {
	if reg == nil {
		return
	}
	reg.Register(Name, func(_ context.Context, cfg map[string]any, logger *log.Logger) (broker.Adapter, error) {
		var opts Options
		opts.Logger = logger

		settings := shared.Settings(cfg)
		if base, ok := shared.StringFromConfig(settings, "base_url"); ok {
			opts.Config.BaseURL = base
		}
		if timeout, ok := shared.DurationFromConfig(settings, "http_timeout"); ok {
			opts.Config.HTTPTimeout = timeout
		}
		return New(opts), nil
	})
}
