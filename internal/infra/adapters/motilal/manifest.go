package motilal

import (
	"context"
	"log"

	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

// RegisterFactory installs the Motilal factory into the registry.
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
		if v, ok := shared.StringFromConfig(settings, "source_id"); ok {
			opts.Config.SourceID = v
		}
		if v, ok := shared.StringFromConfig(settings, "browser_name"); ok {
			opts.Config.BrowserName = v
		}
		if v, ok := shared.StringFromConfig(settings, "browser_version"); ok {
			opts.Config.BrowserVersion = v
		}
		if v, ok := shared.StringFromConfig(settings, "client_local_ip"); ok {
			opts.Config.ClientLocalIP = v
		}
		if v, ok := shared.StringFromConfig(settings, "client_public_ip"); ok {
			opts.Config.ClientPublicIP = v
		}
		if v, ok := shared.StringFromConfig(settings, "mac_address"); ok {
			opts.Config.MACAddress = v
		}
		if n, ok := shared.IntFromConfig(settings, "ltp_workers"); ok {
			opts.Config.LTPWorkers = n
		}
		return New(opts), nil
	})
}
