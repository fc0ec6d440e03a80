package dhan

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

// Name is the broker identifier Dhan accounts carry.
const Name = "dhan"

const (
	defaultBaseURL     = "https://api.dhan.co"
	defaultHTTPTimeout = 10 * time.Second
)

type endpoints struct {
	profile   string
	orders    string
	positions string
	holdings  string
	funds     string
}

var dhanEndpoints = endpoints{
	profile:   "/v2/profile",
	orders:    "/v2/orders",
	positions: "/v2/positions",
	holdings:  "/v2/holdings",
	funds:     "/v2/fundlimit",
}

// Config captures user-overridable Dhan settings.
type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

// Options configure the Dhan adapter.
type Options struct {
	Config     Config
	HTTPClient *http.Client
	Logger     *log.Logger
	// Now stamps sessions and square-off correlation ids.
	Now func() time.Time

	paths endpoints
}

func withDefaults(in Options) Options {
	in.paths = dhanEndpoints
	if strings.TrimSpace(in.Config.BaseURL) == "" {
		in.Config.BaseURL = defaultBaseURL
	}
	if in.Config.HTTPTimeout <= 0 {
		in.Config.HTTPTimeout = defaultHTTPTimeout
	}
	if in.HTTPClient == nil {
		in.HTTPClient = &http.Client{Timeout: in.Config.HTTPTimeout}
	}
	if in.Now == nil {
		in.Now = time.Now
	}
	return in
}

func (o Options) restEndpoint(path string) string {
	return shared.JoinURL(o.Config.BaseURL, path)
}

func (o Options) orderEndpoint(orderID string) string {
	return o.restEndpoint(o.paths.orders + "/" + strings.TrimSpace(orderID))
}
