package motilal

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coachpo/multibroker/internal/infra/adapters/shared"
)

// Name is the broker identifier Motilal accounts carry.
const Name = "motilal"

const (
	defaultBaseURL        = "https://openapi.motilaloswal.com"
	defaultHTTPTimeout    = 15 * time.Second
	defaultSourceID       = "Desktop"
	defaultBrowserName    = "chrome"
	defaultBrowserVersion = "104"
	defaultLTPWorkers     = 4
	userAgent             = "MOSL/V.1.1.0"
)

type endpoints struct {
	login     string
	orderBook string
	positions string
	place     string
	cancel    string
	modify    string
	holdings  string
	margin    string
	ltp       string
}

var motilalEndpoints = endpoints{
	login:     "/rest/login/v3/authdirectapi",
	orderBook: "/rest/book/v2/getorderbook",
	positions: "/rest/book/v1/getposition",
	place:     "/rest/trans/v1/placeorder",
	cancel:    "/rest/trans/v1/cancelorder",
	modify:    "/rest/trans/v2/modifyorder",
	holdings:  "/rest/report/v1/getdpholding",
	margin:    "/rest/report/v1/getreportmarginsummary",
	ltp:       "/rest/report/v1/getltpdata",
}

// Config captures user-overridable Motilal settings.
type Config struct {
	BaseURL        string
	HTTPTimeout    time.Duration
	SourceID       string
	BrowserName    string
	BrowserVersion string
	ClientLocalIP  string
	ClientPublicIP string
	MACAddress     string
	// LTPWorkers bounds concurrent LTP lookups while valuing holdings.
	LTPWorkers int
}

// Options configure the Motilal adapter.
type Options struct {
	Config     Config
	HTTPClient *http.Client
	Logger     *log.Logger
	// Now drives TOTP generation and session stamps.
	Now func() time.Time

	paths endpoints
}

func withDefaults(in Options) Options {
	in.paths = motilalEndpoints
	if strings.TrimSpace(in.Config.BaseURL) == "" {
		in.Config.BaseURL = defaultBaseURL
	}
	if in.Config.HTTPTimeout <= 0 {
		in.Config.HTTPTimeout = defaultHTTPTimeout
	}
	if in.Config.SourceID == "" {
		in.Config.SourceID = defaultSourceID
	}
	if in.Config.BrowserName == "" {
		in.Config.BrowserName = defaultBrowserName
	}
	if in.Config.BrowserVersion == "" {
		in.Config.BrowserVersion = defaultBrowserVersion
	}
	if in.Config.ClientLocalIP == "" {
		in.Config.ClientLocalIP = "1.2.3.4"
	}
	if in.Config.ClientPublicIP == "" {
		in.Config.ClientPublicIP = "1.2.3.4"
	}
	if in.Config.MACAddress == "" {
		in.Config.MACAddress = "00:00:00:00:00:00"
	}
	if in.Config.LTPWorkers <= 0 {
		in.Config.LTPWorkers = defaultLTPWorkers
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

// headers builds the client-info header set Motilal requires on every call.
func (o Options) headers(apiKey, vendor, token string) map[string]string {
	h := map[string]string{
		"User-Agent":     userAgent,
		"ApiKey":         apiKey,
		"ClientLocalIp":  o.Config.ClientLocalIP,
		"ClientPublicIp": o.Config.ClientPublicIP,
		"MacAddress":     o.Config.MACAddress,
		"SourceId":       o.Config.SourceID,
		"vendorinfo":     vendor,
		"osname":         "Linux",
		"osversion":      "1.0",
		"devicemodel":    "server",
		"manufacturer":   "generic",
		"productname":    "multibroker",
		"productversion": "1.0",
		"installedappid": "multibroker",
		"browsername":    o.Config.BrowserName,
		"browserversion": o.Config.BrowserVersion,
	}
	if token != "" {
		h["Authorization"] = token
	}
	return h
}
