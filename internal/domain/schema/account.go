package schema

import (
	"strings"
	"time"
)

// AccountRecord is the directory's view of one brokerage account.
type AccountRecord struct {
	ID          string            `json:"account_id"`
	Broker      string            `json:"broker"`
	DisplayName string            `json:"display_name"`
	Credentials map[string]string `json:"-"`
	Capital     float64           `json:"capital"`
}

// Credential returns the first non-empty credential among keys.
func (a AccountRecord) Credential(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(a.Credentials[key]); v != "" {
			return v
		}
	}
	return ""
}

// Name returns the display name, falling back to the account id.
func (a AccountRecord) Name() string {
	if name := strings.TrimSpace(a.DisplayName); name != "" {
		return name
	}
	return a.ID
}

// Group is a named set of accounts sharing a quantity multiplier.
type Group struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Multiplier int      `json:"multiplier"`
	Members    []string `json:"members"`
}

// Session is an authenticated handle for one account against one broker.
type Session struct {
	AccountID      string
	Broker         string
	Token          string
	Extra          map[string]string
	IssuedAt       time.Time
	LastVerifiedAt time.Time
}

// Valid reports whether the session carries a token.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.Token) != ""
}

// SessionState enumerates the per-account session lifecycle.
type SessionState string

const (
	// SessionNone means no session has been established.
	SessionNone SessionState = "NoSession"
	// SessionAuthenticating means a login is in flight.
	SessionAuthenticating SessionState = "Authenticating"
	// SessionActive means a cached session is believed valid.
	SessionActive SessionState = "Active"
	// SessionStale means a probe or call reported an authentication failure.
	SessionStale SessionState = "Probed-Stale"
)
