package shared

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Number decodes a JSON number that brokers sometimes send as a string.
// Null, empty and unparseable values decode to zero.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Number(parsed)
	return nil
}

// Float returns the value as float64.
func (n Number) Float() float64 { return float64(n) }

// Int truncates the value towards zero.
func (n Number) Int() int { return int(n) }

// Text decodes a JSON string that brokers sometimes send as a bare number.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "" || raw == "null":
		*t = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
	default:
		*t = Text(raw)
	}
	return nil
}

// String returns the decoded text.
func (t Text) String() string { return string(t) }
