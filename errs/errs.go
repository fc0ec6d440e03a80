// Package errs provides the structured error envelope shared by adapters, the session store and the dispatch engine.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code classifies a failure into one of the router's error families.
type Code string

const (
	// CodeInvalid marks a validation failure detected before any broker call.
	CodeInvalid Code = "invalid_request"
	// CodeNetwork marks a transport failure: dial, timeout, unreadable or malformed body.
	CodeNetwork Code = "network"
	// CodeAuth marks an authentication failure reported by a broker, usually inside a 200 body.
	CodeAuth Code = "auth"
	// CodeBroker marks a broker-side rejection that is not an authentication problem.
	CodeBroker Code = "broker_error"
	// CodeNotFound marks a directory or lookup miss.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a duplicate or otherwise conflicting request.
	CodeConflict Code = "conflict"
	// CodeUnavailable marks a local resource that cannot accept work.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the router.
type E struct {
	Broker  string
	Account string
	Code    Code
	HTTP    int
	RawCode string
	RawMsg  string
	Message string
	Fields  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the broker and error code.
func New(broker string, code Code, opts ...Option) *E {
	e := &E{
		Broker:  strings.TrimSpace(broker),
		Account: "",
		Code:    code,
		HTTP:    0,
		RawCode: "",
		RawMsg:  "",
		Message: "",
		Fields:  nil,
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithAccount records the account the failure concerns.
func WithAccount(accountID string) Option {
	trimmed := strings.TrimSpace(accountID)
	return func(e *E) {
		e.Account = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw broker error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw broker response text.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single diagnostic key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	broker := strings.TrimSpace(e.Broker)
	if broker == "" {
		broker = "router"
	}
	parts = append(parts, "broker="+broker)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Account != "" {
		parts = append(parts, "account="+strconv.Quote(e.Account))
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Summary renders the short operator-facing text for the error: the message,
// falling back to the raw broker text and then to the cause.
func (e *E) Summary() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.RawMsg != "":
		return e.Message + ": " + e.RawMsg
	case e.Message != "":
		return e.Message
	case e.RawMsg != "":
		return e.RawMsg
	case e.cause != nil:
		return e.cause.Error()
	default:
		return string(e.Code)
	}
}

// CodeOf extracts the code of the outermost envelope in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code, true
	}
	return "", false
}

// Is reports whether err carries an envelope with the given code.
func Is(err error, code Code) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return Is(err, CodeAuth)
}

// Message returns a readable description of err suitable for result payloads.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Summary()
	}
	return err.Error()
}

// Invalid is shorthand for a validation error without a broker context.
func Invalid(msg string) *E {
	return New("", CodeInvalid, WithMessage(msg))
}
