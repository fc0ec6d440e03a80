package schema

import (
	json "github.com/goccy/go-json"
)

// ResultStatus is the outcome of one dispatched unit.
type ResultStatus string

const (
	// ResultOK means the broker accepted the request.
	ResultOK ResultStatus = "OK"
	// ResultError means validation, transport, authentication or the broker failed the request.
	ResultError ResultStatus = "ERROR"
)

// DispatchResult is the single outcome written for one intent.
type DispatchResult struct {
	Key           string          `json:"key"`
	AccountID     string          `json:"account_id"`
	Broker        string          `json:"broker,omitempty"`
	Status        ResultStatus    `json:"status"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	BrokerPayload json.RawMessage `json:"broker_payload,omitempty"`
	Ack           *Ack            `json:"ack,omitempty"`
}

// OK reports whether the result succeeded.
func (r DispatchResult) OK() bool {
	return r.Status == ResultOK
}

// SkippedItem records work that never became a dispatch unit.
type SkippedItem struct {
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

// Aggregate status values.
const (
	AggregateCompleted = "completed"
	AggregateEmpty     = "empty"
)

// DispatchAggregate is the joined outcome of one batch.
type DispatchAggregate struct {
	BatchID string                    `json:"batch_id"`
	Status  string                    `json:"status"`
	Results map[string]DispatchResult `json:"results"`
	Skipped []SkippedItem             `json:"skipped,omitempty"`
}
