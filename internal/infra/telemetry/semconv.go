package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by router metrics.
const (
	// AttrBroker identifies which broker backend handled the call.
	AttrBroker = attribute.Key("broker")
	// AttrOperation differentiates broker operations (place, cancel, modify, list_orders, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (ok, error, skipped).
	AttrResult = attribute.Key("result")
	// AttrErrorType categorizes failures by error code.
	AttrErrorType = attribute.Key("error.type")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrBatchStatus carries the aggregate status (completed, empty).
	AttrBatchStatus = attribute.Key("batch.status")
)

// Metric names.
const (
	MetricDispatchUnits       = "router.dispatch.units"
	MetricDispatchDuration    = "router.dispatch.duration"
	MetricDispatchBatches     = "router.dispatch.batches"
	MetricSessionAuth         = "router.session.authentications"
	MetricSessionAuthRetries  = "router.session.auth_retries"
	MetricSymbolMasterRecords = "router.symbols.records"
)

// Result values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, broker, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrBroker.String(broker),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// ErrorAttributes extends the operation attributes with an error family when present.
func ErrorAttributes(environment, broker, operation, errorType string) []attribute.KeyValue {
	attrs := OperationResultAttributes(environment, broker, operation, ResultError)
	if errorType != "" {
		attrs = append(attrs, AttrErrorType.String(errorType))
	}
	return attrs
}
