package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// DispatchMetrics records per-unit outcomes and broker latency for the dispatch engine.
// A nil *DispatchMetrics is valid and records nothing.
type DispatchMetrics struct {
	units    metric.Int64Counter
	batches  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewDispatchMetrics registers the dispatch instruments on meter.
func NewDispatchMetrics(meter metric.Meter) (*DispatchMetrics, error) {
	units, err := meter.Int64Counter(MetricDispatchUnits,
		metric.WithDescription("Dispatch units by broker, operation and result"),
		metric.WithUnit("{unit}"))
	if err != nil {
		return nil, err
	}
	batches, err := meter.Int64Counter(MetricDispatchBatches,
		metric.WithDescription("Dispatch batches by aggregate status"),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(MetricDispatchDuration,
		metric.WithDescription("Broker call latency per dispatch unit"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &DispatchMetrics{units: units, batches: batches, duration: duration}, nil
}

// RecordUnit records one finished unit.
func (m *DispatchMetrics) RecordUnit(ctx context.Context, broker, operation, result, errorType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	var attrs metric.MeasurementOption
	if result == ResultError {
		attrs = metric.WithAttributes(ErrorAttributes(Environment(), broker, operation, errorType)...)
	} else {
		attrs = metric.WithAttributes(OperationResultAttributes(Environment(), broker, operation, result)...)
	}
	m.units.Add(ctx, 1, attrs)
	if elapsed > 0 {
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}

// RecordBatch records one joined batch.
func (m *DispatchMetrics) RecordBatch(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.batches.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrBatchStatus.String(status),
	))
}

// SessionMetrics counts logins and auth-triggered retries.
// A nil *SessionMetrics is valid and records nothing.
type SessionMetrics struct {
	auths   metric.Int64Counter
	retries metric.Int64Counter
}

// NewSessionMetrics registers the session instruments on meter.
func NewSessionMetrics(meter metric.Meter) (*SessionMetrics, error) {
	auths, err := meter.Int64Counter(MetricSessionAuth,
		metric.WithDescription("Broker authentications by result"),
		metric.WithUnit("{login}"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter(MetricSessionAuthRetries,
		metric.WithDescription("Calls retried after an authentication failure"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, err
	}
	return &SessionMetrics{auths: auths, retries: retries}, nil
}

// RecordAuth records one Authenticate attempt.
func (m *SessionMetrics) RecordAuth(ctx context.Context, broker string, ok bool) {
	if m == nil {
		return
	}
	result := ResultOK
	if !ok {
		result = ResultError
	}
	m.auths.Add(ctx, 1, metric.WithAttributes(
		OperationResultAttributes(Environment(), broker, "authenticate", result)...))
}

// RecordRetry records one forced re-authentication retry.
func (m *SessionMetrics) RecordRetry(ctx context.Context, broker string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrBroker.String(broker),
	))
}

// SymbolMetrics tracks symbol master imports.
type SymbolMetrics struct {
	records metric.Int64Counter
}

// NewSymbolMetrics registers the symbol master instruments on meter.
func NewSymbolMetrics(meter metric.Meter) (*SymbolMetrics, error) {
	records, err := meter.Int64Counter(MetricSymbolMasterRecords,
		metric.WithDescription("Symbol master rows imported"),
		metric.WithUnit("{row}"))
	if err != nil {
		return nil, err
	}
	return &SymbolMetrics{records: records}, nil
}

// RecordImport adds n imported rows.
func (m *SymbolMetrics) RecordImport(ctx context.Context, n int, result string) {
	if m == nil {
		return
	}
	m.records.Add(ctx, int64(n), metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrResult.String(result),
	))
}
