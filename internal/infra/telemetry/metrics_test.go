package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDispatchMetricsRecordsUnits(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewDispatchMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordUnit(ctx, "dhan", "place", ResultOK, "", 15*time.Millisecond)
	m.RecordUnit(ctx, "dhan", "place", ResultError, "auth", 5*time.Millisecond)
	m.RecordBatch(ctx, "completed")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			found[metric.Name] = true
			if metric.Name == MetricDispatchUnits {
				sum, ok := metric.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				require.Equal(t, int64(2), total)
			}
		}
	}
	require.True(t, found[MetricDispatchUnits])
	require.True(t, found[MetricDispatchDuration])
	require.True(t, found[MetricDispatchBatches])
}

func TestNilMetricsAreNoops(t *testing.T) {
	var d *DispatchMetrics
	var s *SessionMetrics
	var sym *SymbolMetrics
	ctx := context.Background()
	d.RecordUnit(ctx, "x", "place", ResultOK, "", time.Millisecond)
	d.RecordBatch(ctx, "empty")
	s.RecordAuth(ctx, "x", true)
	s.RecordRetry(ctx, "x")
	sym.RecordImport(ctx, 3, ResultOK)
}

func TestDisabledProviderFallsBackToGlobalMeter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Environment = "Staging"
	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p.Meter("router"))
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, "staging", Environment())
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
