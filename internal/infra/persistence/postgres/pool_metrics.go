package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/multibroker/internal/infra/telemetry"
)

// ObservePoolMetrics registers observable gauges that report pgx pool health
// under router.db.pool.connections, split by state.
func ObservePoolMetrics(pool *pgxpool.Pool, poolName string) error {
	if pool == nil {
		return nil
	}
	name := strings.TrimSpace(poolName)
	if name == "" {
		name = "primary"
	}
	base := []attribute.KeyValue{
		attribute.String("environment", telemetry.Environment()),
		attribute.String("db_pool", name),
	}
	withState := func(state string) metric.MeasurementOption {
		return metric.WithAttributes(append(append([]attribute.KeyValue(nil), base...), attribute.String("state", state))...)
	}

	meter := otel.Meter("postgres.pool")
	_, err := meter.Int64ObservableGauge("router.db.pool.connections",
		metric.WithDescription("pgx pool connections by state"),
		metric.WithUnit("{connection}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			stat := pool.Stat()
			observer.Observe(int64(stat.TotalConns()), withState("total"))
			observer.Observe(int64(stat.IdleConns()), withState("idle"))
			observer.Observe(int64(stat.AcquiredConns()), withState("acquired"))
			observer.Observe(int64(stat.ConstructingConns()), withState("constructing"))
			return nil
		}),
	)
	return err
}
