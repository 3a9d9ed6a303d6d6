package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store metrics. Labels stay bounded: op is a fixed method name, result one of
// a handful of error classes, table/outcome fixed by the migrator.
var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatstore_operations_total",
			Help: "Total number of persistence store operations by outcome.",
		},
		[]string{"op", "result"},
	)

	storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatstore_operation_duration_seconds",
			Help:    "Duration of persistence store operations in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	migrationRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatstore_migration_rows_total",
			Help: "Legacy rows processed by the migration, by table and outcome.",
		},
		[]string{"table", "outcome"},
	)
)

// ObserveStoreOp records one store operation that started at start.
func ObserveStoreOp(op, result string, start time.Time) {
	storeOps.WithLabelValues(op, result).Inc()
	storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// MigrationRow counts a legacy row. outcome is "migrated", "present" or "skipped".
func MigrationRow(table, outcome string) {
	migrationRows.WithLabelValues(table, outcome).Inc()
}
