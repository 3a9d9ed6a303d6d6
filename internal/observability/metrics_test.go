package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStoreOp(t *testing.T) {
	before := testutil.ToFloat64(storeOps.WithLabelValues("test.op", "ok"))
	ObserveStoreOp("test.op", "ok", time.Now().Add(-10*time.Millisecond))
	ObserveStoreOp("test.op", "ok", time.Now())
	if got := testutil.ToFloat64(storeOps.WithLabelValues("test.op", "ok")) - before; got != 2 {
		t.Fatalf("ops delta = %v; want 2", got)
	}
	if n := testutil.CollectAndCount(storeOpDuration, "chatstore_operation_duration_seconds"); n == 0 {
		t.Fatalf("expected duration series")
	}
}

func TestMigrationRow(t *testing.T) {
	before := testutil.ToFloat64(migrationRows.WithLabelValues("messages", "skipped"))
	MigrationRow("messages", "skipped")
	if got := testutil.ToFloat64(migrationRows.WithLabelValues("messages", "skipped")) - before; got != 1 {
		t.Fatalf("rows delta = %v; want 1", got)
	}
}
