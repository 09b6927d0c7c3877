package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordRequest("server", "eth", "BalanceAt", "ok", 3*time.Millisecond)
	AddPending("eth", 1)
	AddPending("eth", -1)
	ConnOpened()
	ConnClosed()
	RecordFrameError("too_small")
}

func TestCorrelationMissCounter(t *testing.T) {
	before := testutil.ToFloat64(correlationMisses.WithLabelValues("control"))
	RecordCorrelationMiss("control")
	RecordCorrelationMiss("control")
	if got := testutil.ToFloat64(correlationMisses.WithLabelValues("control")); got != before+2 {
		t.Fatalf("got %v, want %v", got, before+2)
	}
}
