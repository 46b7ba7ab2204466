package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPaymentMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPaymentMetrics(reg)

	metrics.IncCallback("vnpay", "completed")
	metrics.IncCallback("vnpay", "completed")
	metrics.IncTransition("pending", "completed")
	metrics.IncSettlement("done")
	metrics.ObserveSettlementLag(3 * time.Second)
	metrics.IncDead()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "payment_callbacks_total", "provider", "vnpay"); err != nil {
		t.Fatalf("fetch callbacks: %v", err)
	} else if got != 2 {
		t.Fatalf("expected callbacks=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "payment_transitions_total", "to", "completed"); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 1 {
		t.Fatalf("expected transitions=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "settlement_attempts_total", "result", "done"); err != nil {
		t.Fatalf("fetch settlements: %v", err)
	} else if got != 1 {
		t.Fatalf("expected settlements=1, got %f", got)
	}

	if mf := findMetricFamily(mfs, "settlement_lag_seconds"); mf == nil {
		t.Fatal("missing settlement_lag_seconds histogram")
	} else if mf.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatal("expected settlement lag sum > 0")
	}

	if mf := findMetricFamily(mfs, "settlement_dead_total"); mf == nil {
		t.Fatal("missing settlement_dead_total counter")
	} else if mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatal("expected dead=1")
	}
}

func TestPaymentMetricsNilSafe(t *testing.T) {
	var metrics *PaymentMetrics
	metrics.IncCallback("vnpay", "completed")
	metrics.IncTransition("pending", "failed")
	metrics.IncSettlement("retry")
	metrics.ObserveSettlementLag(time.Second)
	metrics.IncDead()
}
