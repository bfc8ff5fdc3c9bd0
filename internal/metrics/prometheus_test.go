package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func counterValue(t *testing.T, c Counter) float64 {
	t.Helper()
	pc, ok := c.(promCounter)
	if !ok {
		t.Fatalf("expected prometheus-backed counter, got %T", c)
	}
	return testutil.ToFloat64(pc.counter)
}

func gaugeValue(t *testing.T, g Gauge) float64 {
	t.Helper()
	pg, ok := g.(promGauge)
	if !ok {
		t.Fatalf("expected prometheus-backed gauge, got %T", g)
	}
	return testutil.ToFloat64(pg.gauge)
}

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Ticks.Inc()
	prom.Metrics.Buys.Inc()
	prom.Metrics.Sells.Inc()
	prom.Metrics.TradesFailed.Inc()
	prom.Metrics.OracleFallbacks.Inc()
	prom.Metrics.StaleBalances.Inc()
	prom.Metrics.TxCancels.Inc()

	for name, counter := range map[string]Counter{
		"ticks":            prom.Metrics.Ticks,
		"buys":             prom.Metrics.Buys,
		"sells":            prom.Metrics.Sells,
		"trades_failed":    prom.Metrics.TradesFailed,
		"oracle_fallbacks": prom.Metrics.OracleFallbacks,
		"stale_balances":   prom.Metrics.StaleBalances,
		"tx_cancels":       prom.Metrics.TxCancels,
	} {
		if got := counterValue(t, counter); got != 1 {
			t.Fatalf("expected %s = 1, got %v", name, got)
		}
	}
	if got := counterValue(t, prom.Metrics.TicksSkipped); got != 0 {
		t.Fatalf("expected ticks_skipped = 0, got %v", got)
	}
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.LastPriceUSD.Set(1.25)
	prom.Metrics.AnchorPriceUSD.Set(1.10)
	if got := gaugeValue(t, prom.Metrics.LastPriceUSD); got != 1.25 {
		t.Fatalf("expected last price 1.25, got %v", got)
	}
	if got := gaugeValue(t, prom.Metrics.AnchorPriceUSD); got != 1.10 {
		t.Fatalf("expected anchor 1.10, got %v", got)
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.Ticks.Inc()
	m.LastPriceUSD.Set(1)
}
