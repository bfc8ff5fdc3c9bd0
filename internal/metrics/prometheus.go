package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "evm_dip_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(g)
		return g
	}

	m := &Metrics{
		Ticks:           promCounter{counter("ticks_total", "Total number of decision loop iterations.")},
		TicksSkipped:    promCounter{counter("ticks_skipped_total", "Total number of iterations skipped on data errors or guard rails.")},
		Buys:            promCounter{counter("buys_total", "Total number of executed buys.")},
		Sells:           promCounter{counter("sells_total", "Total number of executed sells.")},
		TradesFailed:    promCounter{counter("trades_failed_total", "Total number of failed trade attempts.")},
		OracleFallbacks: promCounter{counter("oracle_fallbacks_total", "Total number of quotes served by a non-primary source.")},
		StaleBalances:   promCounter{counter("stale_balances_total", "Total number of ticks served stale balances.")},
		TxCancels:       promCounter{counter("tx_cancels_total", "Total number of stuck transaction replacements.")},
		LastPriceUSD:    promGauge{gauge("last_price_usd", "Last observed token price in USD.")},
		AnchorPriceUSD:  promGauge{gauge("anchor_price_usd", "Current anchor price in USD.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
