package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	Ticks           Counter
	TicksSkipped    Counter
	Buys            Counter
	Sells           Counter
	TradesFailed    Counter
	OracleFallbacks Counter
	StaleBalances   Counter
	TxCancels       Counter
	LastPriceUSD    Gauge
	AnchorPriceUSD  Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Ticks:           c,
		TicksSkipped:    c,
		Buys:            c,
		Sells:           c,
		TradesFailed:    c,
		OracleFallbacks: c,
		StaleBalances:   c,
		TxCancels:       c,
		LastPriceUSD:    g,
		AnchorPriceUSD:  g,
	}
}
