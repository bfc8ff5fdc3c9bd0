package strategy

import "github.com/shopspring/decimal"

type Position string

const (
	// PositionFlat holds no tokens; the anchor tracks the running peak price.
	PositionFlat Position = "FLAT"
	// PositionHold holds the traded token; the anchor is the entry reference.
	PositionHold Position = "HOLD"
)

type Action int

const (
	ActionNone Action = iota
	ActionBuy
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return "none"
	}
}

// Thresholds are the anchored percentage trigger levels.
type Thresholds struct {
	SellGainPct  decimal.Decimal
	RebuyDropPct decimal.Decimal
}

func NewThresholds(sellGainPct, rebuyDropPct float64) Thresholds {
	return Thresholds{
		SellGainPct:  decimal.NewFromFloat(sellGainPct),
		RebuyDropPct: decimal.NewFromFloat(rebuyDropPct),
	}
}
