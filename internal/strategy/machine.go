package strategy

import "github.com/shopspring/decimal"

var one = decimal.NewFromInt(1)

// SellTrigger is the price at or above which a held position is sold.
func SellTrigger(anchor decimal.Decimal, th Thresholds) decimal.Decimal {
	return anchor.Mul(one.Add(th.SellGainPct))
}

// BuyTrigger is the price at or below which a flat position re-enters.
func BuyTrigger(anchor decimal.Decimal, th Thresholds) decimal.Decimal {
	return anchor.Mul(one.Sub(th.RebuyDropPct))
}

// NextTrigger is the trigger price for the current position, for telemetry.
func NextTrigger(pos Position, anchor decimal.Decimal, th Thresholds) decimal.Decimal {
	if pos == PositionHold {
		return SellTrigger(anchor, th)
	}
	return BuyTrigger(anchor, th)
}

// RaiseAnchor returns the running-peak anchor while flat. The anchor only
// ever increases until a transition to HOLD resets it.
func RaiseAnchor(anchor, price decimal.Decimal) decimal.Decimal {
	if price.GreaterThan(anchor) {
		return price
	}
	return anchor
}

// Decide applies the anchored threshold rule. It is pure; guard rails,
// execution and anchor mutation live in the engine.
func Decide(pos Position, anchor, price decimal.Decimal, th Thresholds) Action {
	if !price.IsPositive() || !anchor.IsPositive() {
		return ActionNone
	}
	switch pos {
	case PositionHold:
		if price.GreaterThanOrEqual(SellTrigger(anchor, th)) {
			return ActionSell
		}
	case PositionFlat:
		if price.LessThanOrEqual(BuyTrigger(anchor, th)) {
			return ActionBuy
		}
	}
	return ActionNone
}
