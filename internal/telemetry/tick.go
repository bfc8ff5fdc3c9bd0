package telemetry

import "time"

// TickEvent is the per-iteration snapshot broadcast to dashboard subscribers.
// Delivery is at-most-once and lossy; nothing in the trading loop depends on
// it. Decimal values travel as strings to keep precision across encodings.
type TickEvent struct {
	Time             time.Time `json:"time" msgpack:"time"`
	PriceUSD         string    `json:"price_usd" msgpack:"price_usd"`
	NativeUSD        string    `json:"native_usd" msgpack:"native_usd"`
	Source           string    `json:"source" msgpack:"source"`
	Degraded         bool      `json:"degraded" msgpack:"degraded"`
	Position         string    `json:"position" msgpack:"position"`
	AnchorUSD        string    `json:"anchor_usd" msgpack:"anchor_usd"`
	NextTriggerUSD   string    `json:"next_trigger_usd" msgpack:"next_trigger_usd"`
	NativeBalanceWei string    `json:"native_balance_wei" msgpack:"native_balance_wei"`
	TokenBalanceWei  string    `json:"token_balance_wei" msgpack:"token_balance_wei"`
	BalanceAgeMS     int64     `json:"balance_age_ms" msgpack:"balance_age_ms"`
	Action           string    `json:"action" msgpack:"action"`
	SkipReason       string    `json:"skip_reason,omitempty" msgpack:"skip_reason,omitempty"`
}
