package engine

import (
	"context"
	"errors"
	"math/big"
	"time"

	"evm-dip-bot/internal/alerts"
	"evm-dip-bot/internal/chain"
	"evm-dip-bot/internal/config"
	"evm-dip-bot/internal/history"
	"evm-dip-bot/internal/metrics"
	"evm-dip-bot/internal/oracle"
	"evm-dip-bot/internal/state"
	"evm-dip-bot/internal/strategy"
	"evm-dip-bot/internal/swap"
	"evm-dip-bot/internal/telemetry"
	"evm-dip-bot/internal/timescale"
	"evm-dip-bot/internal/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Quoter produces price snapshots; see oracle.Chain.
type Quoter interface {
	GetQuote(ctx context.Context) (oracle.Quote, error)
	Primary() string
}

// BalanceSource serves possibly-cached wallet balances; see wallet.Cache.
type BalanceSource interface {
	Balances(ctx context.Context, maxAge time.Duration) (wallet.Balances, error)
}

// FeeEstimator computes fee parameters for cost guards; see chain.Policy.
type FeeEstimator interface {
	ComputeFee(ctx context.Context) (chain.GasParams, error)
}

// StateStore persists the strategy state across restarts; see state.File.
type StateStore interface {
	Load() (state.StrategyState, bool, error)
	Save(st state.StrategyState) error
}

// TradeRecorder appends trade attempts to the local history; see history.Store.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, trade history.Trade) error
}

// Deps are the collaborators the engine drives. Hub, Archive and Alerts may
// be nil; everything else is required.
type Deps struct {
	Quotes   Quoter
	Balances BalanceSource
	Fees     FeeEstimator
	Executor swap.Executor
	State    StateStore
	History  TradeRecorder
	Hub      *telemetry.Hub
	Archive  *timescale.Writer
	Metrics  *metrics.Metrics
	Alerts   *alerts.Telegram
}

// Engine runs the anchored buy-low/sell-high loop: while flat the anchor
// tracks the running peak and a drop of rebuy_drop_pct triggers a buy; while
// holding a gain of sell_gain_pct over the anchor triggers a sell. Each
// executed trade re-anchors at the execution-time price and persists state
// before the next tick.
type Engine struct {
	cfg  config.StrategyConfig
	gas  config.GasConfig
	deps Deps
	th   strategy.Thresholds
	log  *zap.Logger

	st state.StrategyState
}

func New(cfg *config.Config, deps Deps, log *zap.Logger) (*Engine, error) {
	if deps.Quotes == nil || deps.Balances == nil || deps.Fees == nil || deps.Executor == nil {
		return nil, errors.New("engine requires quotes, balances, fees and executor")
	}
	if deps.State == nil || deps.History == nil {
		return nil, errors.New("engine requires state store and trade history")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	return &Engine{
		cfg:  cfg.Strategy,
		gas:  cfg.Gas,
		deps: deps,
		th:   strategy.NewThresholds(cfg.Strategy.SellGainPct, cfg.Strategy.RebuyDropPct),
		log:  log,
	}, nil
}

func (e *Engine) Run(ctx context.Context) error {
	if err := e.restoreState(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				e.log.Warn("tick failed", zap.Error(err))
			}
		}
	}
}

// restoreState loads persisted state, or derives the initial position from
// the wallet on first start. The persisted file is authoritative on warm
// start; a holding/balance mismatch is logged, not auto-corrected.
func (e *Engine) restoreState(ctx context.Context) error {
	st, found, err := e.deps.State.Load()
	if err != nil {
		return err
	}
	if found {
		e.st = st
		e.log.Info("restored strategy state",
			zap.Bool("holding", st.Holding),
			zap.String("anchor_usd", st.AnchorPriceUSD.String()),
			zap.String("last_action", string(st.LastActionType)),
			zap.Time("updated_at", st.UpdatedAt),
		)
		if bal, balErr := e.deps.Balances.Balances(ctx, e.cfg.BalanceMaxAge); balErr == nil {
			hasTokens := bal.TokenWei != nil && bal.TokenWei.Sign() > 0
			if st.Holding != hasTokens {
				e.log.Warn("persisted position disagrees with wallet",
					zap.Bool("holding", st.Holding),
					zap.Bool("wallet_has_tokens", hasTokens),
				)
			}
		}
		return nil
	}
	bal, err := e.deps.Balances.Balances(ctx, e.cfg.BalanceMaxAge)
	if err != nil {
		return err
	}
	e.st = state.StrategyState{
		Holding:        bal.TokenWei != nil && bal.TokenWei.Sign() > 0,
		LastActionType: state.ActionNone,
	}
	e.log.Info("cold start, position derived from wallet", zap.Bool("holding", e.st.Holding))
	return e.deps.State.Save(e.st)
}

func (e *Engine) tick(ctx context.Context) error {
	e.deps.Metrics.Ticks.Inc()
	quote, err := e.deps.Quotes.GetQuote(ctx)
	if err != nil {
		e.deps.Metrics.TicksSkipped.Inc()
		return err
	}
	e.deps.Metrics.LastPriceUSD.Set(quote.TokenUSD.InexactFloat64())
	if primary := e.deps.Quotes.Primary(); primary != "" && quote.Source != primary {
		e.deps.Metrics.OracleFallbacks.Inc()
	}
	bal, err := e.deps.Balances.Balances(ctx, e.cfg.BalanceMaxAge)
	if err != nil {
		e.deps.Metrics.TicksSkipped.Inc()
		return err
	}
	if bal.Age() > e.cfg.BalanceMaxAge {
		e.deps.Metrics.StaleBalances.Inc()
	}

	// The anchor seeds from the first observed price and, while flat, tracks
	// the running peak so a crash recovers with the same reference.
	if !e.st.AnchorPriceUSD.IsPositive() {
		e.st.AnchorPriceUSD = quote.TokenUSD
		e.saveStateBestEffort()
	} else if e.position() == strategy.PositionFlat {
		raised := strategy.RaiseAnchor(e.st.AnchorPriceUSD, quote.TokenUSD)
		if !raised.Equal(e.st.AnchorPriceUSD) {
			e.st.AnchorPriceUSD = raised
			e.saveStateBestEffort()
		}
	}
	e.deps.Metrics.AnchorPriceUSD.Set(e.st.AnchorPriceUSD.InexactFloat64())

	action := strategy.Decide(e.position(), e.st.AnchorPriceUSD, quote.TokenUSD, e.th)
	var skip string
	var execErr error
	switch action {
	case strategy.ActionBuy:
		skip, execErr = e.executeBuy(ctx, quote, bal)
	case strategy.ActionSell:
		skip, execErr = e.executeSell(ctx, quote, bal)
	}
	if skip != "" {
		e.deps.Metrics.TicksSkipped.Inc()
		e.log.Info("trade skipped",
			zap.String("action", action.String()),
			zap.String("reason", skip),
		)
	}
	e.publish(quote, bal, action, skip)
	return execErr
}

// executeBuy spends the configured budget of native on tokens. It returns a
// skip reason when a guard rail blocks the trade and an error when the swap
// itself failed; a failed swap leaves the position unchanged.
func (e *Engine) executeBuy(ctx context.Context, quote oracle.Quote, bal wallet.Balances) (string, error) {
	fees, err := e.deps.Fees.ComputeFee(ctx)
	if err != nil {
		return "fee estimate unavailable", nil
	}
	gasCost := fees.CostWei(e.gas.SwapGasLimit)
	if skip := e.gasCostGuard(quote, gasCost); skip != "" {
		return skip, nil
	}
	if bal.NativeWei == nil {
		return "native balance unknown", nil
	}
	spend := e.buyAmountWei(bal.NativeWei, gasCost)
	if spend.Sign() <= 0 {
		return "buy budget exhausted after reserve and gas", nil
	}
	needed := new(big.Int).Add(spend, gasCost)
	if bal.NativeWei.Cmp(needed) < 0 {
		return "native balance below budget plus gas", nil
	}

	hash, err := e.deps.Executor.Buy(ctx, spend, e.cfg.SlippageBps)
	spendDec := chain.WeiToDecimal(spend)
	tokenEstimate := decimal.Zero
	if quote.TokenNative.IsPositive() {
		tokenEstimate = spendDec.Div(quote.TokenNative)
	}
	trade := history.Trade{
		Time:         time.Now().UTC(),
		Type:         "buy",
		TokenAmount:  tokenEstimate.String(),
		NativeAmount: spendDec.String(),
		PriceUSD:     quote.TokenUSD.String(),
		GasCostUSD:   quote.GasCostUSD(decimal.NewFromBigInt(gasCost, 0)).String(),
		TxHash:       hash.Hex(),
	}
	if err != nil {
		e.failTrade(ctx, trade, quote, err)
		return "", err
	}
	trade.Success = true
	e.st.Holding = true
	e.st.AnchorPriceUSD = quote.TokenUSD
	e.st.LastActionType = state.ActionBuy
	e.st.LastActionPriceUSD = quote.TokenUSD
	e.st.LastBuyNativeSpent = spendDec
	e.commitTrade(ctx, trade, quote)
	e.deps.Metrics.Buys.Inc()
	e.log.Info("bought",
		zap.String("native_spent", spendDec.String()),
		zap.String("price_usd", quote.TokenUSD.String()),
		zap.String("tx_hash", trade.TxHash),
	)
	return "", nil
}

// executeSell swaps the full token balance back to native.
func (e *Engine) executeSell(ctx context.Context, quote oracle.Quote, bal wallet.Balances) (string, error) {
	if bal.TokenWei == nil || bal.TokenWei.Sign() <= 0 {
		return "no token balance to sell", nil
	}
	fees, err := e.deps.Fees.ComputeFee(ctx)
	if err != nil {
		return "fee estimate unavailable", nil
	}
	// A sell may need an approval transaction ahead of the swap.
	gasCost := fees.CostWei(e.gas.SwapGasLimit + e.gas.ApproveGasLimit)
	if skip := e.gasCostGuard(quote, gasCost); skip != "" {
		return skip, nil
	}
	if bal.NativeWei == nil || bal.NativeWei.Cmp(gasCost) < 0 {
		return "native balance below gas for sell", nil
	}

	amount := new(big.Int).Set(bal.TokenWei)
	hash, err := e.deps.Executor.Sell(ctx, amount, e.cfg.SlippageBps)
	tokenDec := decimal.NewFromBigInt(amount, int32(-e.cfg.TokenDecimals))
	trade := history.Trade{
		Time:         time.Now().UTC(),
		Type:         "sell",
		TokenAmount:  tokenDec.String(),
		NativeAmount: tokenDec.Mul(quote.TokenNative).String(),
		PriceUSD:     quote.TokenUSD.String(),
		GasCostUSD:   quote.GasCostUSD(decimal.NewFromBigInt(gasCost, 0)).String(),
		TxHash:       hash.Hex(),
	}
	if err != nil {
		e.failTrade(ctx, trade, quote, err)
		return "", err
	}
	trade.Success = true
	e.st.Holding = false
	e.st.AnchorPriceUSD = quote.TokenUSD
	e.st.LastActionType = state.ActionSell
	e.st.LastActionPriceUSD = quote.TokenUSD
	e.commitTrade(ctx, trade, quote)
	e.deps.Metrics.Sells.Inc()
	e.log.Info("sold",
		zap.String("token_amount", tokenDec.String()),
		zap.String("price_usd", quote.TokenUSD.String()),
		zap.String("tx_hash", trade.TxHash),
	)
	return "", nil
}

// gasCostGuard blocks trades whose worst-case gas cost exceeds the configured
// USD ceiling.
func (e *Engine) gasCostGuard(quote oracle.Quote, gasCostWei *big.Int) string {
	if e.gas.MaxUSDPerTrade <= 0 {
		return ""
	}
	gasUSD := quote.GasCostUSD(decimal.NewFromBigInt(gasCostWei, 0))
	if gasUSD.GreaterThan(decimal.NewFromFloat(e.gas.MaxUSDPerTrade)) {
		return "gas cost above per-trade USD limit"
	}
	return ""
}

// buyAmountWei is the native amount to spend: the fixed budget when one is
// configured, otherwise everything above the reserve and the gas estimate.
func (e *Engine) buyAmountWei(nativeWei, gasCost *big.Int) *big.Int {
	if e.cfg.BuyBudgetNative > 0 {
		return nativeToWei(e.cfg.BuyBudgetNative)
	}
	spend := new(big.Int).Sub(nativeWei, nativeToWei(e.cfg.ReserveNative))
	spend.Sub(spend, gasCost)
	if spend.Sign() < 0 {
		return big.NewInt(0)
	}
	return spend
}

func (e *Engine) commitTrade(ctx context.Context, trade history.Trade, quote oracle.Quote) {
	if err := e.deps.State.Save(e.st); err != nil {
		e.log.Error("state persist failed after trade", zap.Error(err))
	}
	e.recordTrade(ctx, trade)
	if e.deps.Alerts != nil {
		e.deps.Alerts.NotifyTrade(ctx, trade.Type, quote.TokenUSD, trade.TxHash, nil)
	}
}

func (e *Engine) failTrade(ctx context.Context, trade history.Trade, quote oracle.Quote, execErr error) {
	trade.Error = execErr.Error()
	e.deps.Metrics.TradesFailed.Inc()
	e.recordTrade(ctx, trade)
	if e.deps.Alerts != nil {
		e.deps.Alerts.NotifyTrade(ctx, trade.Type, quote.TokenUSD, trade.TxHash, execErr)
	}
}

func (e *Engine) recordTrade(ctx context.Context, trade history.Trade) {
	if err := e.deps.History.RecordTrade(ctx, trade); err != nil {
		e.log.Warn("trade history insert failed", zap.Error(err))
	}
	if e.deps.Archive != nil {
		e.deps.Archive.EnqueueTrade(timescale.TradeRow{
			Time:         trade.Time,
			Type:         trade.Type,
			TokenAmount:  decimalFloat(trade.TokenAmount),
			NativeAmount: decimalFloat(trade.NativeAmount),
			PriceUSD:     decimalFloat(trade.PriceUSD),
			GasCostUSD:   decimalFloat(trade.GasCostUSD),
			Success:      trade.Success,
			TxHash:       trade.TxHash,
		})
	}
}

func (e *Engine) publish(quote oracle.Quote, bal wallet.Balances, action strategy.Action, skip string) {
	pos := e.position()
	trigger := strategy.NextTrigger(pos, e.st.AnchorPriceUSD, e.th)
	now := time.Now().UTC()
	if e.deps.Hub != nil {
		e.deps.Hub.Publish(telemetry.TickEvent{
			Time:             now,
			PriceUSD:         quote.TokenUSD.String(),
			NativeUSD:        quote.NativeUSD.String(),
			Source:           quote.Source,
			Degraded:         quote.Degraded,
			Position:         string(pos),
			AnchorUSD:        e.st.AnchorPriceUSD.String(),
			NextTriggerUSD:   trigger.String(),
			NativeBalanceWei: bigString(bal.NativeWei),
			TokenBalanceWei:  bigString(bal.TokenWei),
			BalanceAgeMS:     bal.Age().Milliseconds(),
			Action:           action.String(),
			SkipReason:       skip,
		})
	}
	if e.deps.Archive != nil {
		e.deps.Archive.EnqueueTick(timescale.TickRow{
			Time:           now,
			Position:       string(pos),
			PriceUSD:       quote.TokenUSD.InexactFloat64(),
			NativeUSD:      quote.NativeUSD.InexactFloat64(),
			AnchorUSD:      e.st.AnchorPriceUSD.InexactFloat64(),
			NextTriggerUSD: trigger.InexactFloat64(),
			NativeBalance:  chain.WeiToDecimal(orZero(bal.NativeWei)).InexactFloat64(),
			TokenBalance:   decimal.NewFromBigInt(orZero(bal.TokenWei), int32(-e.cfg.TokenDecimals)).InexactFloat64(),
			Source:         quote.Source,
			Degraded:       quote.Degraded,
			Action:         action.String(),
			SkipReason:     skip,
		})
	}
}

func (e *Engine) position() strategy.Position {
	if e.st.Holding {
		return strategy.PositionHold
	}
	return strategy.PositionFlat
}

func (e *Engine) saveStateBestEffort() {
	if err := e.deps.State.Save(e.st); err != nil {
		e.log.Warn("state persist failed", zap.Error(err))
	}
}

func nativeToWei(amount float64) *big.Int {
	return decimal.NewFromFloat(amount).Mul(decimal.New(1, 18)).Round(0).BigInt()
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func decimalFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
