package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"evm-dip-bot/internal/chain"
	"evm-dip-bot/internal/config"
	"evm-dip-bot/internal/history"
	"evm-dip-bot/internal/oracle"
	"evm-dip-bot/internal/state"
	"evm-dip-bot/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeQuoter struct {
	quote oracle.Quote
	err   error
}

func (f *fakeQuoter) GetQuote(ctx context.Context) (oracle.Quote, error) {
	return f.quote, f.err
}

func (f *fakeQuoter) Primary() string { return "dexscreener_pair" }

type fakeBalances struct {
	bal wallet.Balances
	err error
}

func (f *fakeBalances) Balances(ctx context.Context, maxAge time.Duration) (wallet.Balances, error) {
	return f.bal, f.err
}

type fakeFees struct {
	err error
}

func (f *fakeFees) ComputeFee(ctx context.Context) (chain.GasParams, error) {
	if f.err != nil {
		return chain.GasParams{}, f.err
	}
	return chain.GasParams{
		MaxFeePerGas:         chain.GweiToWei(1),
		MaxPriorityFeePerGas: chain.GweiToWei(1),
	}, nil
}

type fakeExecutor struct {
	buys  []*big.Int
	sells []*big.Int
	err   error
}

func (f *fakeExecutor) Buy(ctx context.Context, nativeAmountWei *big.Int, slippageBps int) (common.Hash, error) {
	f.buys = append(f.buys, new(big.Int).Set(nativeAmountWei))
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return common.HexToHash("0x01"), nil
}

func (f *fakeExecutor) Sell(ctx context.Context, tokenAmountWei *big.Int, slippageBps int) (common.Hash, error) {
	f.sells = append(f.sells, new(big.Int).Set(tokenAmountWei))
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return common.HexToHash("0x02"), nil
}

type fakeState struct {
	st    state.StrategyState
	found bool
	saves int
}

func (f *fakeState) Load() (state.StrategyState, bool, error) {
	return f.st, f.found, nil
}

func (f *fakeState) Save(st state.StrategyState) error {
	f.st = st
	f.found = true
	f.saves++
	return nil
}

type fakeHistory struct {
	trades []history.Trade
}

func (f *fakeHistory) RecordTrade(ctx context.Context, trade history.Trade) error {
	f.trades = append(f.trades, trade)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Strategy: config.StrategyConfig{
			TokenDecimals:   18,
			SellGainPct:     0.10,
			RebuyDropPct:    0.10,
			BuyBudgetNative: 0.5,
			SlippageBps:     100,
			PollInterval:    time.Second,
			BalanceMaxAge:   time.Minute,
		},
		Gas: config.GasConfig{
			SwapGasLimit:    350_000,
			ApproveGasLimit: 60_000,
		},
	}
}

func quoteAt(price string) oracle.Quote {
	tokenUSD, err := decimal.NewFromString(price)
	if err != nil {
		panic(err)
	}
	nativeUSD := decimal.NewFromInt(2000)
	return oracle.Quote{
		TokenUSD:    tokenUSD,
		NativeUSD:   nativeUSD,
		TokenNative: tokenUSD.Div(nativeUSD),
		Source:      "dexscreener_pair",
	}
}

func anchorAt(price string) decimal.Decimal {
	v, err := decimal.NewFromString(price)
	if err != nil {
		panic(err)
	}
	return v
}

type harness struct {
	engine   *Engine
	quoter   *fakeQuoter
	balances *fakeBalances
	executor *fakeExecutor
	store    *fakeState
	trades   *fakeHistory
}

func newHarness(t *testing.T, cfg *config.Config, st state.StrategyState, bal wallet.Balances) *harness {
	t.Helper()
	h := &harness{
		quoter:   &fakeQuoter{},
		balances: &fakeBalances{bal: bal},
		executor: &fakeExecutor{},
		store:    &fakeState{st: st, found: true},
		trades:   &fakeHistory{},
	}
	eng, err := New(cfg, Deps{
		Quotes:   h.quoter,
		Balances: h.balances,
		Fees:     &fakeFees{},
		Executor: h.executor,
		State:    h.store,
		History:  h.trades,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	eng.st = st
	h.engine = eng
	return h
}

func gweiBal(gwei int64) wallet.Balances {
	return wallet.Balances{
		NativeWei: new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1e9)),
		TokenWei:  big.NewInt(0),
		FetchedAt: time.Now(),
	}
}

func fullBal() wallet.Balances {
	native, _ := new(big.Int).SetString("2000000000000000000", 10) // 2 native
	token, _ := new(big.Int).SetString("500000000000000000000", 10)
	return wallet.Balances{NativeWei: native, TokenWei: token, FetchedAt: time.Now()}
}

func TestTickBuysOnDipFromPeak(t *testing.T) {
	st := state.StrategyState{Holding: false, AnchorPriceUSD: anchorAt("1.20"), LastActionType: state.ActionNone}
	h := newHarness(t, testConfig(), st, fullBal())
	h.quoter.quote = quoteAt("1.08")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(h.executor.buys) != 1 {
		t.Fatalf("expected one buy, got %d", len(h.executor.buys))
	}
	// Fixed 0.5 native budget.
	want, _ := new(big.Int).SetString("500000000000000000", 10)
	if h.executor.buys[0].Cmp(want) != 0 {
		t.Fatalf("expected 0.5 native spent, got %s", h.executor.buys[0])
	}
	if !h.store.st.Holding {
		t.Fatalf("expected transition to holding")
	}
	if !h.store.st.AnchorPriceUSD.Equal(anchorAt("1.08")) {
		t.Fatalf("anchor must re-seed at execution price, got %s", h.store.st.AnchorPriceUSD)
	}
	if len(h.trades.trades) != 1 || h.trades.trades[0].Type != "buy" || !h.trades.trades[0].Success {
		t.Fatalf("expected a successful buy record, got %+v", h.trades.trades)
	}
}

func TestTickHoldsAboveBuyTrigger(t *testing.T) {
	st := state.StrategyState{Holding: false, AnchorPriceUSD: anchorAt("1.20")}
	h := newHarness(t, testConfig(), st, fullBal())
	h.quoter.quote = quoteAt("1.09")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(h.executor.buys) != 0 {
		t.Fatalf("expected no buy at 1.09 against trigger 1.08")
	}
	if h.store.st.Holding {
		t.Fatalf("position must stay flat")
	}
}

func TestTickRaisesAnchorWhileFlat(t *testing.T) {
	st := state.StrategyState{Holding: false, AnchorPriceUSD: anchorAt("1.00")}
	h := newHarness(t, testConfig(), st, fullBal())
	h.quoter.quote = quoteAt("1.20")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if !h.store.st.AnchorPriceUSD.Equal(anchorAt("1.20")) {
		t.Fatalf("expected anchor raised to 1.20 and persisted, got %s", h.store.st.AnchorPriceUSD)
	}
	if len(h.executor.buys)+len(h.executor.sells) != 0 {
		t.Fatalf("rising price while flat must not trade")
	}
}

func TestTickSellsFullBalanceOnGain(t *testing.T) {
	st := state.StrategyState{Holding: true, AnchorPriceUSD: anchorAt("1.00")}
	bal := fullBal()
	h := newHarness(t, testConfig(), st, bal)
	h.quoter.quote = quoteAt("1.10")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(h.executor.sells) != 1 {
		t.Fatalf("expected one sell, got %d", len(h.executor.sells))
	}
	if h.executor.sells[0].Cmp(bal.TokenWei) != 0 {
		t.Fatalf("sell must liquidate the full token balance")
	}
	if h.store.st.Holding {
		t.Fatalf("expected transition to flat")
	}
	if !h.store.st.AnchorPriceUSD.Equal(anchorAt("1.10")) {
		t.Fatalf("anchor must re-seed at execution price, got %s", h.store.st.AnchorPriceUSD)
	}
}

func TestTickNoSellBelowTrigger(t *testing.T) {
	st := state.StrategyState{Holding: true, AnchorPriceUSD: anchorAt("1.00")}
	h := newHarness(t, testConfig(), st, fullBal())
	h.quoter.quote = quoteAt("1.09")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(h.executor.sells) != 0 {
		t.Fatalf("expected no sell at 1.09")
	}
}

func TestTickGasGuardBlocksTrade(t *testing.T) {
	cfg := testConfig()
	cfg.Gas.MaxUSDPerTrade = 0.0001
	st := state.StrategyState{Holding: false, AnchorPriceUSD: anchorAt("1.20")}
	h := newHarness(t, cfg, st, fullBal())
	h.quoter.quote = quoteAt("1.08")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(h.executor.buys) != 0 {
		t.Fatalf("gas guard must block the buy")
	}
	if h.store.st.Holding {
		t.Fatalf("blocked trade must not change position")
	}
}

func TestTickInsufficientNativeSkipsBuy(t *testing.T) {
	st := state.StrategyState{Holding: false, AnchorPriceUSD: anchorAt("1.20")}
	// 1 gwei of native cannot cover the 0.5 native budget.
	h := newHarness(t, testConfig(), st, gweiBal(1))
	h.quoter.quote = quoteAt("1.08")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(h.executor.buys) != 0 {
		t.Fatalf("expected skip on insufficient balance")
	}
}

func TestTickFailedSwapKeepsPosition(t *testing.T) {
	st := state.StrategyState{Holding: true, AnchorPriceUSD: anchorAt("1.00")}
	h := newHarness(t, testConfig(), st, fullBal())
	h.quoter.quote = quoteAt("1.50")
	h.executor.err = errors.New("reverted")

	if err := h.engine.tick(context.Background()); err == nil {
		t.Fatalf("expected tick to surface the swap error")
	}
	if h.store.st.AnchorPriceUSD.Equal(anchorAt("1.50")) {
		t.Fatalf("failed trade must not move the anchor")
	}
	if !h.engine.st.Holding {
		t.Fatalf("failed sell must keep the position")
	}
	if len(h.trades.trades) != 1 || h.trades.trades[0].Success {
		t.Fatalf("expected a failed trade record")
	}
	if h.trades.trades[0].Error == "" {
		t.Fatalf("failure record must carry the error")
	}
}

func TestTickSkipsOnQuoteError(t *testing.T) {
	st := state.StrategyState{Holding: true, AnchorPriceUSD: anchorAt("1.00")}
	h := newHarness(t, testConfig(), st, fullBal())
	h.quoter.err = errors.New("all sources down")

	if err := h.engine.tick(context.Background()); err == nil {
		t.Fatalf("expected tick error when no quote is available")
	}
	if len(h.executor.buys)+len(h.executor.sells) != 0 {
		t.Fatalf("no trade may run without a quote")
	}
}

func TestTickSeedsAnchorFromFirstQuote(t *testing.T) {
	st := state.StrategyState{Holding: false}
	h := newHarness(t, testConfig(), st, fullBal())
	h.quoter.quote = quoteAt("2.50")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if !h.store.st.AnchorPriceUSD.Equal(anchorAt("2.50")) {
		t.Fatalf("expected anchor seeded from first quote, got %s", h.store.st.AnchorPriceUSD)
	}
	if len(h.executor.buys) != 0 {
		t.Fatalf("seeding tick must not trade")
	}
}

func TestBuyAmountWithoutFixedBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.BuyBudgetNative = 0
	cfg.Strategy.ReserveNative = 0.1
	st := state.StrategyState{Holding: false, AnchorPriceUSD: anchorAt("1.20")}
	h := newHarness(t, cfg, st, fullBal())
	h.quoter.quote = quoteAt("1.08")

	if err := h.engine.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(h.executor.buys) != 1 {
		t.Fatalf("expected one buy, got %d", len(h.executor.buys))
	}
	// 2 native minus 0.1 reserve minus the gas estimate.
	reserve := nativeToWei(0.1)
	gas := new(big.Int).Mul(chain.GweiToWei(1), big.NewInt(350_000))
	want := new(big.Int).Sub(fullBal().NativeWei, reserve)
	want.Sub(want, gas)
	if h.executor.buys[0].Cmp(want) != 0 {
		t.Fatalf("expected spend %s, got %s", want, h.executor.buys[0])
	}
}

func TestRestoreStateColdStart(t *testing.T) {
	h := newHarness(t, testConfig(), state.StrategyState{}, fullBal())
	h.store.found = false

	if err := h.engine.restoreState(context.Background()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !h.engine.st.Holding {
		t.Fatalf("wallet with tokens must cold-start as holding")
	}
	if h.store.saves != 1 {
		t.Fatalf("cold start must persist the derived state")
	}
}

func TestRestoreStateWarmStartAuthoritative(t *testing.T) {
	persisted := state.StrategyState{Holding: true, AnchorPriceUSD: anchorAt("3.33"), LastActionType: state.ActionBuy}
	h := newHarness(t, testConfig(), state.StrategyState{}, fullBal())
	h.store.st = persisted
	h.store.found = true

	if err := h.engine.restoreState(context.Background()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if !h.engine.st.AnchorPriceUSD.Equal(anchorAt("3.33")) {
		t.Fatalf("persisted anchor must survive restart, got %s", h.engine.st.AnchorPriceUSD)
	}
}
