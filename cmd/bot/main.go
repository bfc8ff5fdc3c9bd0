package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"evm-dip-bot/internal/alerts"
	"evm-dip-bot/internal/chain"
	"evm-dip-bot/internal/config"
	"evm-dip-bot/internal/engine"
	"evm-dip-bot/internal/history"
	"evm-dip-bot/internal/logging"
	"evm-dip-bot/internal/metrics"
	"evm-dip-bot/internal/oracle"
	"evm-dip-bot/internal/state"
	"evm-dip-bot/internal/swap"
	"evm-dip-bot/internal/telemetry"
	"evm-dip-bot/internal/timescale"
	"evm-dip-bot/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bot terminated", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	rawKey := strings.TrimSpace(os.Getenv("BOT_PRIVATE_KEY"))
	if rawKey == "" {
		return errors.New("BOT_PRIVATE_KEY is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(rawKey, "0x"))
	if err != nil {
		return fmt.Errorf("invalid BOT_PRIVATE_KEY: %w", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	token := common.HexToAddress(cfg.Strategy.TokenAddress)

	client, err := chain.NewClient(cfg.Chain.RPCEndpoints, cfg.Chain.ChainID, cfg.Chain.Timeout, log)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Dial(ctx); err != nil {
		return fmt.Errorf("rpc dial: %w", err)
	}
	log.Info("connected",
		zap.String("endpoint", client.Endpoint()),
		zap.String("wallet", owner.Hex()),
		zap.String("token", token.Hex()),
	)

	quotes, err := buildOracle(cfg, log)
	if err != nil {
		return err
	}
	policy := chain.NewPolicy(client, cfg.Gas.HeadroomPct, cfg.Gas.CapGwei, cfg.Gas.PriorityGwei)
	recovery := chain.NewRecovery(client, key, client.ChainID(), cfg.Gas.CancelHeadroomPct, cfg.Gas.PriorityGwei, log)
	balances := wallet.NewCache(client, owner, token, 0, log)

	stateFile, err := state.NewFile(cfg.State.FilePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.History.SQLitePath), 0o755); err != nil {
		return err
	}
	store, err := history.New(cfg.History.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	executor := swap.NewAggregator(swap.AggregatorConfig{
		BaseURL:         cfg.Swap.AggregatorURL,
		Timeout:         cfg.Swap.Timeout,
		Token:           token,
		SwapGasLimit:    cfg.Gas.SwapGasLimit,
		ApproveGasLimit: cfg.Gas.ApproveGasLimit,
		ConfirmTimeout:  cfg.Gas.ConfirmTimeout,
	}, client, policy, recovery, key, client.ChainID(), store, log)
	reportLastSwaps(ctx, executor, log)

	var hub *telemetry.Hub
	if cfg.Telemetry.Enabled {
		journal, err := telemetry.NewJournal(cfg.Telemetry.JournalPath, cfg.Telemetry.JournalSize)
		if err != nil {
			return err
		}
		defer journal.Close()
		hub = telemetry.NewHub(journal, log)
		go func() {
			if err := hub.Serve(ctx, cfg.Telemetry.Address); err != nil {
				log.Warn("telemetry server stopped", zap.Error(err))
			}
		}()
	}

	botMetrics := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		botMetrics = prom.Metrics
		go serveMetrics(ctx, cfg.Metrics, prom.Handler(), log)
	}

	archive, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return fmt.Errorf("timescale: %w", err)
	}
	archive.Start(ctx)
	defer archive.Close()

	var tg *alerts.Telegram
	if cfg.Telegram.Enabled {
		tg = alerts.NewTelegram(cfg.Telegram, cfg.Strategy.TokenSymbol, log)
	}

	executor.OnCancel(func(cancelHash common.Hash) {
		botMetrics.TxCancels.Inc()
		if tg != nil {
			tg.NotifyStuckReplaced(ctx, cancelHash.Hex())
		}
	})

	bot, err := engine.New(cfg, engine.Deps{
		Quotes:   quotes,
		Balances: balances,
		Fees:     policy,
		Executor: executor,
		State:    stateFile,
		History:  store,
		Hub:      hub,
		Archive:  archive,
		Metrics:  botMetrics,
		Alerts:   tg,
	}, log)
	if err != nil {
		return err
	}
	log.Info("engine initialized",
		zap.Duration("poll_interval", cfg.Strategy.PollInterval),
		zap.Float64("sell_gain_pct", cfg.Strategy.SellGainPct),
		zap.Float64("rebuy_drop_pct", cfg.Strategy.RebuyDropPct),
	)
	return bot.Run(ctx)
}

func buildOracle(cfg *config.Config, log *zap.Logger) (*oracle.Chain, error) {
	ds := oracle.NewDexScreenerClient(cfg.Oracle.DexScreenerURL, cfg.Oracle.Timeout)
	var sources []oracle.Source
	for _, name := range cfg.Oracle.Sources {
		switch name {
		case "pair":
			sources = append(sources, oracle.NewPairSource(ds, cfg.Strategy.PairChain, cfg.Strategy.PairAddress, cfg.Oracle.FallbackNativeUSD))
		case "token_search":
			sources = append(sources, oracle.NewTokenSearchSource(ds, cfg.Strategy.TokenAddress, cfg.Oracle.FallbackNativeUSD))
		case "coingecko":
			sources = append(sources, oracle.NewCoinGeckoSource(cfg.Oracle.CoinGeckoURL, cfg.Oracle.CoinGeckoTokenID, cfg.Oracle.CoinGeckoNativeID, cfg.Oracle.FallbackNativeUSD, cfg.Oracle.Timeout))
		default:
			return nil, fmt.Errorf("unknown oracle source %q", name)
		}
	}
	return oracle.NewChain(log, sources...), nil
}

// reportLastSwaps surfaces swaps a previous run submitted but never saw
// confirm, so the operator can check their outcome before trading resumes.
func reportLastSwaps(ctx context.Context, executor *swap.Aggregator, log *zap.Logger) {
	for _, side := range []string{"buy", "sell"} {
		hash, ok, err := executor.LastSubmitted(ctx, side)
		if err != nil {
			log.Warn("swap journal read failed", zap.String("side", side), zap.Error(err))
			continue
		}
		if ok {
			log.Info("last submitted swap", zap.String("side", side), zap.String("tx_hash", hash.Hex()))
		}
	}
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, handler http.Handler, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, handler)
	server := &http.Server{Addr: cfg.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
