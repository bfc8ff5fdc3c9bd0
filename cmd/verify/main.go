package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"evm-dip-bot/internal/chain"
	"evm-dip-bot/internal/config"
	"evm-dip-bot/internal/logging"
	"evm-dip-bot/internal/oracle"
	"evm-dip-bot/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// verify exercises the read-only half of the stack against live services:
// RPC connectivity, the price fallback chain, the fee policy and the balance
// reads. It never signs or sends a transaction.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	skipOracle := flag.Bool("skip-oracle", false, "skip the price source checks")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	owner, err := ownerAddress()
	if err != nil {
		fatal(err)
	}
	token := common.HexToAddress(cfg.Strategy.TokenAddress)
	ctx := context.Background()

	client, err := chain.NewClient(cfg.Chain.RPCEndpoints, cfg.Chain.ChainID, cfg.Chain.Timeout, log)
	if err != nil {
		fatal(err)
	}
	defer client.Close()
	if err := client.Dial(ctx); err != nil {
		fatal(fmt.Errorf("rpc dial: %w", err))
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		fatal(fmt.Errorf("head fetch: %w", err))
	}
	fmt.Printf("rpc ok: endpoint=%s chain_id=%d block=%d\n", client.Endpoint(), cfg.Chain.ChainID, header.Number.Uint64())
	if header.BaseFee != nil {
		fmt.Printf("base fee: %s wei\n", header.BaseFee.String())
	} else {
		fmt.Println("base fee: none (legacy gas chain)")
	}

	policy := chain.NewPolicy(client, cfg.Gas.HeadroomPct, cfg.Gas.CapGwei, cfg.Gas.PriorityGwei)
	params, err := policy.ComputeFee(ctx)
	if err != nil {
		fatal(fmt.Errorf("fee compute: %w", err))
	}
	if params.IsLegacy() {
		fmt.Printf("gas policy: gas_price=%s wei\n", params.GasPrice.String())
	} else {
		fmt.Printf("gas policy: max_fee=%s wei priority=%s wei\n", params.MaxFeePerGas.String(), params.MaxPriorityFeePerGas.String())
	}
	swapCost := params.CostWei(cfg.Gas.SwapGasLimit)
	fmt.Printf("worst-case swap gas: %s wei (%s native)\n", swapCost.String(), chain.WeiToDecimal(swapCost).String())

	cache := wallet.NewCache(client, owner, token, 0, log)
	bal, err := cache.Balances(ctx, cfg.Strategy.BalanceMaxAge)
	if err != nil {
		fatal(fmt.Errorf("balance fetch: %w", err))
	}
	fmt.Printf("balances: wallet=%s native=%s wei token=%s\n", owner.Hex(), bal.NativeWei.String(), bal.TokenWei.String())

	if *skipOracle {
		return
	}
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
		}
	}
	for _, source := range sources {
		quote, err := source.Quote(ctx)
		if err != nil {
			fmt.Printf("source %s: error: %v\n", source.Name(), err)
			continue
		}
		fmt.Printf("source %s: token_usd=%s native_usd=%s degraded=%v\n",
			source.Name(), quote.TokenUSD.String(), quote.NativeUSD.String(), quote.Degraded)
	}
	quote, err := oracle.NewChain(log, sources...).GetQuote(ctx)
	if err != nil {
		fatal(fmt.Errorf("quote chain: %w", err))
	}
	fmt.Printf("quote chain: source=%s token_usd=%s gas_usd=%s\n",
		quote.Source, quote.TokenUSD.String(), quote.GasCostUSD(decimal.NewFromBigInt(swapCost, 0)).String())
}

func ownerAddress() (common.Address, error) {
	if rawKey := strings.TrimSpace(os.Getenv("BOT_PRIVATE_KEY")); rawKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(rawKey, "0x"))
		if err != nil {
			return common.Address{}, fmt.Errorf("invalid BOT_PRIVATE_KEY: %w", err)
		}
		return crypto.PubkeyToAddress(key.PublicKey), nil
	}
	if addr := strings.TrimSpace(os.Getenv("BOT_WALLET_ADDRESS")); addr != "" {
		if !common.IsHexAddress(addr) {
			return common.Address{}, fmt.Errorf("invalid BOT_WALLET_ADDRESS %q", addr)
		}
		return common.HexToAddress(addr), nil
	}
	return common.Address{}, errors.New("BOT_PRIVATE_KEY or BOT_WALLET_ADDRESS is required")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
