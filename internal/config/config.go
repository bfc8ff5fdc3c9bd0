package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Chain     ChainConfig     `yaml:"chain"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Gas       GasConfig       `yaml:"gas"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Swap      SwapConfig      `yaml:"swap"`
	State     StateConfig     `yaml:"state"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ChainConfig struct {
	// RPCEndpoints are tried in order; the balance cache and the swap
	// executor rotate to the next endpoint on failure.
	RPCEndpoints []string      `yaml:"rpc_endpoints"`
	ChainID      int64         `yaml:"chain_id"`
	Timeout      time.Duration `yaml:"timeout"`
}

type OracleConfig struct {
	// Sources is the fallback order. Known names: pair, token_search,
	// coingecko.
	Sources           []string      `yaml:"sources"`
	DexScreenerURL    string        `yaml:"dexscreener_url"`
	CoinGeckoURL      string        `yaml:"coingecko_url"`
	CoinGeckoTokenID  string        `yaml:"coingecko_token_id"`
	CoinGeckoNativeID string        `yaml:"coingecko_native_id"`
	Timeout           time.Duration `yaml:"timeout"`
	// FallbackNativeUSD is used when no source supplies a native-denominated
	// rate; quotes priced with it are flagged degraded.
	FallbackNativeUSD float64 `yaml:"fallback_native_usd"`
}

type GasConfig struct {
	HeadroomPct       float64       `yaml:"headroom_pct"`
	CancelHeadroomPct float64       `yaml:"cancel_headroom_pct"`
	CapGwei           float64       `yaml:"cap_gwei"`
	PriorityGwei      float64       `yaml:"priority_gwei"`
	MaxUSDPerTrade    float64       `yaml:"max_usd_per_trade"`
	SwapGasLimit      uint64        `yaml:"swap_gas_limit"`
	ApproveGasLimit   uint64        `yaml:"approve_gas_limit"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
}

type StrategyConfig struct {
	TokenAddress    string        `yaml:"token_address"`
	PairAddress     string        `yaml:"pair_address"`
	PairChain       string        `yaml:"pair_chain"`
	TokenSymbol     string        `yaml:"token_symbol"`
	TokenDecimals   int           `yaml:"token_decimals"`
	SellGainPct     float64       `yaml:"sell_gain_pct"`
	RebuyDropPct    float64       `yaml:"rebuy_drop_pct"`
	BuyBudgetNative float64       `yaml:"buy_budget_native"`
	ReserveNative   float64       `yaml:"reserve_native"`
	SlippageBps     int           `yaml:"slippage_bps"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	BalanceMaxAge   time.Duration `yaml:"balance_max_age"`
}

type SwapConfig struct {
	AggregatorURL string        `yaml:"aggregator_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type StateConfig struct {
	FilePath string `yaml:"file_path"`
}

type HistoryConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	JournalPath string `yaml:"journal_path"`
	JournalSize int    `yaml:"journal_size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Chain.Timeout == 0 {
		cfg.Chain.Timeout = 15 * time.Second
	}
	if len(cfg.Oracle.Sources) == 0 {
		cfg.Oracle.Sources = []string{"pair", "token_search", "coingecko"}
	}
	if cfg.Oracle.DexScreenerURL == "" {
		cfg.Oracle.DexScreenerURL = "https://api.dexscreener.com"
	}
	if cfg.Oracle.CoinGeckoURL == "" {
		cfg.Oracle.CoinGeckoURL = "https://api.coingecko.com"
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = 10 * time.Second
	}
	if cfg.Gas.HeadroomPct == 0 {
		cfg.Gas.HeadroomPct = 0.20
	}
	if cfg.Gas.CancelHeadroomPct == 0 {
		cfg.Gas.CancelHeadroomPct = 0.125
	}
	if cfg.Gas.PriorityGwei == 0 {
		cfg.Gas.PriorityGwei = 1.5
	}
	if cfg.Gas.SwapGasLimit == 0 {
		cfg.Gas.SwapGasLimit = 350_000
	}
	if cfg.Gas.ApproveGasLimit == 0 {
		cfg.Gas.ApproveGasLimit = 60_000
	}
	if cfg.Gas.ConfirmTimeout == 0 {
		cfg.Gas.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.Strategy.PairChain == "" {
		cfg.Strategy.PairChain = "ethereum"
	}
	if cfg.Strategy.TokenDecimals == 0 {
		cfg.Strategy.TokenDecimals = 18
	}
	if cfg.Strategy.SellGainPct == 0 {
		cfg.Strategy.SellGainPct = 0.10
	}
	if cfg.Strategy.RebuyDropPct == 0 {
		cfg.Strategy.RebuyDropPct = 0.10
	}
	if cfg.Strategy.SlippageBps == 0 {
		cfg.Strategy.SlippageBps = 100
	}
	if cfg.Strategy.PollInterval == 0 {
		cfg.Strategy.PollInterval = 30 * time.Second
	}
	if cfg.Strategy.BalanceMaxAge == 0 {
		cfg.Strategy.BalanceMaxAge = 20 * time.Second
	}
	if cfg.Swap.Timeout == 0 {
		cfg.Swap.Timeout = 20 * time.Second
	}
	if cfg.State.FilePath == "" {
		cfg.State.FilePath = "data/strategy-state.json"
	}
	if cfg.History.SQLitePath == "" {
		cfg.History.SQLitePath = "data/evm-dip-bot.db"
	}
	if cfg.Telemetry.Address == "" {
		cfg.Telemetry.Address = "127.0.0.1:8099"
	}
	if cfg.Telemetry.JournalSize == 0 {
		cfg.Telemetry.JournalSize = 512
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv("BOT_RPC_ENDPOINTS")); raw != "" {
		var endpoints []string
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				endpoints = append(endpoints, trimmed)
			}
		}
		if len(endpoints) > 0 {
			cfg.Chain.RPCEndpoints = endpoints
		}
	}
	if token := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("BOT_TIMESCALE_DSN")); dsn != "" {
		cfg.Timescale.DSN = dsn
	}
}

func validate(cfg *Config) error {
	if len(cfg.Chain.RPCEndpoints) == 0 {
		return errors.New("chain.rpc_endpoints is required")
	}
	if cfg.Chain.ChainID <= 0 {
		return errors.New("chain.chain_id is required")
	}
	if cfg.Strategy.TokenAddress == "" {
		return errors.New("strategy.token_address is required")
	}
	if cfg.Strategy.SellGainPct <= 0 {
		return errors.New("strategy.sell_gain_pct must be > 0")
	}
	if cfg.Strategy.RebuyDropPct <= 0 || cfg.Strategy.RebuyDropPct >= 1 {
		return errors.New("strategy.rebuy_drop_pct must be in (0, 1)")
	}
	if cfg.Strategy.BuyBudgetNative < 0 {
		return errors.New("strategy.buy_budget_native must be >= 0")
	}
	if cfg.Strategy.ReserveNative < 0 {
		return errors.New("strategy.reserve_native must be >= 0")
	}
	if cfg.Strategy.SlippageBps <= 0 || cfg.Strategy.SlippageBps > 5000 {
		return errors.New("strategy.slippage_bps must be in (0, 5000]")
	}
	if cfg.Gas.HeadroomPct < 0 {
		return errors.New("gas.headroom_pct must be >= 0")
	}
	if cfg.Gas.CapGwei < 0 {
		return errors.New("gas.cap_gwei must be >= 0")
	}
	if cfg.Gas.PriorityGwei < 0 {
		return errors.New("gas.priority_gwei must be >= 0")
	}
	for _, source := range cfg.Oracle.Sources {
		switch source {
		case "pair", "token_search", "coingecko":
		default:
			return fmt.Errorf("oracle.sources contains unknown source %q", source)
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
