package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCEndpoints: []string{"https://rpc.example"},
			ChainID:      1,
		},
		Strategy: StrategyConfig{
			TokenAddress: "0x1111111111111111111111111111111111111111",
		},
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Log.Level)
	}
	if cfg.Strategy.SellGainPct != 0.10 || cfg.Strategy.RebuyDropPct != 0.10 {
		t.Fatalf("expected default thresholds 0.10/0.10, got %v/%v", cfg.Strategy.SellGainPct, cfg.Strategy.RebuyDropPct)
	}
	if cfg.Strategy.PollInterval != 30*time.Second {
		t.Fatalf("expected default poll interval 30s, got %v", cfg.Strategy.PollInterval)
	}
	if cfg.Gas.HeadroomPct != 0.20 {
		t.Fatalf("expected default gas headroom 0.20, got %v", cfg.Gas.HeadroomPct)
	}
	if len(cfg.Oracle.Sources) != 3 || cfg.Oracle.Sources[0] != "pair" {
		t.Fatalf("expected default source order starting with pair, got %v", cfg.Oracle.Sources)
	}
	if cfg.Strategy.TokenDecimals != 18 {
		t.Fatalf("expected default 18 token decimals, got %d", cfg.Strategy.TokenDecimals)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	cfg := validConfig()
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	missing := validConfig()
	missing.Chain.RPCEndpoints = nil
	applyDefaults(missing)
	if err := validate(missing); err == nil {
		t.Fatalf("expected error for missing rpc endpoints")
	}

	badDrop := validConfig()
	applyDefaults(badDrop)
	badDrop.Strategy.RebuyDropPct = 1.5
	if err := validate(badDrop); err == nil {
		t.Fatalf("expected error for rebuy drop >= 1")
	}

	badSource := validConfig()
	applyDefaults(badSource)
	badSource.Oracle.Sources = []string{"pair", "bogus"}
	if err := validate(badSource); err == nil {
		t.Fatalf("expected error for unknown oracle source")
	}

	tgMissing := validConfig()
	applyDefaults(tgMissing)
	tgMissing.Telegram.Enabled = true
	if err := validate(tgMissing); err == nil {
		t.Fatalf("expected error for enabled telegram without credentials")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
chain:
  rpc_endpoints: ["https://rpc-a.example", "https://rpc-b.example"]
  chain_id: 8453
strategy:
  token_address: "0x1111111111111111111111111111111111111111"
  sell_gain_pct: 0.15
  rebuy_drop_pct: 0.08
gas:
  cap_gwei: 40
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Chain.RPCEndpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(cfg.Chain.RPCEndpoints))
	}
	if cfg.Chain.ChainID != 8453 {
		t.Fatalf("expected chain id 8453, got %d", cfg.Chain.ChainID)
	}
	if cfg.Strategy.SellGainPct != 0.15 {
		t.Fatalf("expected sell gain 0.15, got %v", cfg.Strategy.SellGainPct)
	}
	if cfg.Gas.CapGwei != 40 {
		t.Fatalf("expected gas cap 40, got %v", cfg.Gas.CapGwei)
	}
	// Untouched fields still get defaults.
	if cfg.Strategy.PollInterval != 30*time.Second {
		t.Fatalf("expected default poll interval, got %v", cfg.Strategy.PollInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOT_RPC_ENDPOINTS", " https://rpc-x.example , https://rpc-y.example ")
	t.Setenv("BOT_TELEGRAM_TOKEN", "tok")
	t.Setenv("BOT_TELEGRAM_CHAT_ID", "42")
	cfg := validConfig()
	applyEnvOverrides(cfg)
	if len(cfg.Chain.RPCEndpoints) != 2 || cfg.Chain.RPCEndpoints[0] != "https://rpc-x.example" {
		t.Fatalf("expected endpoints from env, got %v", cfg.Chain.RPCEndpoints)
	}
	if cfg.Telegram.Token != "tok" || cfg.Telegram.ChatID != "42" {
		t.Fatalf("expected telegram credentials from env")
	}
}
