package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testYAML = `
trading:
  symbols: ["BTC-USDC"]
  mark_price_source: mid
exchanges:
  - name: hyperliquid
    api_key: file-key
    testnet: true
strategy:
  gamma: 0.1
  order_quantity: 1.0
risk:
  max_position_size: 100000
  max_position_per_symbol: 50000
  max_leverage: 5
  max_orders_per_minute: 60
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	t.Parallel()
	path := writeTestConfig(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Exchanges) != 1 || cfg.Exchanges[0].APIKey != "file-key" {
		t.Fatalf("unexpected exchanges: %+v", cfg.Exchanges)
	}
}

func TestEnvOverrideByIndex(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("ZIGQUANT_EXCHANGES_0_APIKEY", "env-key-by-index")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchanges[0].APIKey != "env-key-by-index" {
		t.Fatalf("expected index-form override, got %q", cfg.Exchanges[0].APIKey)
	}
}

func TestEnvOverrideByName(t *testing.T) {
	path := writeTestConfig(t)
	t.Setenv("ZIGQUANT_EXCHANGES_HYPERLIQUID_APIKEY", "env-key-by-name")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchanges[0].APIKey != "env-key-by-name" {
		t.Fatalf("expected name-form override, got %q", cfg.Exchanges[0].APIKey)
	}
}

func TestValidateRejectsMissingSymbols(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Exchanges: []ExchangeConfig{{Name: "hyperliquid", APIKey: "k"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected config_invalid error for missing symbols")
	}
}
