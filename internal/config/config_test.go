package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const validYAML = `
networks:
  - name: mainnet
    chain_id: 1
    http_url: http://localhost:8545
    websocket_url: ws://localhost:8546
    executor_address: "0x1111111111111111111111111111111111111111"
    wrapped_native: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    max_rpm: 600
liquidity:
  instruments:
    - chain_id: 1
      address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
      symbol: WETH
      decimals: 18
  venues:
    - chain_id: 1
      protocol: constant_product
      address: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
      token0: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
      token1: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
      fee_bps: 30
profit:
  min_profit:
    WETH: "0.01"
flashloan:
  providers:
    - name: balancer
      kind: zero_fee
      chain_ids: [1]
      vault: "0xBA12222222228d8Ba445958a75a0704d566BF2C8"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ValidFileWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Liquidity.MaxAge != 2*time.Second {
		t.Errorf("MaxAge = %v, want 2s default", cfg.Liquidity.MaxAge)
	}
	if cfg.Sensors.Interval != 5*time.Second {
		t.Errorf("sensor interval = %v, want 5s default", cfg.Sensors.Interval)
	}
	if cfg.PathFinder.MaxHops != 3 {
		t.Errorf("MaxHops = %d", cfg.PathFinder.MaxHops)
	}
	if cfg.Risk.BaseRisk != "0.001" {
		t.Errorf("BaseRisk = %q", cfg.Risk.BaseRisk)
	}

	floor, ok := Lookup(cfg.Profit.MinProfit, "WETH")
	if !ok || floor != "0.01" {
		t.Errorf("Lookup(min_profit, WETH) = %q, %v", floor, ok)
	}

	n, ok := cfg.Network(1)
	if !ok || n.MaxRPM != 600 {
		t.Errorf("Network(1) = %+v, %v", n, ok)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validYAML))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no networks", func(c *Config) { c.Networks = nil }},
		{"hops too high", func(c *Config) { c.PathFinder.MaxHops = 6 }},
		{"hops too low", func(c *Config) { c.PathFinder.MaxHops = 1 }},
		{"unknown protocol", func(c *Config) { c.Liquidity.Venues[0].Protocol = "orderbook" }},
		{"venue on unknown chain", func(c *Config) { c.Liquidity.Venues[0].ChainID = 10 }},
		{"zero vault", func(c *Config) {
			c.FlashLoan.Providers[0].Vault = "0x0000000000000000000000000000000000000000"
		}},
		{"risk above one", func(c *Config) { c.Risk.CongestionFactor = "1.5" }},
		{"treasury share", func(c *Config) { c.Execution.TreasuryShareBps = 10_001 }},
		{"privacy level", func(c *Config) { c.Submission.PrivacyLevel = "paranoid" }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestFraction(t *testing.T) {
	d, err := Fraction("0.25")
	if err != nil || !d.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("Fraction(0.25) = %s, %v", d, err)
	}
	if _, err := Fraction("-0.1"); err == nil {
		t.Error("negative fraction accepted")
	}
	if _, err := Fraction("x"); err == nil {
		t.Error("garbage accepted")
	}
}
