package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.MinTradeSizeUSDC != 1000 {
		t.Errorf("Expected MinTradeSizeUSDC 1000, got %v", cfg.MinTradeSizeUSDC)
	}
	if cfg.FreshWalletMaxNonce != 5 {
		t.Errorf("Expected FreshWalletMaxNonce 5, got %d", cfg.FreshWalletMaxNonce)
	}
	if cfg.LiquidityImpactThreshold != 0.02 {
		t.Errorf("Expected LiquidityImpactThreshold 0.02, got %v", cfg.LiquidityImpactThreshold)
	}
	if cfg.MinClusterSize != 3 {
		t.Errorf("Expected MinClusterSize 3, got %d", cfg.MinClusterSize)
	}
	if cfg.SnipeCutoff != 10*time.Minute {
		t.Errorf("Expected SnipeCutoff 10m, got %v", cfg.SnipeCutoff)
	}
	if cfg.ClusterRetention != 24*time.Hour {
		t.Errorf("Expected ClusterRetention 24h, got %v", cfg.ClusterRetention)
	}
	if cfg.FundingTraceDepth != 5 {
		t.Errorf("Expected FundingTraceDepth 5, got %d", cfg.FundingTraceDepth)
	}
	if !cfg.LineageTransitive {
		t.Error("Expected LineageTransitive to default to true")
	}
	if cfg.WorkerCount != 5 {
		t.Errorf("Expected WorkerCount 5, got %d", cfg.WorkerCount)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FRESH_WALLET_MAX_NONCE", "8")
	t.Setenv("LIQUIDITY_IMPACT_THRESHOLD", "0.05")
	t.Setenv("LINEAGE_TRANSITIVE", "false")
	t.Setenv("SNIPE_CUTOFF_MINUTES", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.FreshWalletMaxNonce != 8 {
		t.Errorf("Expected FreshWalletMaxNonce 8, got %d", cfg.FreshWalletMaxNonce)
	}
	if cfg.LiquidityImpactThreshold != 0.05 {
		t.Errorf("Expected LiquidityImpactThreshold 0.05, got %v", cfg.LiquidityImpactThreshold)
	}
	if cfg.LineageTransitive {
		t.Error("Expected LineageTransitive false")
	}
	if cfg.SnipeCutoff != 15*time.Minute {
		t.Errorf("Expected SnipeCutoff 15m, got %v", cfg.SnipeCutoff)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min trade size", func(c *Config) { c.MinTradeSizeUSDC = 0 }},
		{"zero fresh wallet nonce", func(c *Config) { c.FreshWalletMaxNonce = 0 }},
		{"threshold above one", func(c *Config) { c.LiquidityImpactThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.LiquidityImpactThreshold = -0.1 }},
		{"cluster size below two", func(c *Config) { c.MinClusterSize = 1 }},
		{"cutoff above retention", func(c *Config) { c.SnipeCutoff = 48 * time.Hour }},
		{"zero trace depth", func(c *Config) { c.FundingTraceDepth = 0 }},
		{"zero workers", func(c *Config) { c.WorkerCount = 0 }},
		{"bad prometheus port", func(c *Config) { c.PrometheusPort = 99999 }},
		{"missing ws url", func(c *Config) { c.PolymarketWSURL = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tc.name)
			}
		})
	}
}
