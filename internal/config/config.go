// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the Polywatch engine.
type Config struct {
	// Polymarket WebSocket
	PolymarketWSURL string

	// Polymarket REST API
	GammaAPIURL       string
	PolymarketRESTURL string
	TradePollInterval time.Duration

	// Blockchain RPC
	PolygonRPCURL      string
	FallbackRPCURL     string
	RPCRateLimitPerSec int

	// News feed collaborator (empty disables event correlation)
	NewsFeedURL string

	// Detection thresholds
	MinTradeSizeUSDC         float64
	FreshWalletMaxNonce      int
	LiquidityImpactThreshold float64
	NicheVolumeUSDC          float64

	// Sniper clustering
	ClusterRetention  time.Duration
	SnipeCutoff       time.Duration
	MinClusterSize    int
	LineageTransitive bool

	// Funding trace
	FundingTraceDepth int

	// Cache behavior
	FetchTimeout   time.Duration
	MarketCacheTTL time.Duration

	// Alerting
	AlertCooldown time.Duration

	// Database
	DBPath string

	// Workers
	WorkerCount int

	// Metrics
	PrometheusPort int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		// Polymarket
		PolymarketWSURL:   getEnv("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/"),
		GammaAPIURL:       getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		PolymarketRESTURL: getEnv("POLYMARKET_REST_URL", "https://clob.polymarket.com"),
		TradePollInterval: time.Duration(getEnvInt("TRADE_POLL_INTERVAL_SECONDS", 3)) * time.Second,

		// RPC
		PolygonRPCURL:      getEnv("POLYGON_RPC_URL", "https://polygon-rpc.com"),
		FallbackRPCURL:     getEnv("FALLBACK_RPC_URL", ""),
		RPCRateLimitPerSec: getEnvInt("RPC_RATE_LIMIT_PER_SEC", 10),

		// News feed
		NewsFeedURL: getEnv("NEWS_FEED_URL", ""),

		// Thresholds
		MinTradeSizeUSDC:         getEnvFloat("MIN_TRADE_SIZE_USDC", 1000),
		FreshWalletMaxNonce:      getEnvInt("FRESH_WALLET_MAX_NONCE", 5),
		LiquidityImpactThreshold: getEnvFloat("LIQUIDITY_IMPACT_THRESHOLD", 0.02),
		NicheVolumeUSDC:          getEnvFloat("NICHE_VOLUME_USDC", 50000),

		// Clustering
		ClusterRetention:  time.Duration(getEnvInt("CLUSTER_RETENTION_HOURS", 24)) * time.Hour,
		SnipeCutoff:       time.Duration(getEnvInt("SNIPE_CUTOFF_MINUTES", 10)) * time.Minute,
		MinClusterSize:    getEnvInt("MIN_CLUSTER_SIZE", 3),
		LineageTransitive: getEnvBool("LINEAGE_TRANSITIVE", true),

		// Funding trace
		FundingTraceDepth: getEnvInt("FUNDING_TRACE_DEPTH", 5),

		// Caches
		FetchTimeout:   time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 10)) * time.Second,
		MarketCacheTTL: time.Duration(getEnvInt("MARKET_CACHE_TTL_MINUTES", 5)) * time.Minute,

		// Alerting
		AlertCooldown: time.Duration(getEnvInt("ALERT_COOLDOWN_MINUTES", 60)) * time.Minute,

		// Database
		DBPath: getEnv("DB_PATH", "./data/polywatch.db"),

		// Workers
		WorkerCount: getEnvInt("WORKER_COUNT", 5),

		// Metrics
		PrometheusPort: getEnvInt("PROMETHEUS_PORT", 9090),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
// A validation failure is fatal at startup.
func (c *Config) Validate() error {
	if c.PolymarketWSURL == "" {
		return fmt.Errorf("POLYMARKET_WS_URL is required")
	}

	if c.MinTradeSizeUSDC <= 0 {
		return fmt.Errorf("MIN_TRADE_SIZE_USDC must be positive")
	}

	if c.FreshWalletMaxNonce < 1 {
		return fmt.Errorf("FRESH_WALLET_MAX_NONCE must be at least 1")
	}

	if c.LiquidityImpactThreshold <= 0 || c.LiquidityImpactThreshold > 1 {
		return fmt.Errorf("LIQUIDITY_IMPACT_THRESHOLD must be in (0, 1]")
	}

	if c.NicheVolumeUSDC < 0 {
		return fmt.Errorf("NICHE_VOLUME_USDC must not be negative")
	}

	if c.ClusterRetention <= 0 {
		return fmt.Errorf("CLUSTER_RETENTION_HOURS must be positive")
	}

	if c.SnipeCutoff <= 0 || c.SnipeCutoff >= c.ClusterRetention {
		return fmt.Errorf("SNIPE_CUTOFF_MINUTES must be positive and below the retention window")
	}

	if c.MinClusterSize < 2 {
		return fmt.Errorf("MIN_CLUSTER_SIZE must be at least 2")
	}

	if c.FundingTraceDepth < 1 {
		return fmt.Errorf("FUNDING_TRACE_DEPTH must be at least 1")
	}

	if c.RPCRateLimitPerSec < 1 {
		return fmt.Errorf("RPC_RATE_LIMIT_PER_SEC must be at least 1")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_SECONDS must be positive")
	}

	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}

	if c.PrometheusPort < 1 || c.PrometheusPort > 65535 {
		return fmt.Errorf("PROMETHEUS_PORT must be between 1 and 65535")
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
