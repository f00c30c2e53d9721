// Package main is the entry point for the Polywatch insider-detection engine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/polywatch/engine/internal/cache"
	"github.com/polywatch/engine/internal/config"
	"github.com/polywatch/engine/internal/detector"
	"github.com/polywatch/engine/internal/ingest"
	"github.com/polywatch/engine/internal/metrics"
	"github.com/polywatch/engine/internal/pipeline"
	"github.com/polywatch/engine/internal/profiler"
	"github.com/polywatch/engine/internal/store"
)

const (
	// TradeChannelBuffer is the size of the buffered trade channel
	TradeChannelBuffer = 1000

	// fetchRetries is the number of retry attempts per upstream fetch
	fetchRetries = 2
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("polywatch starting",
		"version", "1.0.0",
	)

	slog.Info("config_loaded",
		"polymarket_ws_url", cfg.PolymarketWSURL,
		"gamma_api_url", cfg.GammaAPIURL,
		"polygon_rpc_url", cfg.PolygonRPCURL,
		"news_feed_url", cfg.NewsFeedURL,
		"min_trade_size_usdc", cfg.MinTradeSizeUSDC,
		"fresh_wallet_max_nonce", cfg.FreshWalletMaxNonce,
		"liquidity_impact_threshold", cfg.LiquidityImpactThreshold,
		"min_cluster_size", cfg.MinClusterSize,
		"snipe_cutoff", cfg.SnipeCutoff,
		"funding_trace_depth", cfg.FundingTraceDepth,
		"worker_count", cfg.WorkerCount,
		"db_path", cfg.DBPath,
		"prometheus_port", cfg.PrometheusPort,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Open the verdict database
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Upstream clients
	chain, err := ingest.NewChainClient(cfg.PolygonRPCURL, cfg.FallbackRPCURL, cfg.RPCRateLimitPerSec)
	if err != nil {
		slog.Error("failed to connect to rpc", "url", cfg.PolygonRPCURL, "error", err)
		os.Exit(1)
	}
	defer chain.Close()
	gamma := ingest.NewGammaClient(cfg.GammaAPIURL)

	// Caches over the upstreams
	fetchOpts := cache.Options{
		Timeout:      cfg.FetchTimeout,
		Retries:      fetchRetries,
		RetryBackoff: 500 * time.Millisecond,
	}
	wallets := cache.NewWalletHistoryCache(chain.FetchWallet, fetchOpts)
	markets := cache.NewMarketMetadataCache(gamma.FetchMarket, cfg.MarketCacheTTL, fetchOpts)

	// Profiler with funding-chain tracer
	entities := profiler.NewEntityRegistry()
	tracer := profiler.NewFundingChainTracer(wallets, entities, cfg.FundingTraceDepth)
	prof := profiler.New(wallets, markets, tracer)

	// News feed is optional; event correlation runs fail-open without it
	var feed detector.NewsFeed
	if cfg.NewsFeedURL != "" {
		feed = ingest.NewNewsClient(cfg.NewsFeedURL, cfg.FetchTimeout)
	}

	detectors := []detector.Detector{
		detector.NewFreshWallet(cfg.FreshWalletMaxNonce, cfg.MinTradeSizeUSDC),
		detector.NewLiquidityImpact(cfg.LiquidityImpactThreshold, cfg.NicheVolumeUSDC),
		detector.NewSniperCluster(cfg.ClusterRetention, cfg.SnipeCutoff, cfg.MinClusterSize, cfg.LineageTransitive),
		detector.NewEventCorrelation(feed),
	}

	pipe := pipeline.New(prof, detectors, pipeline.NewLogDispatcher(), db, cfg.AlertCooldown)

	// Start Prometheus metrics server
	go func() {
		if err := metrics.Serve(cfg.PrometheusPort); err != nil {
			slog.Error("metrics_server_failed", "port", cfg.PrometheusPort, "error", err)
		}
	}()

	// Create trade channel
	tradeChan := make(chan store.Trade, TradeChannelBuffer)

	// Fetch active market token IDs for the WebSocket subscription
	slog.Info("fetching_active_markets")
	tokenIDs, err := gamma.ActiveTokenIDs(ctx, 100)
	if err != nil {
		slog.Warn("failed to fetch active markets, will subscribe to empty set", "error", err)
		tokenIDs = []string{}
	}

	// Start WebSocket listener with active market tokens
	listener := ingest.NewListener(cfg.PolymarketWSURL, tradeChan)
	listener.SetAssetIDs(tokenIDs)
	listener.Start(ctx)

	// Start REST API poller (optional - fails gracefully if the endpoint is missing)
	if cfg.PolymarketRESTURL != "" {
		poller := ingest.NewTradesPoller(cfg.PolymarketRESTURL, cfg.TradePollInterval, tradeChan)
		go poller.Start(ctx)
		slog.Info("rest_poller_started", "url", cfg.PolymarketRESTURL, "interval", cfg.TradePollInterval)
	}

	// Start worker pool to process trades
	for i := 0; i < cfg.WorkerCount; i++ {
		go worker(ctx, i, tradeChan, pipe)
	}

	slog.Info("engine_started",
		"status", "listening for trades",
		"subscribed_tokens", len(tokenIDs),
		"workers", cfg.WorkerCount,
	)

	// Wait for shutdown signal
	sig := <-sigChan
	slog.Info("shutdown_signal_received", "signal", sig.String())

	cancel()

	// Graceful shutdown
	slog.Info("shutting_down", "status", "stopping listener")
	listener.Stop()

	// Drain remaining trades through the pipeline
	drainTrades(tradeChan, pipe)

	slog.Info("shutdown_complete")
}

// worker pulls trades off the channel and runs each through the pipeline.
func worker(ctx context.Context, id int, tradeChan <-chan store.Trade, pipe *pipeline.Pipeline) {
	slog.Debug("worker_started", "id", id)
	defer slog.Debug("worker_stopped", "id", id)

	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-tradeChan:
			if !ok {
				return
			}
			if _, err := pipe.Process(ctx, trade); err != nil {
				slog.Warn("trade_processing_failed", "trade", trade.TradeID, "error", err)
			}
		}
	}
}

// drainTrades processes remaining trades in the channel during shutdown.
func drainTrades(tradeChan <-chan store.Trade, pipe *pipeline.Pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	drained := 0
	for {
		select {
		case trade := <-tradeChan:
			if _, err := pipe.Process(ctx, trade); err != nil {
				slog.Debug("drain_processing_failed", "trade", trade.TradeID, "error", err)
			}
			drained++
		case <-ctx.Done():
			if drained > 0 {
				slog.Info("trades_drained", "count", drained)
			}
			return
		default:
			if drained > 0 {
				slog.Info("trades_drained", "count", drained)
			}
			return
		}
	}
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}
