package pipeline

import (
	"context"
	"log/slog"

	"github.com/polywatch/engine/internal/detector"
	"github.com/polywatch/engine/internal/profiler"
)

// LogDispatcher writes alerts to the structured log. It is the in-repo
// Dispatcher implementation; channel delivery (Discord, Telegram, email)
// plugs in behind the same interface from the outside.
type LogDispatcher struct{}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

// Dispatch logs the verdict with its full evidence trail.
func (d *LogDispatcher) Dispatch(_ context.Context, verdict *detector.RiskVerdict, tc *profiler.TradeContext) error {
	attrs := []any{
		"trade", verdict.TradeID,
		"wallet", truncateAddr(tc.Trade.WalletAddress),
		"market", truncateAddr(tc.Trade.MarketID),
		"side", tc.Trade.Side,
		"size_usdc", tc.Trade.SizeUSDC,
		"confidence", verdict.Confidence,
		"score", verdict.Score,
	}
	for _, s := range verdict.Signals {
		attrs = append(attrs, "signal_"+s.Detector, s.Weight)
	}

	slog.Warn("insider_alert", attrs...)
	return nil
}
