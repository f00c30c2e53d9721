// Package pipeline orchestrates per-trade risk evaluation: profile the
// trade, run the detectors, score the signals, and hand qualifying
// verdicts to the alert dispatcher.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polywatch/engine/internal/detector"
	"github.com/polywatch/engine/internal/metrics"
	"github.com/polywatch/engine/internal/profiler"
	"github.com/polywatch/engine/internal/store"
)

// Dispatcher is the external alert-delivery collaborator. Formatting and
// channel delivery live behind it.
type Dispatcher interface {
	Dispatch(ctx context.Context, verdict *detector.RiskVerdict, tc *profiler.TradeContext) error
}

// VerdictLog persists trades and verdicts. It is a pure log: the
// pipeline writes to it and never reads it back for decisions.
type VerdictLog interface {
	SaveTrade(ctx context.Context, t store.Trade) error
	SaveVerdict(ctx context.Context, v store.VerdictRecord) error
}

// Pipeline runs every incoming trade through profiling, the four
// detectors, and the composite scorer. Invocations for different trades
// may run concurrently; the detectors inside one invocation run in
// parallel since they share no mutable state beyond the sniper window's
// own synchronization.
type Pipeline struct {
	profiler  *profiler.Profiler
	detectors []detector.Detector
	dispatch  Dispatcher
	log       VerdictLog

	cooldown   time.Duration
	cooldownMu sync.Mutex
	lastAlert  map[string]time.Time
}

// New creates a pipeline. log may be nil to skip persistence; dispatch
// may be nil to score without alerting (batch mode).
func New(p *profiler.Profiler, detectors []detector.Detector, dispatch Dispatcher, log VerdictLog, cooldown time.Duration) *Pipeline {
	return &Pipeline{
		profiler:  p,
		detectors: detectors,
		dispatch:  dispatch,
		log:       log,
		cooldown:  cooldown,
		lastAlert: make(map[string]time.Time),
	}
}

// Process evaluates one trade. It returns the verdict (nil when no
// detector triggered) and an error only for trades that could not be
// evaluated at all. A failure in any single detector never aborts the
// others; it is recorded as missing evidence.
func (p *Pipeline) Process(ctx context.Context, trade store.Trade) (*detector.RiskVerdict, error) {
	if !trade.Valid() {
		metrics.TradesProcessed.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("invalid trade %q: price=%.4f size=%.2f", trade.TradeID, trade.Price, trade.SizeUSDC)
	}

	start := time.Now()
	defer func() {
		metrics.PipelineLatency.Observe(time.Since(start).Seconds())
	}()

	if p.log != nil {
		if err := p.log.SaveTrade(ctx, trade); err != nil {
			slog.Warn("trade_persist_failed", "trade", trade.TradeID, "error", err)
		}
	}

	tc, err := p.profiler.Profile(ctx, trade)
	if err != nil {
		if !errors.Is(err, profiler.ErrProfileIncomplete) {
			metrics.TradesProcessed.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("profile failed for trade %q: %w", trade.TradeID, err)
		}
		// Indeterminate wallet: keep going, detectors fail toward
		// suspicion rather than toward silence.
		slog.Debug("profile_incomplete",
			"trade", trade.TradeID,
			"wallet", truncateAddr(trade.WalletAddress),
		)
	}

	signals := p.runDetectors(ctx, tc)

	verdict := detector.Score(trade, signals)
	if verdict == nil {
		metrics.TradesProcessed.WithLabelValues("clean").Inc()
		return nil, nil
	}

	metrics.TradesProcessed.WithLabelValues("scored").Inc()
	metrics.VerdictsEmitted.WithLabelValues(verdict.Confidence).Inc()
	for _, s := range verdict.Signals {
		metrics.SignalsTriggered.WithLabelValues(s.Detector).Inc()
	}

	slog.Info("verdict_emitted",
		"trade", trade.TradeID,
		"wallet", truncateAddr(trade.WalletAddress),
		"market", truncateAddr(trade.MarketID),
		"confidence", verdict.Confidence,
		"score", verdict.Score,
		"signals", len(verdict.Signals),
	)

	p.persistVerdict(ctx, trade, verdict)

	if p.dispatch != nil {
		if p.underCooldown(trade) {
			metrics.AlertsSuppressed.Inc()
			slog.Debug("alert_suppressed_cooldown",
				"wallet", truncateAddr(trade.WalletAddress),
				"market", truncateAddr(trade.MarketID),
			)
		} else if err := p.dispatch.Dispatch(ctx, verdict, tc); err != nil {
			slog.Error("alert_dispatch_failed", "trade", trade.TradeID, "error", err)
		}
	}

	return verdict, nil
}

// runDetectors fans the context out to all detectors concurrently and
// collects their signals. Panics and errors stay confined to the
// offending detector.
func (p *Pipeline) runDetectors(ctx context.Context, tc *profiler.TradeContext) []detector.Signal {
	results := make([]*detector.Signal, len(p.detectors))

	var wg sync.WaitGroup
	for i, d := range p.detectors {
		wg.Add(1)
		go func(i int, d detector.Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.DetectorErrors.WithLabelValues(d.Name()).Inc()
					slog.Error("detector_panic", "detector", d.Name(), "panic", r)
				}
			}()

			sig, err := d.Detect(ctx, tc)
			if err != nil {
				metrics.DetectorErrors.WithLabelValues(d.Name()).Inc()
				slog.Warn("detector_failed",
					"detector", d.Name(),
					"trade", tc.Trade.TradeID,
					"error", err,
				)
				return
			}
			results[i] = sig
		}(i, d)
	}
	wg.Wait()

	signals := make([]detector.Signal, 0, len(results))
	for _, sig := range results {
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals
}

// underCooldown reports whether the wallet/market pair alerted within
// the cooldown window, arming the window when it did not.
func (p *Pipeline) underCooldown(trade store.Trade) bool {
	if p.cooldown <= 0 {
		return false
	}

	key := strings.ToLower(trade.WalletAddress) + ":" + trade.MarketID
	now := time.Now()

	p.cooldownMu.Lock()
	defer p.cooldownMu.Unlock()

	if last, ok := p.lastAlert[key]; ok && now.Sub(last) < p.cooldown {
		return true
	}
	p.lastAlert[key] = now

	// Opportunistic prune; the map only grows with alerting pairs.
	if len(p.lastAlert) > 10000 {
		for k, t := range p.lastAlert {
			if now.Sub(t) >= p.cooldown {
				delete(p.lastAlert, k)
			}
		}
	}
	return false
}

func (p *Pipeline) persistVerdict(ctx context.Context, trade store.Trade, verdict *detector.RiskVerdict) {
	if p.log == nil {
		return
	}

	signalsJSON, err := json.Marshal(verdict.Signals)
	if err != nil {
		slog.Warn("verdict_signals_marshal_failed", "trade", trade.TradeID, "error", err)
		signalsJSON = []byte("[]")
	}

	rec := store.VerdictRecord{
		VerdictID:     uuid.New().String(),
		TradeID:       trade.TradeID,
		WalletAddress: strings.ToLower(trade.WalletAddress),
		MarketID:      trade.MarketID,
		Confidence:    verdict.Confidence,
		Score:         verdict.Score,
		SignalsJSON:   string(signalsJSON),
		CreatedAt:     time.Now(),
	}
	if err := p.log.SaveVerdict(ctx, rec); err != nil {
		slog.Warn("verdict_persist_failed", "trade", trade.TradeID, "error", err)
	}
}

// truncateAddr shortens an address or ID for logging.
func truncateAddr(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
