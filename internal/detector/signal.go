// Package detector applies independent anomaly-detection strategies to
// enriched trade contexts and aggregates their signals into risk verdicts.
package detector

import (
	"context"

	"github.com/polywatch/engine/internal/profiler"
)

// Detector names. The set is closed: the scorer's tie-break order depends
// on knowing exactly these four.
const (
	NameFreshWallet      = "fresh_wallet"
	NameSniperCluster    = "sniper_cluster"
	NameLiquidityImpact  = "liquidity_impact"
	NameEventCorrelation = "event_correlation"
)

// priority orders detectors for tie-breaking when weights are equal.
// Lower value wins.
var priority = map[string]int{
	NameFreshWallet:      0,
	NameSniperCluster:    1,
	NameLiquidityImpact:  2,
	NameEventCorrelation: 3,
}

// Signal is the outcome of one detector for one trade. Weight is in
// [0, 1]; Evidence carries human-readable facts for the alert.
type Signal struct {
	Detector  string
	Triggered bool
	Weight    float64
	Evidence  map[string]string
}

// Detector is the shared per-trade invocation contract. Detect returns
// nil when the detector does not trigger. Implementations are stateless
// per call; SniperCluster additionally maintains its shared window.
type Detector interface {
	Name() string
	Detect(ctx context.Context, tc *profiler.TradeContext) (*Signal, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
