package detector

import (
	"sort"

	"github.com/polywatch/engine/internal/store"
)

// Confidence levels for a risk verdict.
const (
	ConfidenceLow    = "LOW"
	ConfidenceMedium = "MEDIUM"
	ConfidenceHigh   = "HIGH"
)

// RiskVerdict is the aggregated, explainable output for one trade.
// It is a pure function of the triggered signals: same signals in, same
// verdict out, including signal order.
type RiskVerdict struct {
	TradeID    string
	Confidence string
	Signals    []Signal
	Score      float64
}

// Score aggregates the signal set for a trade into a verdict. It returns
// nil when no detector triggered: missing data degrades confidence
// rather than producing an error alert.
//
// Confidence depends only on how many distinct detectors triggered
// (3+ HIGH, 2 MEDIUM, 1 LOW); the score is the sum of their weights.
// Signals are ordered by descending weight, ties broken by a fixed
// detector priority so output is reproducible.
func Score(trade store.Trade, signals []Signal) *RiskVerdict {
	triggered := make([]Signal, 0, len(signals))
	for _, s := range signals {
		if s.Triggered {
			triggered = append(triggered, s)
		}
	}
	if len(triggered) == 0 {
		return nil
	}

	sort.SliceStable(triggered, func(i, j int) bool {
		if triggered[i].Weight != triggered[j].Weight {
			return triggered[i].Weight > triggered[j].Weight
		}
		return priority[triggered[i].Detector] < priority[triggered[j].Detector]
	})

	score := 0.0
	for _, s := range triggered {
		score += s.Weight
	}

	confidence := ConfidenceLow
	switch {
	case len(triggered) >= 3:
		confidence = ConfidenceHigh
	case len(triggered) == 2:
		confidence = ConfidenceMedium
	}

	return &RiskVerdict{
		TradeID:    trade.TradeID,
		Confidence: confidence,
		Signals:    triggered,
		Score:      score,
	}
}
