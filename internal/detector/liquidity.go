package detector

import (
	"context"
	"fmt"

	"github.com/polywatch/engine/internal/profiler"
)

// nicheBoost is applied to the weight when the market's daily volume is
// below the niche cutoff: the same depth ratio is more informative in a
// thin market.
const nicheBoost = 1.3

// LiquidityImpact flags trades that consume a disproportionate share of
// a market's visible order-book depth.
type LiquidityImpact struct {
	threshold       float64
	nicheVolumeUSDC float64
}

// NewLiquidityImpact creates the detector. threshold is the depth ratio
// above which a trade triggers; nicheVolumeUSDC is the daily volume below
// which a market counts as niche.
func NewLiquidityImpact(threshold, nicheVolumeUSDC float64) *LiquidityImpact {
	return &LiquidityImpact{threshold: threshold, nicheVolumeUSDC: nicheVolumeUSDC}
}

func (d *LiquidityImpact) Name() string { return NameLiquidityImpact }

// Detect triggers when size/depth exceeds the threshold. Weight saturates
// at three times the threshold so one mega-trade cannot dominate the
// composite score. Without a market snapshot there is nothing to measure;
// the detector stays silent and the gap shows up as missing evidence.
func (d *LiquidityImpact) Detect(_ context.Context, tc *profiler.TradeContext) (*Signal, error) {
	if !tc.HasMarket {
		return nil, nil
	}

	depth := tc.Market.Value.VisibleDepthUSDC
	if depth <= 0 {
		return nil, nil
	}

	ratio := tc.Trade.SizeUSDC / depth
	if ratio <= d.threshold {
		return nil, nil
	}

	weight := clamp01(ratio / (3 * d.threshold))

	evidence := map[string]string{
		"depth_ratio":        fmt.Sprintf("%.4f", ratio),
		"visible_depth_usdc": fmt.Sprintf("%.2f", depth),
		"trade_size_usdc":    fmt.Sprintf("%.2f", tc.Trade.SizeUSDC),
	}

	if tc.Market.Value.DailyVolumeUSDC < d.nicheVolumeUSDC {
		weight = clamp01(weight * nicheBoost)
		evidence["niche_market"] = "true"
		evidence["daily_volume_usdc"] = fmt.Sprintf("%.2f", tc.Market.Value.DailyVolumeUSDC)
	}
	if tc.Market.Stale {
		evidence["market_snapshot"] = "stale"
	}

	return &Signal{
		Detector:  NameLiquidityImpact,
		Triggered: true,
		Weight:    weight,
		Evidence:  evidence,
	}, nil
}
