package detector

import (
	"context"
	"fmt"

	"github.com/polywatch/engine/internal/profiler"
)

// FreshWallet flags meaningful trades from wallets with almost no chain
// history: addresses created to obscure identity have few transactions.
type FreshWallet struct {
	maxNonce     int
	minTradeUSDC float64
}

// NewFreshWallet creates the detector. maxNonce is the tx count at and
// above which a wallet is no longer fresh; minTradeUSDC is the smallest
// trade worth flagging.
func NewFreshWallet(maxNonce int, minTradeUSDC float64) *FreshWallet {
	return &FreshWallet{maxNonce: maxNonce, minTradeUSDC: minTradeUSDC}
}

func (d *FreshWallet) Name() string { return NameFreshWallet }

// Detect triggers when the wallet's lifetime tx count is below the nonce
// threshold and the trade is large enough to matter. Weight interpolates
// linearly from 1.0 at zero transactions down to 0.2 at the threshold.
// An incomplete profile counts as zero transactions: indeterminate means
// maximal suspicion, not silence.
func (d *FreshWallet) Detect(_ context.Context, tc *profiler.TradeContext) (*Signal, error) {
	if tc.Trade.SizeUSDC < d.minTradeUSDC {
		return nil, nil
	}

	txCount := 0
	indeterminate := !tc.HasWallet
	if tc.HasWallet {
		txCount = tc.Wallet.Value.TxCount
	}

	if txCount >= d.maxNonce {
		return nil, nil
	}

	weight := 1.0 - 0.8*float64(txCount)/float64(d.maxNonce)

	evidence := map[string]string{
		"tx_count":        fmt.Sprintf("%d", txCount),
		"wallet_age_days": fmt.Sprintf("%.2f", tc.WalletAgeDays()),
		"trade_size_usdc": fmt.Sprintf("%.2f", tc.Trade.SizeUSDC),
	}
	if indeterminate {
		evidence["profile"] = "incomplete"
	}
	if tc.HasWallet && tc.Wallet.Stale {
		evidence["wallet_snapshot"] = "stale"
	}

	return &Signal{
		Detector:  NameFreshWallet,
		Triggered: true,
		Weight:    clamp01(weight),
		Evidence:  evidence,
	}, nil
}
