// Package profiler enriches raw trade events with wallet provenance and
// market context before detection.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polywatch/engine/internal/cache"
	"github.com/polywatch/engine/internal/store"
)

// ErrProfileIncomplete is returned when the wallet snapshot is entirely
// unavailable (cold cache, upstream down). Downstream detectors must
// treat such a trade as fresh-wallet-indeterminate, not skip it: in a
// surveillance system a false negative costs more than a false positive.
var ErrProfileIncomplete = errors.New("wallet profile incomplete")

// TradeContext is a trade enriched with its wallet and market snapshots
// and, when available, the wallet's funding provenance. A context is
// owned by the single pipeline invocation that built it.
type TradeContext struct {
	Trade store.Trade

	Wallet    cache.Snapshot[store.Wallet]
	HasWallet bool

	Market    cache.Snapshot[store.Market]
	HasMarket bool

	FundingPath store.FundingPath
}

// WalletAgeDays returns the wallet age in days at trade time, or 0 when
// the wallet snapshot or first-seen time is unknown.
func (tc *TradeContext) WalletAgeDays() float64 {
	if !tc.HasWallet {
		return 0
	}
	return tc.Wallet.Value.AgeDays(tc.Trade.Timestamp)
}

// Profiler turns raw trade events into enriched TradeContexts. It is a
// pure composition of cache lookups and never mutates the caches itself.
type Profiler struct {
	wallets *cache.WalletHistoryCache
	markets *cache.MarketMetadataCache
	tracer  *FundingChainTracer
}

// New creates a Profiler. tracer may be nil to skip funding traces.
func New(wallets *cache.WalletHistoryCache, markets *cache.MarketMetadataCache, tracer *FundingChainTracer) *Profiler {
	return &Profiler{wallets: wallets, markets: markets, tracer: tracer}
}

// Profile builds the TradeContext for trade. The returned context is
// always usable; when the wallet snapshot cannot be obtained at all the
// error wraps ErrProfileIncomplete and the caller is expected to keep
// going with the partial context.
func (p *Profiler) Profile(ctx context.Context, trade store.Trade) (*TradeContext, error) {
	tc := &TradeContext{Trade: trade}
	address := strings.ToLower(trade.WalletAddress)

	wallet, werr := p.wallets.Get(ctx, address)
	if werr == nil {
		tc.Wallet = wallet
		tc.HasWallet = true
	}

	market, merr := p.markets.Get(ctx, trade.MarketID)
	if merr == nil {
		tc.Market = market
		tc.HasMarket = true
	} else {
		slog.Debug("market_snapshot_unavailable",
			"market", trade.MarketID, "error", merr)
	}

	if tc.HasWallet && p.tracer != nil && len(wallet.Value.FundingParents) > 0 {
		tc.FundingPath = p.tracer.Trace(ctx, address)
	}

	if !tc.HasWallet {
		return tc, fmt.Errorf("profile for %s: %w: %w", address, ErrProfileIncomplete, werr)
	}
	return tc, nil
}
