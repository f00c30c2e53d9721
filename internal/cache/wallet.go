package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// Wallet snapshot TTLs. Young wallets are the ones whose state changes
// fastest and matters most, so they expire much sooner.
const (
	YoungWalletTTL = 60 * time.Second
	OldWalletTTL   = time.Hour

	// youngWalletAge is the age below which a wallet counts as young.
	youngWalletAge = 24 * time.Hour
)

// WalletHistoryCache memoizes per-wallet chain facts behind a
// rate-limited upstream source.
type WalletHistoryCache struct {
	*Cache[store.Wallet]
}

// NewWalletHistoryCache creates a wallet cache over the given fetcher.
func NewWalletHistoryCache(fetch FetchFunc[store.Wallet], opts Options) *WalletHistoryCache {
	return &WalletHistoryCache{
		Cache: New("wallet_history", fetch, walletTTL, validateWallet, opts),
	}
}

func walletTTL(w store.Wallet) time.Duration {
	if w.FirstSeen.IsZero() || time.Since(w.FirstSeen) < youngWalletAge {
		return YoungWalletTTL
	}
	return OldWalletTTL
}

// validateWallet guards the tx count monotonicity invariant. Stale reads
// are allowed; regressions are not, they indicate an upstream or cache bug.
func validateWallet(prev, next store.Wallet) error {
	if next.TxCount < prev.TxCount {
		return fmt.Errorf("tx count regression: %d -> %d", prev.TxCount, next.TxCount)
	}
	return nil
}

// Get retrieves the wallet snapshot for address.
func (c *WalletHistoryCache) Get(ctx context.Context, address string) (Snapshot[store.Wallet], error) {
	return c.Cache.Get(ctx, address)
}
