package cache

import (
	"context"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// DefaultMarketTTL is the refresh interval for market metadata. Category
// and creation time never change; volume and depth drift slowly.
const DefaultMarketTTL = 5 * time.Minute

// MarketMetadataCache memoizes per-market static and slow-changing
// attributes with TTL-based refresh.
type MarketMetadataCache struct {
	*Cache[store.Market]
}

// NewMarketMetadataCache creates a market cache over the given fetcher.
// A non-positive ttl falls back to DefaultMarketTTL.
func NewMarketMetadataCache(fetch FetchFunc[store.Market], ttl time.Duration, opts Options) *MarketMetadataCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketMetadataCache{
		Cache: New("market_metadata", fetch, func(store.Market) time.Duration { return ttl }, nil, opts),
	}
}

// Get retrieves the market snapshot for marketID.
func (c *MarketMetadataCache) Get(ctx context.Context, marketID string) (Snapshot[store.Market], error) {
	return c.Cache.Get(ctx, marketID)
}
