// Package store provides data models and database operations.
package store

import "time"

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade represents a single trade event from Polymarket.
// Trades are immutable once ingested and uniquely identified by TradeID.
type Trade struct {
	// TradeID is the unique identifier from the venue
	TradeID string

	// MarketID is the market/condition ID
	MarketID string

	// WalletAddress is the wallet behind the trade (lowercased)
	WalletAddress string

	// Side is BUY or SELL
	Side string

	// Outcome is YES or NO
	Outcome string

	// Price is the execution price (0-1 range for binary-outcome markets)
	Price float64

	// SizeUSDC is the notional value of the trade in USDC
	SizeUSDC float64

	// Timestamp is when the trade occurred
	Timestamp time.Time

	// TransactionHash is the on-chain transaction hash (if available)
	TransactionHash string
}

// Valid reports whether the trade satisfies the basic ingestion invariants.
func (t Trade) Valid() bool {
	return t.TradeID != "" && t.Price >= 0 && t.Price <= 1 && t.SizeUSDC > 0
}

// Wallet is a point-in-time snapshot of a wallet's chain facts.
// Snapshots are never mutated in place; a fresher fetch supersedes
// the previous one (last-write-wins by fetch time).
type Wallet struct {
	// Address is the wallet address (lowercased)
	Address string

	// FirstSeen is the timestamp of the wallet's first transaction.
	// Zero if the wallet has no history or the fact is unknown.
	FirstSeen time.Time

	// TxCount is the lifetime transaction count (nonce). Monotonically
	// non-decreasing across refreshes for the same address.
	TxCount int

	// FundingParents lists addresses that funded this wallet, in the
	// order the funding transfers occurred (earliest first).
	FundingParents []string
}

// AgeDays returns the wallet age in days relative to now, or 0 if the
// first-seen time is unknown.
func (w Wallet) AgeDays(now time.Time) float64 {
	if w.FirstSeen.IsZero() {
		return 0
	}
	return now.Sub(w.FirstSeen).Hours() / 24
}

// Market is a point-in-time snapshot of a market's slow-changing
// attributes. Same supersede-only mutation policy as Wallet.
type Market struct {
	// MarketID is the market/condition ID
	MarketID string

	// Category is the venue's market category (e.g. "politics")
	Category string

	// DailyVolumeUSDC is the 24h traded volume
	DailyVolumeUSDC float64

	// VisibleDepthUSDC is the visible order-book depth
	VisibleDepthUSDC float64

	// CreatedAt is when the market was created on the venue
	CreatedAt time.Time
}

// TagKnownEntity marks a funding hop that resolved to a recognized
// exchange-custodial or bridge address. Such hops terminate a trace.
const TagKnownEntity = "KNOWN_ENTITY"

// FundingHop is one step in a wallet's funding provenance.
type FundingHop struct {
	Address string
	AgeDays float64
	TxCount int

	// Tag is empty for ordinary hops, TagKnownEntity for terminal ones.
	Tag string
}

// FundingPath is the ordered funding provenance of a wallet, traced
// outward from the trading wallet. Bounded in length and free of
// duplicate addresses (cycle guard).
type FundingPath []FundingHop

// Contains reports whether the path already visits addr.
func (p FundingPath) Contains(addr string) bool {
	for _, hop := range p {
		if hop.Address == addr {
			return true
		}
	}
	return false
}

// Origin returns the outermost address of the path, or the empty string
// for an empty path.
func (p FundingPath) Origin() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1].Address
}
