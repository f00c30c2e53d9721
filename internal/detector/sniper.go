package detector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polywatch/engine/internal/profiler"
	"github.com/polywatch/engine/internal/store"
)

// clusterSaturation is the cluster size at which the weight reaches 1.0.
const clusterSaturation = 10

// SniperCluster detects coordinated early entry into freshly created
// markets. Every qualifying trade lands in a shared sliding window keyed
// by funding lineage; a wallet triggers once its lineage has sniped
// enough distinct markets within the retention window.
type SniperCluster struct {
	window         *entryWindow
	cutoff         time.Duration
	minClusterSize int

	// transitive controls whether lineage follows the full funding
	// chain (outermost traced hop) or only the direct parent.
	transitive bool

	mu         sync.Mutex
	clusterIDs map[string]string
}

// NewSniperCluster creates the detector. retention bounds the sliding
// window, cutoff is the max market-creation-to-entry delay that counts
// as sniping, and minClusterSize is the number of distinct markets a
// lineage must snipe before it qualifies.
func NewSniperCluster(retention, cutoff time.Duration, minClusterSize int, transitive bool) *SniperCluster {
	return &SniperCluster{
		window:         newEntryWindow(retention),
		cutoff:         cutoff,
		minClusterSize: minClusterSize,
		transitive:     transitive,
		clusterIDs:     make(map[string]string),
	}
}

func (d *SniperCluster) Name() string { return NameSniperCluster }

// Detect records the trade in the window if it entered the market within
// the sniping cutoff, then triggers if the wallet's lineage now spans a
// qualifying cluster. Weight scales with cluster size, saturating at
// clusterSaturation markets.
func (d *SniperCluster) Detect(_ context.Context, tc *profiler.TradeContext) (*Signal, error) {
	if !tc.HasMarket || tc.Market.Value.CreatedAt.IsZero() {
		return nil, nil
	}

	delta := tc.Trade.Timestamp.Sub(tc.Market.Value.CreatedAt)
	if delta < 0 || delta > d.cutoff {
		return nil, nil
	}

	root := d.lineageRoot(tc)
	size := d.window.Insert(windowEntry{
		Wallet:          strings.ToLower(tc.Trade.WalletAddress),
		MarketID:        tc.Trade.MarketID,
		EntryTime:       tc.Trade.Timestamp,
		MarketCreatedAt: tc.Market.Value.CreatedAt,
		Root:            root,
	})

	if size < d.minClusterSize {
		return nil, nil
	}

	weight := clamp01(float64(size) / clusterSaturation)

	return &Signal{
		Detector:  NameSniperCluster,
		Triggered: true,
		Weight:    weight,
		Evidence: map[string]string{
			"cluster_id":          d.clusterID(root),
			"cluster_markets":     fmt.Sprintf("%d", size),
			"lineage_root":        root,
			"entry_delta_seconds": fmt.Sprintf("%.0f", delta.Seconds()),
		},
	}, nil
}

// lineageRoot picks the identity that links wallets of one funding
// lineage. Known-entity hops are skipped: an exchange hot wallet funds
// thousands of unrelated wallets and would cluster strangers together.
func (d *SniperCluster) lineageRoot(tc *profiler.TradeContext) string {
	wallet := strings.ToLower(tc.Trade.WalletAddress)

	if d.transitive {
		for i := len(tc.FundingPath) - 1; i >= 0; i-- {
			if tc.FundingPath[i].Tag != store.TagKnownEntity {
				return tc.FundingPath[i].Address
			}
		}
		return wallet
	}

	if len(tc.FundingPath) > 0 && tc.FundingPath[0].Tag != store.TagKnownEntity {
		return tc.FundingPath[0].Address
	}
	return wallet
}

// clusterID returns a stable identifier for a qualifying lineage.
func (d *SniperCluster) clusterID(root string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.clusterIDs[root]
	if !ok {
		id = uuid.New().String()
		d.clusterIDs[root] = id
	}
	return id
}

// rescanClusterSize recomputes the cluster size for root from a full
// window scan. It exists to cross-check the incremental index.
func (d *SniperCluster) rescanClusterSize(root string) int {
	markets := make(map[string]bool)
	for _, e := range d.window.Entries() {
		if e.Root == root {
			markets[e.MarketID] = true
		}
	}
	return len(markets)
}
