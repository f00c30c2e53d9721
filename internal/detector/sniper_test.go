package detector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/polywatch/engine/internal/profiler"
	"github.com/polywatch/engine/internal/store"
)

// snipeContext builds a context for a wallet entering marketID delta
// after its creation, with an optional funding path.
func snipeContext(wallet, marketID string, created time.Time, delta time.Duration, path store.FundingPath) *profiler.TradeContext {
	tc := newContext(
		store.Trade{
			TradeID:       wallet + "-" + marketID,
			MarketID:      marketID,
			WalletAddress: wallet,
			SizeUSDC:      5000,
			Timestamp:     created.Add(delta),
		},
		&store.Wallet{Address: wallet, TxCount: 2},
		&store.Market{MarketID: marketID, CreatedAt: created, VisibleDepthUSDC: 100000},
	)
	tc.FundingPath = path
	return tc
}

func TestSniperClusterCompletesOnThirdMarket(t *testing.T) {
	d := NewSniperCluster(24*time.Hour, 10*time.Minute, 3, true)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	parent := store.FundingPath{{Address: "0xparent", TxCount: 80}}

	// Three wallets, same funding parent, three distinct fresh markets.
	for i, wallet := range []string{"0xw1", "0xw2", "0xw3"} {
		created := base.Add(time.Duration(i) * time.Hour)
		sig, err := d.Detect(context.Background(), snipeContext(wallet, fmt.Sprintf("m-%d", i), created, 5*time.Minute, parent))
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}

		if i < 2 {
			if sig != nil {
				t.Errorf("Expected no signal at cluster size %d, got %+v", i+1, sig)
			}
			continue
		}

		if sig == nil || !sig.Triggered {
			t.Fatal("Expected cluster to complete on the third market")
		}
		if sig.Evidence["cluster_markets"] != "3" {
			t.Errorf("Expected cluster of 3 markets, got %q", sig.Evidence["cluster_markets"])
		}
		if sig.Evidence["lineage_root"] != "0xparent" {
			t.Errorf("Expected lineage root 0xparent, got %q", sig.Evidence["lineage_root"])
		}
		if sig.Weight != 0.3 {
			t.Errorf("Expected weight 0.3 for size 3, got %v", sig.Weight)
		}
	}
}

func TestSniperClusterStableClusterID(t *testing.T) {
	d := NewSniperCluster(24*time.Hour, 10*time.Minute, 2, true)

	base := time.Now().Add(-time.Hour)
	parent := store.FundingPath{{Address: "0xparent"}}

	d.Detect(context.Background(), snipeContext("0xw1", "m-1", base, time.Minute, parent))
	first, _ := d.Detect(context.Background(), snipeContext("0xw2", "m-2", base, 2*time.Minute, parent))
	second, _ := d.Detect(context.Background(), snipeContext("0xw3", "m-3", base, 3*time.Minute, parent))

	if first == nil || second == nil {
		t.Fatal("Expected signals once the cluster qualified")
	}
	if first.Evidence["cluster_id"] == "" || first.Evidence["cluster_id"] != second.Evidence["cluster_id"] {
		t.Errorf("Expected one stable cluster id, got %q and %q",
			first.Evidence["cluster_id"], second.Evidence["cluster_id"])
	}
}

func TestSniperClusterIgnoresLateEntries(t *testing.T) {
	d := NewSniperCluster(24*time.Hour, 10*time.Minute, 2, true)
	created := time.Now().Add(-2 * time.Hour)

	// Entry an hour after market creation is not a snipe.
	sig, err := d.Detect(context.Background(), snipeContext("0xw1", "m-1", created, time.Hour, nil))
	if err != nil || sig != nil {
		t.Errorf("Expected late entry to be ignored, got sig=%+v err=%v", sig, err)
	}
	if got := d.window.ClusterSize("0xw1"); got != 0 {
		t.Errorf("Late entry must not land in the window, cluster size %d", got)
	}

	// Entry timestamped before market creation is malformed input.
	sig, _ = d.Detect(context.Background(), snipeContext("0xw1", "m-1", created, -time.Minute, nil))
	if sig != nil {
		t.Errorf("Expected pre-creation entry to be ignored, got %+v", sig)
	}
}

func TestSniperClusterLineageRootSkipsKnownEntities(t *testing.T) {
	d := NewSniperCluster(24*time.Hour, 10*time.Minute, 3, true)
	created := time.Now().Add(-time.Hour)

	// An exchange hot wallet funds thousands of wallets; it must never
	// become the link between strangers.
	exchangePath := store.FundingPath{{Address: "0xbinance", Tag: store.TagKnownEntity}}
	d.Detect(context.Background(), snipeContext("0xw1", "m-1", created, time.Minute, exchangePath))

	if got := d.window.ClusterSize("0xbinance"); got != 0 {
		t.Errorf("Entity address must not be a lineage root, cluster size %d", got)
	}
	if got := d.window.ClusterSize("0xw1"); got != 1 {
		t.Errorf("Expected wallet itself as root, cluster size %d", got)
	}

	// A real hop behind the entity hop becomes the root.
	mixed := store.FundingPath{
		{Address: "0xmule", TxCount: 12},
		{Address: "0xbinance", Tag: store.TagKnownEntity},
	}
	d.Detect(context.Background(), snipeContext("0xw2", "m-2", created, time.Minute, mixed))
	if got := d.window.ClusterSize("0xmule"); got != 1 {
		t.Errorf("Expected outermost non-entity hop as root, cluster size %d", got)
	}
}

func TestSniperClusterDirectLineageOnly(t *testing.T) {
	// transitive=false links only through the direct funding parent.
	d := NewSniperCluster(24*time.Hour, 10*time.Minute, 2, false)
	created := time.Now().Add(-time.Hour)

	deep := store.FundingPath{
		{Address: "0xdirect", TxCount: 4},
		{Address: "0xgrandparent", TxCount: 300},
	}
	d.Detect(context.Background(), snipeContext("0xw1", "m-1", created, time.Minute, deep))

	if got := d.window.ClusterSize("0xdirect"); got != 1 {
		t.Errorf("Expected direct parent as root, cluster size %d", got)
	}
	if got := d.window.ClusterSize("0xgrandparent"); got != 0 {
		t.Errorf("Grandparent must not be the root in direct mode, cluster size %d", got)
	}
}

func TestSniperClusterWindowEviction(t *testing.T) {
	d := NewSniperCluster(time.Hour, 10*time.Minute, 2, true)
	parent := store.FundingPath{{Address: "0xparent"}}

	old := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	d.Detect(context.Background(), snipeContext("0xw1", "m-old", old, time.Minute, parent))
	if got := d.window.ClusterSize("0xparent"); got != 1 {
		t.Fatalf("Expected 1 market before eviction, got %d", got)
	}

	// An entry far past the retention horizon evicts the old bucket.
	recent := old.Add(3 * time.Hour)
	d.Detect(context.Background(), snipeContext("0xw2", "m-new", recent, time.Minute, parent))

	if got := d.window.ClusterSize("0xparent"); got != 1 {
		t.Errorf("Expected old market evicted, cluster size %d", got)
	}
	for _, e := range d.window.Entries() {
		if e.MarketID == "m-old" {
			t.Error("Expected m-old entry to be gone from the window")
		}
	}
}

func TestSniperClusterRejectsStaleEntries(t *testing.T) {
	d := NewSniperCluster(24*time.Hour, 10*time.Minute, 3, true)
	parent := store.FundingPath{{Address: "0xparent"}}

	recent := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	d.Detect(context.Background(), snipeContext("0xw1", "m-1", recent, time.Minute, parent))
	d.Detect(context.Background(), snipeContext("0xw2", "m-2", recent.Add(time.Minute), time.Minute, parent))

	// A delayed backfill from three days ago must not complete the cluster.
	stale := recent.Add(-72 * time.Hour)
	sig, err := d.Detect(context.Background(), snipeContext("0xw3", "m-stale", stale, time.Minute, parent))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if sig != nil {
		t.Errorf("Expected stale entry not to trigger, got %+v", sig)
	}
	if got := d.window.ClusterSize("0xparent"); got != 2 {
		t.Errorf("Expected stale entry kept out of the cluster, size %d", got)
	}
	for _, e := range d.window.Entries() {
		if e.MarketID == "m-stale" {
			t.Error("Expected stale entry to be absent from the window")
		}
	}
}

func TestSniperClusterIncrementalMatchesRescan(t *testing.T) {
	d := NewSniperCluster(24*time.Hour, 10*time.Minute, 2, true)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	roots := []string{"0xra", "0xrb", "0xrc"}
	for i := 0; i < 30; i++ {
		root := roots[i%len(roots)]
		path := store.FundingPath{{Address: root, TxCount: 10}}
		// Deliberately out of order in time, with repeated markets.
		created := base.Add(time.Duration((i*7)%13) * time.Minute)
		market := fmt.Sprintf("m-%d", i%5)
		wallet := fmt.Sprintf("0xw%d", i)
		d.Detect(context.Background(), snipeContext(wallet, market, created, 2*time.Minute, path))
	}

	for _, root := range roots {
		if inc, scan := d.window.ClusterSize(root), d.rescanClusterSize(root); inc != scan {
			t.Errorf("Incremental cluster size %d disagrees with rescan %d for %s", inc, scan, root)
		}
	}
}
