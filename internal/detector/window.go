package detector

import (
	"sync"
	"time"
)

// windowEntry is one sniping candidate in the sliding window: a wallet
// entering a market shortly after its creation.
type windowEntry struct {
	Wallet          string
	MarketID        string
	EntryTime       time.Time
	MarketCreatedAt time.Time

	// Root identifies the funding lineage the wallet belongs to (the
	// wallet itself when no lineage is known).
	Root string
}

// entryWindow is the shared sliding window behind SniperCluster. Entries
// live in time buckets evicted wholesale by index, and a per-root market
// count keeps cluster queries incremental: inserting an entry touches only
// its own lineage, never a full window re-scan.
//
// Mutation is serialized behind one writer lock, with read-mostly access
// for cluster queries; a query never observes a partially-inserted entry
// because the bucket append and the index update commit under the same
// critical section.
type entryWindow struct {
	retention time.Duration
	bucketDur time.Duration

	mu      sync.RWMutex
	buckets map[int64][]windowEntry

	// rootMarkets counts live entries per lineage root per market.
	// Cluster size for a root is the number of distinct markets.
	rootMarkets map[string]map[string]int

	// newest is the max entry time observed; the retention horizon is
	// measured from it so out-of-order arrival cannot evict the window
	// against wall clock.
	newest time.Time
}

const windowBucketCount = 24

func newEntryWindow(retention time.Duration) *entryWindow {
	bucketDur := retention / windowBucketCount
	if bucketDur <= 0 {
		bucketDur = time.Minute
	}
	return &entryWindow{
		retention:   retention,
		bucketDur:   bucketDur,
		buckets:     make(map[int64][]windowEntry),
		rootMarkets: make(map[string]map[string]int),
	}
}

func (w *entryWindow) bucketKey(t time.Time) int64 {
	return t.Truncate(w.bucketDur).Unix()
}

// Insert appends e, lazily evicts expired buckets, and returns the
// updated cluster size (distinct markets) for e's lineage root.
func (w *entryWindow) Insert(e windowEntry) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e.EntryTime.After(w.newest) {
		w.newest = e.EntryTime
	}
	w.evictLocked()

	// An entry already past the retention horizon would land in a bucket
	// eviction never revisits; drop it instead of counting it.
	if !e.EntryTime.After(w.newest.Add(-w.retention)) {
		return len(w.rootMarkets[e.Root])
	}

	key := w.bucketKey(e.EntryTime)
	w.buckets[key] = append(w.buckets[key], e)

	markets := w.rootMarkets[e.Root]
	if markets == nil {
		markets = make(map[string]int)
		w.rootMarkets[e.Root] = markets
	}
	markets[e.MarketID]++

	return len(markets)
}

// ClusterSize returns the number of distinct markets currently sniped by
// the given lineage root.
func (w *entryWindow) ClusterSize(root string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.rootMarkets[root])
}

// Entries returns a snapshot of all live entries, in no particular order.
func (w *entryWindow) Entries() []windowEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []windowEntry
	for _, bucket := range w.buckets {
		out = append(out, bucket...)
	}
	return out
}

// evictLocked drops buckets that have fallen entirely outside the
// retention horizon and unwinds their index contributions.
func (w *entryWindow) evictLocked() {
	cutoff := w.newest.Add(-w.retention)

	for key, bucket := range w.buckets {
		// A bucket spans [key, key+bucketDur); it is expired only when
		// its end lies at or before the cutoff.
		bucketEnd := time.Unix(key, 0).Add(w.bucketDur)
		if bucketEnd.After(cutoff) {
			continue
		}

		for _, e := range bucket {
			markets := w.rootMarkets[e.Root]
			if markets == nil {
				continue
			}
			markets[e.MarketID]--
			if markets[e.MarketID] <= 0 {
				delete(markets, e.MarketID)
			}
			if len(markets) == 0 {
				delete(w.rootMarkets, e.Root)
			}
		}
		delete(w.buckets, key)
	}
}
