package profiler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/polywatch/engine/internal/cache"
	"github.com/polywatch/engine/internal/store"
)

// walletGraph builds a wallet cache over a fixed in-memory funding graph.
// Addresses absent from the graph fetch as unavailable.
func walletGraph(graph map[string]store.Wallet) *cache.WalletHistoryCache {
	fetch := func(ctx context.Context, address string) (store.Wallet, error) {
		w, ok := graph[address]
		if !ok {
			return store.Wallet{}, errors.New("upstream miss")
		}
		return w, nil
	}
	return cache.NewWalletHistoryCache(fetch, cache.Options{Timeout: time.Second})
}

func TestTraceLinearChain(t *testing.T) {
	now := time.Now()
	wallets := walletGraph(map[string]store.Wallet{
		"0xtrader": {Address: "0xtrader", TxCount: 2, FirstSeen: now.Add(-time.Hour), FundingParents: []string{"0xp1"}},
		"0xp1":     {Address: "0xp1", TxCount: 40, FirstSeen: now.Add(-48 * time.Hour), FundingParents: []string{"0xp2"}},
		"0xp2":     {Address: "0xp2", TxCount: 900, FirstSeen: now.Add(-400 * 24 * time.Hour)},
	})
	tracer := NewFundingChainTracer(wallets, NewEntityRegistry(), 5)

	path := tracer.Trace(context.Background(), "0xTrader")

	if len(path) != 2 {
		t.Fatalf("Expected 2 hops, got %d: %+v", len(path), path)
	}
	if path[0].Address != "0xp1" || path[1].Address != "0xp2" {
		t.Errorf("Expected hops [0xp1 0xp2], got %+v", path)
	}
	if path[0].TxCount != 40 || path[1].TxCount != 900 {
		t.Errorf("Expected hop tx counts carried over, got %+v", path)
	}
	if path.Origin() != "0xp2" {
		t.Errorf("Expected origin 0xp2, got %q", path.Origin())
	}
}

func TestTraceCyclicGraphTerminates(t *testing.T) {
	// 0xa funds 0xb funds 0xa: the visited set must break the cycle.
	wallets := walletGraph(map[string]store.Wallet{
		"0xtrader": {Address: "0xtrader", FundingParents: []string{"0xa"}},
		"0xa":      {Address: "0xa", TxCount: 5, FundingParents: []string{"0xb"}},
		"0xb":      {Address: "0xb", TxCount: 6, FundingParents: []string{"0xa", "0xtrader"}},
	})
	tracer := NewFundingChainTracer(wallets, NewEntityRegistry(), 5)

	path := tracer.Trace(context.Background(), "0xtrader")

	if len(path) != 2 {
		t.Fatalf("Expected 2 hops for cyclic graph, got %d: %+v", len(path), path)
	}
	seen := map[string]bool{}
	for _, hop := range path {
		if seen[hop.Address] {
			t.Errorf("Duplicate address %s in path", hop.Address)
		}
		seen[hop.Address] = true
	}
	if path.Contains("0xtrader") {
		t.Error("Path must not revisit the origin wallet")
	}
}

func TestTraceDepthBound(t *testing.T) {
	// Chain of 10 wallets; only maxDepth hops may be recorded.
	graph := map[string]store.Wallet{
		"0xw0": {Address: "0xw0", FundingParents: []string{"0xw1"}},
	}
	for i := 1; i <= 9; i++ {
		addr := fmt.Sprintf("0xw%d", i)
		w := store.Wallet{Address: addr, TxCount: i}
		if i < 9 {
			w.FundingParents = []string{fmt.Sprintf("0xw%d", i+1)}
		}
		graph[addr] = w
	}
	tracer := NewFundingChainTracer(walletGraph(graph), NewEntityRegistry(), 5)

	path := tracer.Trace(context.Background(), "0xw0")

	if len(path) > 5 {
		t.Errorf("Expected path length <= 5, got %d", len(path))
	}
}

func TestTraceKnownEntityTerminal(t *testing.T) {
	binance := "0x28c6c06298d514db089934071355e5743bf21d60"
	wallets := walletGraph(map[string]store.Wallet{
		"0xtrader": {Address: "0xtrader", FundingParents: []string{binance}},
	})
	tracer := NewFundingChainTracer(wallets, NewEntityRegistry(), 5)

	path := tracer.Trace(context.Background(), "0xtrader")

	if len(path) != 1 {
		t.Fatalf("Expected 1 terminal hop, got %d: %+v", len(path), path)
	}
	if path[0].Tag != store.TagKnownEntity {
		t.Errorf("Expected KNOWN_ENTITY tag, got %q", path[0].Tag)
	}
	if path[0].TxCount != 0 || path[0].AgeDays != 0 {
		t.Errorf("Entity hop must carry no wallet facts, got %+v", path[0])
	}
}

func TestTraceUnavailableHopTruncatesBranch(t *testing.T) {
	// 0xgone is not fetchable; its branch truncates, 0xok survives.
	wallets := walletGraph(map[string]store.Wallet{
		"0xtrader": {Address: "0xtrader", FundingParents: []string{"0xgone", "0xok"}},
		"0xok":     {Address: "0xok", TxCount: 3},
	})
	tracer := NewFundingChainTracer(wallets, NewEntityRegistry(), 5)

	path := tracer.Trace(context.Background(), "0xtrader")

	if len(path) != 1 || path[0].Address != "0xok" {
		t.Errorf("Expected single hop 0xok after truncation, got %+v", path)
	}
}

func TestTraceUnavailableOriginReturnsEmpty(t *testing.T) {
	tracer := NewFundingChainTracer(walletGraph(nil), NewEntityRegistry(), 5)

	path := tracer.Trace(context.Background(), "0xunknown")
	if len(path) != 0 {
		t.Errorf("Expected empty path for unavailable origin, got %+v", path)
	}
}
