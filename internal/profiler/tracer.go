package profiler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/polywatch/engine/internal/cache"
	"github.com/polywatch/engine/internal/store"
)

// DefaultTraceDepth bounds funding traces when no depth is configured.
const DefaultTraceDepth = 5

// FundingChainTracer walks a wallet's funding provenance outward through
// the wallet history cache. Funding graphs can cycle or reconverge, so
// traversal keeps a visited set and terminates on revisit; it never
// recurses unguarded.
type FundingChainTracer struct {
	wallets  *cache.WalletHistoryCache
	entities *EntityRegistry
	maxDepth int
}

// NewFundingChainTracer creates a tracer. maxDepth <= 0 falls back to
// DefaultTraceDepth.
func NewFundingChainTracer(wallets *cache.WalletHistoryCache, entities *EntityRegistry, maxDepth int) *FundingChainTracer {
	if maxDepth <= 0 {
		maxDepth = DefaultTraceDepth
	}
	if entities == nil {
		entities = NewEntityRegistry()
	}
	return &FundingChainTracer{wallets: wallets, entities: entities, maxDepth: maxDepth}
}

type traceNode struct {
	address string
	depth   int
}

// Trace produces the bounded funding path for address. Traversal is
// breadth-first in stated funding order, so the result is deterministic
// for a given cache state. Each hop costs one wallet cache lookup; an
// unavailable hop truncates that branch instead of failing the trace.
// Trace never returns an error.
func (t *FundingChainTracer) Trace(ctx context.Context, address string) store.FundingPath {
	address = strings.ToLower(address)
	now := time.Now()

	origin, err := t.wallets.Get(ctx, address)
	if err != nil {
		slog.Debug("funding_trace_origin_unavailable", "address", address, "error", err)
		return nil
	}

	path := make(store.FundingPath, 0, t.maxDepth)
	visited := map[string]bool{address: true}

	queue := make([]traceNode, 0, len(origin.Value.FundingParents))
	for _, parent := range origin.Value.FundingParents {
		queue = append(queue, traceNode{address: strings.ToLower(parent), depth: 1})
	}

	for len(queue) > 0 && len(path) < t.maxDepth {
		node := queue[0]
		queue = queue[1:]

		if visited[node.address] {
			// Cycle or reconvergence; already covered.
			continue
		}
		visited[node.address] = true

		if label, known := t.entities.Lookup(node.address); known {
			// Custodial or bridge address. Provenance beyond here
			// belongs to the entity, not the trader.
			path = append(path, store.FundingHop{
				Address: node.address,
				Tag:     store.TagKnownEntity,
			})
			slog.Debug("funding_trace_terminal_entity",
				"address", node.address, "entity", label, "depth", node.depth)
			continue
		}

		snap, err := t.wallets.Get(ctx, node.address)
		if err != nil {
			slog.Debug("funding_trace_hop_unavailable",
				"address", node.address, "depth", node.depth, "error", err)
			continue
		}

		path = append(path, store.FundingHop{
			Address: node.address,
			AgeDays: snap.Value.AgeDays(now),
			TxCount: snap.Value.TxCount,
		})

		if node.depth >= t.maxDepth {
			continue
		}
		for _, parent := range snap.Value.FundingParents {
			queue = append(queue, traceNode{address: strings.ToLower(parent), depth: node.depth + 1})
		}
	}

	return path
}

// MaxDepth returns the configured trace depth bound.
func (t *FundingChainTracer) MaxDepth() int {
	return t.maxDepth
}
