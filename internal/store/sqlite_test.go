package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveTradeIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	trade := Trade{
		TradeID:       "t-1",
		MarketID:      "m-1",
		WalletAddress: "0xabc",
		Side:          SideBuy,
		Outcome:       "YES",
		Price:         0.42,
		SizeUSDC:      15000,
		Timestamp:     time.Now(),
	}

	// At-least-once delivery: saving the same trade twice must not error.
	if err := db.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("SaveTrade failed: %v", err)
	}
	if err := db.SaveTrade(ctx, trade); err != nil {
		t.Errorf("Duplicate SaveTrade must be a no-op, got %v", err)
	}
}

func TestSaveAndCountVerdicts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"v-1", "v-2"} {
		rec := VerdictRecord{
			VerdictID:     id,
			TradeID:       "t-1",
			WalletAddress: "0xabc",
			MarketID:      "m-1",
			Confidence:    "MEDIUM",
			Score:         1.5,
			SignalsJSON:   `[{"Detector":"fresh_wallet"}]`,
			CreatedAt:     time.Now(),
		}
		if err := db.SaveVerdict(ctx, rec); err != nil {
			t.Fatalf("SaveVerdict %d failed: %v", i, err)
		}
	}

	n, err := db.CountVerdicts(ctx)
	if err != nil {
		t.Fatalf("CountVerdicts failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 verdicts, got %d", n)
	}
}

func TestTradeValid(t *testing.T) {
	good := Trade{TradeID: "t-1", Price: 0.5, SizeUSDC: 100}
	if !good.Valid() {
		t.Error("Expected valid trade")
	}

	cases := []Trade{
		{TradeID: "", Price: 0.5, SizeUSDC: 100},
		{TradeID: "t-1", Price: 1.5, SizeUSDC: 100},
		{TradeID: "t-1", Price: -0.1, SizeUSDC: 100},
		{TradeID: "t-1", Price: 0.5, SizeUSDC: 0},
	}
	for i, trade := range cases {
		if trade.Valid() {
			t.Errorf("Case %d: expected invalid trade %+v", i, trade)
		}
	}
}
