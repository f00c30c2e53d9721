package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// VerdictRecord is the persisted form of a risk verdict. The database is
// an append-only log consumed by operators; the pipeline never reads it
// back for in-flight decisions.
type VerdictRecord struct {
	VerdictID     string
	TradeID       string
	WalletAddress string
	MarketID      string
	Confidence    string
	Score         float64
	SignalsJSON   string
	CreatedAt     time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id       TEXT PRIMARY KEY,
	market_id      TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	side           TEXT NOT NULL,
	outcome        TEXT,
	price          REAL NOT NULL,
	size_usdc      REAL NOT NULL,
	ts             INTEGER NOT NULL,
	tx_hash        TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet_address);
CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);

CREATE TABLE IF NOT EXISTS verdicts (
	verdict_id     TEXT PRIMARY KEY,
	trade_id       TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	market_id      TEXT NOT NULL,
	confidence     TEXT NOT NULL,
	score          REAL NOT NULL,
	signals        TEXT NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_wallet ON verdicts(wallet_address);
`

// DB wraps the SQLite trade and verdict log.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The pipeline writes from multiple workers; SQLite serializes
	// writes on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

// SaveTrade inserts a trade. Re-inserting the same trade_id is a no-op,
// which tolerates at-least-once delivery from the ingestion stream.
func (d *DB) SaveTrade(ctx context.Context, t Trade) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trades
		 (trade_id, market_id, wallet_address, side, outcome, price, size_usdc, ts, tx_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.MarketID, t.WalletAddress, t.Side, t.Outcome,
		t.Price, t.SizeUSDC, t.Timestamp.Unix(), t.TransactionHash,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", t.TradeID, err)
	}
	return nil
}

// SaveVerdict appends a verdict record.
func (d *DB) SaveVerdict(ctx context.Context, v VerdictRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO verdicts
		 (verdict_id, trade_id, wallet_address, market_id, confidence, score, signals, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.VerdictID, v.TradeID, v.WalletAddress, v.MarketID,
		v.Confidence, v.Score, v.SignalsJSON, v.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save verdict %s: %w", v.VerdictID, err)
	}
	return nil
}

// CountVerdicts returns the total number of persisted verdicts.
func (d *DB) CountVerdicts(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verdicts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count verdicts: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}
