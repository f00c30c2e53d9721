// Package ingest handles trade ingestion and the upstream data sources
// behind the caches: the CLOB WebSocket, the Polygon RPC, the Gamma API,
// and the news feed.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/polywatch/engine/internal/store"
)

// WSMessage is the base envelope of a WebSocket message.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TradeData is a trade as carried on the wire. Fields are strings
// because the venue serializes numbers inconsistently.
type TradeData struct {
	ID              string `json:"id"`
	TradeID         string `json:"trade_id"`
	Market          string `json:"market"`
	AssetID         string `json:"asset_id"`
	Maker           string `json:"maker"`
	MakerAddress    string `json:"maker_address"`
	Side            string `json:"side"`
	Size            string `json:"size"`
	Price           string `json:"price"`
	Outcome         string `json:"outcome"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"transaction_hash"`
}

// tradeEnvelope wraps one or many trades in a message.
type tradeEnvelope struct {
	Trades []TradeData `json:"trades"`
	TradeData
}

// ParseMessage parses a raw WebSocket message and returns trades if
// present, along with the message type for logging.
func ParseMessage(data []byte) ([]store.Trade, string, error) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if msg.Type != "trade" {
		return nil, msg.Type, nil
	}

	payload := msg.Data
	if len(payload) == 0 {
		payload = data
	}

	var env tradeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, msg.Type, fmt.Errorf("failed to unmarshal trade payload: %w", err)
	}

	raw := env.Trades
	if len(raw) == 0 && (env.ID != "" || env.TradeID != "") {
		raw = []TradeData{env.TradeData}
	}

	trades := make([]store.Trade, 0, len(raw))
	for _, td := range raw {
		trade, err := ConvertTrade(td)
		if err != nil {
			continue
		}
		trades = append(trades, trade)
	}
	return trades, msg.Type, nil
}

// ConvertTrade maps wire trade data onto the internal model, computing
// the USDC notional and normalizing addresses.
func ConvertTrade(td TradeData) (store.Trade, error) {
	price, err := strconv.ParseFloat(td.Price, 64)
	if err != nil {
		return store.Trade{}, fmt.Errorf("invalid price %q: %w", td.Price, err)
	}
	size, err := strconv.ParseFloat(td.Size, 64)
	if err != nil {
		return store.Trade{}, fmt.Errorf("invalid size %q: %w", td.Size, err)
	}

	ts, err := parseTimestamp(td.Timestamp)
	if err != nil {
		return store.Trade{}, fmt.Errorf("invalid timestamp %q: %w", td.Timestamp, err)
	}

	wallet := td.MakerAddress
	if wallet == "" {
		wallet = td.Maker
	}

	tradeID := td.TradeID
	if tradeID == "" {
		tradeID = td.ID
	}

	trade := store.Trade{
		TradeID:         tradeID,
		MarketID:        td.Market,
		WalletAddress:   strings.ToLower(wallet),
		Side:            strings.ToUpper(td.Side),
		Outcome:         strings.ToUpper(td.Outcome),
		Price:           price,
		SizeUSDC:        size * price,
		Timestamp:       ts,
		TransactionHash: td.TransactionHash,
	}
	if !trade.Valid() {
		return store.Trade{}, fmt.Errorf("trade %q fails ingestion invariants", tradeID)
	}
	return trade, nil
}

// parseTimestamp handles unix seconds, unix milliseconds, and RFC3339.
// A missing or unparseable timestamp is an error: inventing an entry
// time would poison the time-sensitive detectors downstream.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Heuristic: values past the year 33658 in seconds are millis.
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
