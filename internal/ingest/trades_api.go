package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/polywatch/engine/internal/store"
)

const (
	// CLOBAPIBaseURL is the Polymarket CLOB API endpoint
	CLOBAPIBaseURL = "https://clob.polymarket.com"
	// DefaultPollInterval is the default polling interval
	DefaultPollInterval = 3 * time.Second
)

// tradeAPIResponse is one trade from the CLOB trades endpoint.
type tradeAPIResponse struct {
	ID              string `json:"id"`
	Market          string `json:"market"`
	AssetID         string `json:"asset_id"`
	MakerAddress    string `json:"maker_address"`
	Side            string `json:"side"`
	Size            string `json:"size"`
	Price           string `json:"price"`
	Outcome         string `json:"outcome"`
	Timestamp       int64  `json:"timestamp"` // Unix timestamp in milliseconds
	TransactionHash string `json:"transaction_hash"`
	TradeID         string `json:"trade_id"`
}

// TradesPoller polls the Polymarket CLOB API for recent trades. It backs
// up the WebSocket stream; duplicates are tolerated downstream because
// trade IDs deduplicate in the store and re-scoring is idempotent per
// cooldown.
type TradesPoller struct {
	baseURL   string
	client    *http.Client
	interval  time.Duration
	tradeChan chan<- store.Trade
	seen      map[string]bool
}

// NewTradesPoller creates a new TradesPoller.
func NewTradesPoller(baseURL string, interval time.Duration, tradeChan chan<- store.Trade) *TradesPoller {
	if baseURL == "" {
		baseURL = CLOBAPIBaseURL
	}
	if interval == 0 {
		interval = DefaultPollInterval
	}

	return &TradesPoller{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		interval:  interval,
		tradeChan: tradeChan,
		seen:      make(map[string]bool),
	}
}

// Start begins polling for trades. It blocks until ctx is cancelled.
func (p *TradesPoller) Start(ctx context.Context) {
	slog.Info("starting_trades_poller", "base_url", p.baseURL, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.poll(ctx); err != nil {
		slog.Warn("initial_poll_failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("trades_poller_stopped")
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				slog.Debug("poll_failed", "error", err)
			}
		}
	}
}

// poll fetches recent trades and forwards unseen ones.
func (p *TradesPoller) poll(ctx context.Context) error {
	url := fmt.Sprintf("%s/trades", p.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch trades: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var raw []tradeAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode trades: %w", err)
	}

	forwarded := 0
	for _, r := range raw {
		id := r.TradeID
		if id == "" {
			id = r.ID
		}
		if id == "" || p.seen[id] {
			continue
		}
		p.seen[id] = true

		trade, err := ConvertTrade(TradeData{
			ID:              r.ID,
			TradeID:         r.TradeID,
			Market:          r.Market,
			AssetID:         r.AssetID,
			MakerAddress:    strings.ToLower(r.MakerAddress),
			Side:            r.Side,
			Size:            r.Size,
			Price:           r.Price,
			Outcome:         r.Outcome,
			Timestamp:       fmt.Sprintf("%d", r.Timestamp),
			TransactionHash: r.TransactionHash,
		})
		if err != nil {
			continue
		}

		select {
		case p.tradeChan <- trade:
			forwarded++
		default:
			slog.Warn("trade_channel_full", "dropped_trade", trade.TradeID)
		}
	}

	if forwarded > 0 {
		slog.Debug("trades_polled", "forwarded", forwarded, "total", len(raw))
	}

	// Bound the dedup set; polled windows are short.
	if len(p.seen) > 50000 {
		p.seen = make(map[string]bool)
	}
	return nil
}
