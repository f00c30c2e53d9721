package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/polywatch/engine/internal/store"
)

const (
	// GammaAPIURL is the Polymarket Gamma API base endpoint
	GammaAPIURL = "https://gamma-api.polymarket.com"
	// DefaultMarketLimit is the number of markets to fetch for subscriptions
	DefaultMarketLimit = 100
)

// gammaMarket is a market as returned by the Gamma API.
type gammaMarket struct {
	ID           string  `json:"id"`
	ConditionID  string  `json:"conditionId"`
	Question     string  `json:"question"`
	Category     string  `json:"category"`
	Slug         string  `json:"slug"`
	Active       bool    `json:"active"`
	Closed       bool    `json:"closed"`
	Volume24hr   float64 `json:"volume24hr"`
	Liquidity    string  `json:"liquidity"`
	LiquidityNum float64 `json:"liquidityNum"`
	CreatedAt    string  `json:"createdAt"`
	ClobTokenIDs string  `json:"clobTokenIds"` // JSON array as string
}

// GammaClient fetches market metadata from the Gamma API. It is the
// upstream source behind the market metadata cache.
type GammaClient struct {
	baseURL string
	client  *http.Client
}

// NewGammaClient creates a Gamma API client. An empty baseURL falls back
// to the public endpoint.
func NewGammaClient(baseURL string) *GammaClient {
	if baseURL == "" {
		baseURL = GammaAPIURL
	}
	return &GammaClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchMarket retrieves metadata for a single market.
func (g *GammaClient) FetchMarket(ctx context.Context, marketID string) (store.Market, error) {
	url := fmt.Sprintf("%s/markets/%s", g.baseURL, marketID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return store.Market{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return store.Market{}, fmt.Errorf("failed to fetch market %s: %w", marketID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.Market{}, fmt.Errorf("unexpected status code %d for market %s", resp.StatusCode, marketID)
	}

	var m gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return store.Market{}, fmt.Errorf("failed to decode market %s: %w", marketID, err)
	}

	depth := m.LiquidityNum
	if depth == 0 && m.Liquidity != "" {
		if v, err := strconv.ParseFloat(m.Liquidity, 64); err == nil {
			depth = v
		}
	}

	var createdAt time.Time
	if m.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			createdAt = t
		}
	}

	return store.Market{
		MarketID:         marketID,
		Category:         m.Category,
		DailyVolumeUSDC:  m.Volume24hr,
		VisibleDepthUSDC: depth,
		CreatedAt:        createdAt,
	}, nil
}

// FetchActiveMarkets fetches currently active markets, used at startup
// to build the WebSocket subscription set.
func (g *GammaClient) FetchActiveMarkets(ctx context.Context, limit int) ([]gammaMarket, error) {
	if limit <= 0 {
		limit = DefaultMarketLimit
	}

	url := fmt.Sprintf("%s/markets?active=true&closed=false&limit=%d", g.baseURL, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}

	return markets, nil
}

// ActiveTokenIDs fetches active markets and extracts their CLOB token
// IDs for the WebSocket subscription.
func (g *GammaClient) ActiveTokenIDs(ctx context.Context, limit int) ([]string, error) {
	markets, err := g.FetchActiveMarkets(ctx, limit)
	if err != nil {
		return nil, err
	}

	var tokenIDs []string
	seen := make(map[string]bool)

	for _, market := range markets {
		if market.ClobTokenIDs == "" {
			continue
		}

		var ids []string
		if err := json.Unmarshal([]byte(market.ClobTokenIDs), &ids); err != nil {
			slog.Debug("failed to parse token IDs", "market", market.Slug, "error", err)
			continue
		}

		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				tokenIDs = append(tokenIDs, id)
			}
		}
	}

	slog.Info("fetched_active_markets",
		"market_count", len(markets),
		"token_count", len(tokenIDs),
	)
	return tokenIDs, nil
}
