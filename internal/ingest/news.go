package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/polywatch/engine/internal/detector"
)

// NewsClient fetches recent market-moving events from a news feed API.
// It satisfies detector.NewsFeed.
type NewsClient struct {
	baseURL string
	client  *http.Client
}

func NewNewsClient(baseURL string, timeout time.Duration) *NewsClient {
	return &NewsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type newsEventWire struct {
	Timestamp string `json:"timestamp"`
	Topic     string `json:"topic"`
}

// RecentEvents returns events tagged to marketID within the lookback
// window, oldest first.
func (n *NewsClient) RecentEvents(ctx context.Context, marketID string, lookback time.Duration) ([]detector.NewsEvent, error) {
	q := url.Values{}
	q.Set("market_id", marketID)
	q.Set("lookback_hours", fmt.Sprintf("%.0f", lookback.Hours()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/events?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build news request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed returned status %d", resp.StatusCode)
	}

	var wire []newsEventWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode news events: %w", err)
	}

	events := make([]detector.NewsEvent, 0, len(wire))
	for _, w := range wire {
		ts, err := time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			continue
		}
		events = append(events, detector.NewsEvent{Timestamp: ts, Topic: w.Topic})
	}
	return events, nil
}
