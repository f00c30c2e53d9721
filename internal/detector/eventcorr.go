package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polywatch/engine/internal/profiler"
)

// Correlation window: a trade is suspicious when it lands this far ahead
// of a related event.
const (
	MinEventLead = time.Hour
	MaxEventLead = 4 * time.Hour
)

// NewsEvent is one event from the news-feed collaborator. Topic overlap
// with the market's resolution criteria is decided by the collaborator.
type NewsEvent struct {
	Timestamp time.Time
	Topic     string
}

// NewsFeed is the external news-feed collaborator contract.
type NewsFeed interface {
	RecentEvents(ctx context.Context, marketID string, lookback time.Duration) ([]NewsEvent, error)
}

// EventCorrelation flags trades placed one to four hours ahead of an
// event related to the market. The signal is supplementary: when the
// collaborator is unavailable the detector fails open.
type EventCorrelation struct {
	feed NewsFeed
}

// NewEventCorrelation creates the detector. A nil feed disables it.
func NewEventCorrelation(feed NewsFeed) *EventCorrelation {
	return &EventCorrelation{feed: feed}
}

func (d *EventCorrelation) Name() string { return NameEventCorrelation }

// Detect triggers when some returned event falls 1-4h after the trade.
// Weight rises the closer the trade sits to the event; among several
// matching events the strongest wins.
func (d *EventCorrelation) Detect(ctx context.Context, tc *profiler.TradeContext) (*Signal, error) {
	if d.feed == nil {
		return nil, nil
	}

	events, err := d.feed.RecentEvents(ctx, tc.Trade.MarketID, MaxEventLead)
	if err != nil {
		// Fail open: this signal is supplementary, not load-bearing.
		slog.Debug("news_feed_unavailable", "market", tc.Trade.MarketID, "error", err)
		return nil, nil
	}

	var best *Signal
	for _, ev := range events {
		lead := ev.Timestamp.Sub(tc.Trade.Timestamp)
		if lead < MinEventLead || lead > MaxEventLead {
			continue
		}

		// 1h lead -> 1.0, 4h lead -> 0.3.
		weight := clamp01(1.0 - 0.7*float64(lead-MinEventLead)/float64(MaxEventLead-MinEventLead))
		if best != nil && weight <= best.Weight {
			continue
		}

		best = &Signal{
			Detector:  NameEventCorrelation,
			Triggered: true,
			Weight:    weight,
			Evidence: map[string]string{
				"event_topic":     ev.Topic,
				"lead_minutes":    fmt.Sprintf("%.0f", lead.Minutes()),
				"event_timestamp": ev.Timestamp.UTC().Format(time.RFC3339),
			},
		}
	}

	return best, nil
}
