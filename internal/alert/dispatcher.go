package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pauljones0/ozb-monitor/internal/models"
	"github.com/pauljones0/ozb-monitor/internal/util"
)

// trendingWindow is how far back a deal's last sighting may be for it to
// still count as trending.
const trendingWindow = 24 * time.Hour

// Store is the slice of storage the dispatcher needs.
type Store interface {
	GetWatchedTags(ctx context.Context) ([]string, error)
	HasAlerted(ctx context.Context, dealID, alertType string) (bool, error)
	LogAlert(ctx context.Context, dealID, alertType string) error
	GetTrendingDeals(ctx context.Context, window time.Duration, minScore, limit int) ([]models.TrendingDeal, error)
}

// Notifier delivers one alert message.
type Notifier interface {
	Send(ctx context.Context, text string, priority bool) error
}

// Dispatcher decides which alerts fire and guarantees each (deal, type)
// pair alerts at most once. An alert is only recorded as sent after the
// notifier confirms delivery; a failed send leaves the pair eligible for
// the next evaluation.
type Dispatcher struct {
	store        Store
	notifier     Notifier
	minHeatScore int
}

func New(store Store, notifier Notifier, minHeatScore int) *Dispatcher {
	return &Dispatcher{store: store, notifier: notifier, minHeatScore: minHeatScore}
}

// CheckPriority fires an audible alert when a freshly processed deal carries
// a watched tag. Expired deals never alert.
func (d *Dispatcher) CheckPriority(ctx context.Context, dealID string, rec *models.DealRecord) error {
	if rec.IsExpired {
		slog.Debug("Skipping alerts for expired deal", "deal", dealID)
		return nil
	}

	watched, err := d.store.GetWatchedTags(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watched tags: %w", err)
	}

	dealTags := make(map[string]struct{}, len(rec.Tags))
	for _, t := range rec.Tags {
		dealTags[t] = struct{}{}
	}
	var matches []string
	for _, tag := range watched {
		if _, ok := dealTags[tag]; ok {
			matches = append(matches, tag)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	alerted, err := d.store.HasAlerted(ctx, dealID, models.AlertPriority)
	if err != nil {
		return fmt.Errorf("failed to check alert history: %w", err)
	}
	if alerted {
		slog.Debug("Skipping already-sent priority alert", "deal", dealID, "tags", matches)
		return nil
	}

	price := rec.Price
	if price == "" {
		price = "N/A"
	}
	text := fmt.Sprintf("<b>🚨 ALERT: Watched Tag Found!</b>\n\n"+
		"<b>Matching:</b> %s\n"+
		"<b>Deal:</b> <a href='%s'>%s</a>\n"+
		"<b>Price:</b> %s",
		strings.Join(matches, ", "), util.DealLink(dealID), rec.Title, price)

	if err := d.notifier.Send(ctx, text, true); err != nil {
		return fmt.Errorf("failed to send priority alert for %s: %w", dealID, err)
	}
	if err := d.store.LogAlert(ctx, dealID, models.AlertPriority); err != nil {
		return fmt.Errorf("failed to record priority alert for %s: %w", dealID, err)
	}
	slog.Info("Sent priority alert", "deal", dealID, "tags", matches)
	return nil
}

// CheckTrending sweeps the store for deals that crossed the heat threshold
// in the last day and alerts silently on each, once ever per deal. Delivery
// failures are logged and retried naturally on the next sweep.
func (d *Dispatcher) CheckTrending(ctx context.Context) error {
	candidates, err := d.store.GetTrendingDeals(ctx, trendingWindow, d.minHeatScore, 0)
	if err != nil {
		return fmt.Errorf("failed to query trending deals: %w", err)
	}

	for _, deal := range candidates {
		alerted, err := d.store.HasAlerted(ctx, deal.ResolvedID, models.AlertTrending)
		if err != nil {
			slog.Error("Failed to check trending alert history", "deal", deal.ResolvedID, "error", err)
			continue
		}
		if alerted {
			continue
		}

		text := fmt.Sprintf("<b>🔥 POPULAR DEAL!</b> (Score: %d)\n\n"+
			"<a href='%s'>%s</a>\n"+
			"<b>Price:</b> %s\n"+
			"<b>Votes:</b> %d | <b>Comments:</b> %d",
			deal.HeatScore, util.DealLink(deal.ResolvedID), deal.Title,
			deal.Price, deal.Upvotes, deal.CommentCount)

		if err := d.notifier.Send(ctx, text, false); err != nil {
			slog.Error("Failed to send trending alert", "deal", deal.ResolvedID, "error", err)
			continue
		}
		if err := d.store.LogAlert(ctx, deal.ResolvedID, models.AlertTrending); err != nil {
			slog.Error("Failed to record trending alert", "deal", deal.ResolvedID, "error", err)
			continue
		}
		slog.Info("Sent trending alert", "deal", deal.ResolvedID, "score", deal.HeatScore)
	}
	return nil
}
