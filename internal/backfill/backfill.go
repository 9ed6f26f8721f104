package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pauljones0/ozb-monitor/internal/models"
)

// Store is the slice of storage the backfill pipeline needs.
type Store interface {
	UpsertDeal(ctx context.Context, rec *models.DealRecord, source string) (string, error)
	LogUserActivity(ctx context.Context, userID, dealID, activityRef, content, activityType string) error
}

// ContextScraper resolves an activity URL to its deal context.
type ContextScraper interface {
	ScrapeDealFast(ctx context.Context, url string) (*models.DealRecord, error)
}

// ActivitySource streams a user's activity feed.
type ActivitySource interface {
	StreamUserActivity(ctx context.Context, userID string, maxItems int) (<-chan models.ActivityItem, <-chan error)
}

// Runner archives a user's historical comments and posts. Discovery streams
// activity items from the profile page while a bounded worker pool scrapes
// each item's deal context and writes it idempotently.
type Runner struct {
	store   Store
	scraper ContextScraper
	source  ActivitySource
	workers int
}

func New(store Store, scraper ContextScraper, source ActivitySource, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{store: store, scraper: scraper, source: source, workers: workers}
}

// Run drains the activity stream for userID, processing up to limit items.
// It returns how many items were archived. Item failures are logged and
// skipped; only stream failure or cancellation aborts the run.
func (r *Runner) Run(ctx context.Context, userID string, limit int) (int, error) {
	if r.workers > 20 {
		slog.Warn("High worker count may trigger rate limiting", "workers", r.workers)
	}
	slog.Info("Starting activity backfill", "user", userID, "limit", limit, "workers", r.workers)

	items, errc := r.source.StreamUserActivity(ctx, userID, limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var archived atomic.Int64
	var discovered int
	for item := range items {
		discovered++
		if discovered%10 == 0 {
			slog.Info("Discovery progress", "items", discovered)
		}

		item := item // per-iteration copy; module originally targeted go >= 1.22 loop semantics
		g.Go(func() error {
			if err := r.processItem(gctx, userID, item); err != nil {
				slog.Error("Failed to archive activity item", "url", item.URL, "error", err)
				return nil
			}
			archived.Add(1)
			return nil
		})

		if gctx.Err() != nil {
			break
		}
	}

	streamErr := <-errc
	if werr := g.Wait(); werr != nil && streamErr == nil {
		streamErr = werr
	}

	slog.Info("Backfill complete", "user", userID, "discovered", discovered, "archived", archived.Load())
	if streamErr != nil {
		return int(archived.Load()), fmt.Errorf("activity stream failed: %w", streamErr)
	}
	return int(archived.Load()), nil
}

// processItem scrapes one activity item's deal page and records both the
// deal context and the activity row.
func (r *Runner) processItem(ctx context.Context, userID string, item models.ActivityItem) error {
	rec, err := r.scraper.ScrapeDealFast(ctx, item.URL)
	if err != nil {
		return err
	}

	dealID, err := r.store.UpsertDeal(ctx, rec, models.SourceManualFetch)
	if err != nil {
		return err
	}

	content := rec.LinkedComment
	activityType := "comment"
	activityRef := rec.LinkedCommentID

	if content == "" {
		if strings.Contains(strings.ToLower(item.Text), "posted") {
			activityType = "post"
			content = rec.Title
			activityRef = rec.ID
		} else {
			content = "[No Comment Content Extracted (Fast Mode)]"
			activityRef = fmt.Sprintf("unknown-%d", time.Now().UnixMilli())
		}
	}

	if activityRef == "" || content == "" {
		slog.Warn("Skipping activity item with no content", "url", item.URL)
		return nil
	}

	if err := r.store.LogUserActivity(ctx, userID, dealID, activityRef, content, activityType); err != nil {
		return err
	}
	slog.Info("Archived activity", "type", activityType, "ref", activityRef, "url", item.URL)
	return nil
}
