package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pauljones0/ozb-monitor/internal/config"
	"github.com/pauljones0/ozb-monitor/internal/models"
	"github.com/pauljones0/ozb-monitor/internal/scraper"
	"github.com/pauljones0/ozb-monitor/internal/util"
	"github.com/pauljones0/ozb-monitor/internal/validator"
)

// Store is the slice of storage the monitor needs.
type Store interface {
	UpsertDeal(ctx context.Context, rec *models.DealRecord, source string) (string, error)
	ResolveNodeIDByTitle(ctx context.Context, title string) (string, error)
	CleanupSnapshots(ctx context.Context, retention time.Duration) (int64, error)
}

// DealScraper resolves one deal URL into a full record.
type DealScraper interface {
	ScrapeDeal(ctx context.Context, url string) (*models.DealRecord, error)
}

// Alerter evaluates alert conditions after each upsert and on the trending
// schedule.
type Alerter interface {
	CheckPriority(ctx context.Context, dealID string, rec *models.DealRecord) error
	CheckTrending(ctx context.Context) error
}

// Feed is one live feed browser session.
type Feed interface {
	ReadRows(ctx context.Context, limit int) ([]scraper.FeedRow, error)
	Close()
}

// FeedOpener builds a fresh feed session. The supervisor calls it again
// after every session loss.
type FeedOpener func(ctx context.Context) (Feed, error)

// Scrapes that bounce off the bot wall come back with one of these instead
// of a real title; the feed row title is trusted over them.
var placeholderTitles = map[string]struct{}{
	"OzBargain":                        {},
	"www.ozbargain.com.au":             {},
	"Performing security verification": {},
}

// Monitor drives the live ingestion loop: poll the feed, resolve events to
// canonical deals, upsert, and evaluate alerts. It survives browser session
// loss by rebuilding the session after a backoff.
type Monitor struct {
	cfg      *config.Config
	store    Store
	scraper  DealScraper
	alerts   Alerter
	openFeed FeedOpener
	validate *validator.Validator

	seen              map[string]struct{}
	lastTrendingCheck time.Time
}

func New(cfg *config.Config, store Store, dealScraper DealScraper, alerts Alerter, openFeed FeedOpener) *Monitor {
	return &Monitor{
		cfg:      cfg,
		store:    store,
		scraper:  dealScraper,
		alerts:   alerts,
		openFeed: openFeed,
		validate: validator.New(),
	}
}

// Run blocks until the context is cancelled, supervising feed sessions.
// Any session failure is logged and followed by a rebuild after the
// recovery backoff; only cancellation ends the loop.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("Starting live monitor",
		"pollInterval", m.cfg.PollInterval,
		"trendingInterval", m.cfg.TrendingCheckInterval,
		"minHeatScore", m.cfg.MinHeatScore)

	// First trending sweep runs on the first poll cycle.
	m.lastTrendingCheck = time.Now().Add(-m.cfg.TrendingCheckInterval)

	for {
		err := m.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Error("Feed session failed, restarting",
			"error", err, "backoff", m.cfg.RecoveryBackoff)
		select {
		case <-time.After(m.cfg.RecoveryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runSession owns one feed session from open to loss. The seen-row cache is
// scoped to the session: after a rebuild every visible row is reprocessed,
// trading duplicate upserts (which are idempotent) for zero missed events.
func (m *Monitor) runSession(ctx context.Context) error {
	m.seen = make(map[string]struct{})

	feed, err := m.openFeed(ctx)
	if err != nil {
		return fmt.Errorf("failed to open feed session: %w", err)
	}
	defer feed.Close()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.maybeCheckTrending(ctx)

		rows, err := feed.ReadRows(ctx, m.cfg.FeedRowLimit)
		if err != nil {
			if errors.Is(err, scraper.ErrSessionLost) {
				return err
			}
			return fmt.Errorf("failed to read feed rows: %w", err)
		}

		for _, row := range rows {
			m.handleRow(ctx, row)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Monitor) maybeCheckTrending(ctx context.Context) {
	if time.Since(m.lastTrendingCheck) < m.cfg.TrendingCheckInterval {
		return
	}
	m.lastTrendingCheck = time.Now()

	slog.Info("Checking for trending deals")
	if err := m.alerts.CheckTrending(ctx); err != nil {
		slog.Error("Trending check failed", "error", err)
	}

	removed, err := m.store.CleanupSnapshots(ctx, m.cfg.SnapshotRetention)
	if err != nil {
		slog.Error("Snapshot cleanup failed", "error", err)
	} else if removed > 0 {
		slog.Info("Reaped old snapshots", "removed", removed)
	}
}

// handleRow filters and normalizes one feed row, then processes it. Rows
// are marked seen before processing so a failing deal is not retried every
// poll cycle for the rest of the session.
func (m *Monitor) handleRow(ctx context.Context, row scraper.FeedRow) {
	if row.Type != "Deal" || row.URL == "" {
		return
	}

	url := util.AbsoluteURL(row.URL)
	if _, ok := m.seen[url]; ok {
		return
	}
	m.seen[url] = struct{}{}

	event := models.FeedEvent{
		Title:       row.Title,
		OriginalURL: url,
		Timestamp:   util.ParseRelativeTime(row.TimeStr, time.Now()),
		TimeStr:     row.TimeStr,
		User:        row.User,
		Action:      row.Action,
		Type:        row.Type,
	}

	// Deal redirects are stripped so we land on the node page; comment
	// redirects are kept because they resolve to the parent node.
	target := util.StripRedirect(url)

	if err := m.processDeal(ctx, target, event); err != nil {
		slog.Error("Failed to process deal", "url", target, "error", err)
	}
}

// processDeal runs the full event pipeline: scrape, title recovery, comment
// to parent-node resolution, validation, upsert, priority alerts.
func (m *Monitor) processDeal(ctx context.Context, url string, event models.FeedEvent) error {
	rec, err := m.scraper.ScrapeDeal(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to scrape %s: %w", url, err)
	}

	rec.OriginalURL = event.OriginalURL
	rec.Timestamp = event.Timestamp
	rec.TimeStr = event.TimeStr
	rec.User = event.User
	rec.Action = event.Action
	rec.Type = event.Type

	if event.Title != "" {
		_, placeholder := placeholderTitles[rec.Title]
		if rec.Title == "" || placeholder {
			rec.Title = event.Title
		}
	}

	if util.IsCommentID(rec.ID) {
		parent, err := m.store.ResolveNodeIDByTitle(ctx, rec.Title)
		if err != nil {
			slog.Warn("Failed to resolve comment parent", "id", rec.ID, "error", err)
		} else if parent != "" {
			slog.Info("Resolved comment to parent node", "comment", rec.ID, "parent", parent)
			rec.ID = parent
		}
	}

	if err := m.validate.ValidateStruct(rec); err != nil {
		return fmt.Errorf("rejecting malformed record for %s: %w", url, err)
	}

	dealID, err := m.store.UpsertDeal(ctx, rec, models.SourceLive)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.ID, err)
	}

	if err := m.alerts.CheckPriority(ctx, dealID, rec); err != nil {
		slog.Error("Priority alert check failed", "deal", dealID, "error", err)
	}

	slog.Info("Upserted deal", "deal", dealID, "title", truncate(rec.Title, 50))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
