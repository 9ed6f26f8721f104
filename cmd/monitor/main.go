package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pauljones0/ozb-monitor/internal/alert"
	"github.com/pauljones0/ozb-monitor/internal/config"
	"github.com/pauljones0/ozb-monitor/internal/monitor"
	"github.com/pauljones0/ozb-monitor/internal/notifier"
	"github.com/pauljones0/ozb-monitor/internal/scraper"
	"github.com/pauljones0/ozb-monitor/internal/storage"
)

func main() {
	slog.Info("Starting OzBargain live monitor...")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Critical error opening store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Reap snapshots that aged out while the monitor was down.
	if removed, err := store.CleanupSnapshots(ctx, cfg.SnapshotRetention); err != nil {
		slog.Warn("Startup snapshot cleanup failed", "error", err)
	} else if removed > 0 {
		slog.Info("Reaped old snapshots on startup", "removed", removed)
	}

	selectors := scraper.LoadConfig()
	browser := scraper.NewBrowser(ctx, selectors, true)
	defer browser.Close()

	dispatcher := alert.New(store, notifier.New(cfg.TelegramBotToken, cfg.TelegramChatID), cfg.MinHeatScore)

	openFeed := func(ctx context.Context) (monitor.Feed, error) {
		return browser.OpenFeed(ctx)
	}

	m := monitor.New(cfg, store, browser, dispatcher, openFeed)
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Monitor stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Monitor stopped.")
}
