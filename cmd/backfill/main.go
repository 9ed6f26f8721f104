package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pauljones0/ozb-monitor/internal/backfill"
	"github.com/pauljones0/ozb-monitor/internal/config"
	"github.com/pauljones0/ozb-monitor/internal/scraper"
	"github.com/pauljones0/ozb-monitor/internal/storage"
)

func main() {
	limit := flag.Int("limit", 50, "Max activity items to archive")
	workers := flag.Int("workers", 0, "Concurrent workers (defaults to BACKFILL_WORKERS)")
	headful := flag.Bool("headful", false, "Run the browser in visible mode for debugging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: backfill [flags] <username>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	username := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	poolSize := *workers
	if poolSize <= 0 {
		poolSize = cfg.BackfillWorkers
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Critical error opening store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	selectors := scraper.LoadConfig()
	browser := scraper.NewBrowser(ctx, selectors, !*headful)
	defer browser.Close()

	runner := backfill.New(store, scraper.NewFastScraper(selectors), browser, poolSize)
	archived, err := runner.Run(ctx, username, *limit)
	if err != nil {
		slog.Error("Backfill failed", "user", username, "archived", archived, "error", err)
		os.Exit(1)
	}
	slog.Info("All done", "user", username, "archived", archived)
}
