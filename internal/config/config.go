package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath                string
	TelegramBotToken      string
	TelegramChatID        string
	MinHeatScore          int
	TrendingCheckInterval time.Duration
	PollInterval          time.Duration
	SnapshotRetention     time.Duration
	FeedRowLimit          int
	RecoveryBackoff       time.Duration
	BackfillWorkers       int
	SelectorsConfigPath   string
}

// Load builds the configuration once at startup from the environment.
// A .env file in the working directory is honoured if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := &Config{
		DBPath:              "ozbargain.db",
		MinHeatScore:        60,
		FeedRowLimit:        20,
		BackfillWorkers:     8,
		SelectorsConfigPath: os.Getenv("SELECTORS_CONFIG_PATH"),
	}

	if v := os.Getenv("OZB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		slog.Warn("Telegram credentials not set, notifications will be logged instead of sent")
	}

	var err error
	if cfg.MinHeatScore, err = intEnv("MIN_HEAT_SCORE", cfg.MinHeatScore); err != nil {
		return nil, err
	}
	if cfg.FeedRowLimit, err = intEnv("FEED_ROW_LIMIT", cfg.FeedRowLimit); err != nil {
		return nil, err
	}
	if cfg.BackfillWorkers, err = intEnv("BACKFILL_WORKERS", cfg.BackfillWorkers); err != nil {
		return nil, err
	}

	trendingMinutes, err := intEnv("TRENDING_CHECK_INTERVAL", 30)
	if err != nil {
		return nil, err
	}
	cfg.TrendingCheckInterval = time.Duration(trendingMinutes) * time.Minute

	pollSeconds, err := intEnv("POLL_INTERVAL", 5)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	retentionHours, err := intEnv("SNAPSHOT_RETENTION_HOURS", 168)
	if err != nil {
		return nil, err
	}
	cfg.SnapshotRetention = time.Duration(retentionHours) * time.Hour

	backoffStr := os.Getenv("RECOVERY_BACKOFF")
	if backoffStr == "" {
		backoffStr = "15s"
	}
	cfg.RecoveryBackoff, err = time.ParseDuration(backoffStr)
	if err != nil {
		return nil, fmt.Errorf("invalid RECOVERY_BACKOFF %q: %w", backoffStr, err)
	}

	return cfg, nil
}

// NotifierEnabled reports whether real Telegram delivery is configured.
func (c *Config) NotifierEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}
