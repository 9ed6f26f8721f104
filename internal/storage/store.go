package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pauljones0/ozb-monitor/internal/models"
)

// Store is the SQLite-backed storage engine shared by the live monitor and
// the backfill pool. Writes to the same resolved_id are serialized so the
// integrity-guard read and the row write are atomic per key; different keys
// proceed concurrently on gorm's connection pool.
type Store struct {
	db    *gorm.DB
	locks keyedMutex
}

// Open opens (or creates) the store at path and applies schema migrations.
// Migrations are additive only: AutoMigrate adds missing tables and columns
// and never drops or renames a populated column.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&models.LiveDeal{},
		&models.DealSnapshot{},
		&models.WatchedTag{},
		&models.AlertHistory{},
		&models.UserActivity{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, locks: keyedMutex{locks: make(map[string]*sync.Mutex)}}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertDeal writes a deal record under its canonical id and appends one
// popularity snapshot with the post-guard counter values.
//
// Integrity guard: a bot-detection wall or a malformed scrape can return a
// zeroed page. If an incoming counter is exactly 0 while the stored value is
// positive, the stored value is kept. The guard applies to upvotes and
// comment_count independently; a genuinely lower nonzero value is accepted.
func (s *Store) UpsertDeal(ctx context.Context, rec *models.DealRecord, source string) (string, error) {
	resolvedID := rec.ID
	if resolvedID == "" {
		resolvedID = rec.URL
	}

	unlock := s.locks.lock(resolvedID)
	defer unlock()

	upvotes := rec.Upvotes
	commentCount := rec.CommentCount

	var existing models.LiveDeal
	err := s.db.WithContext(ctx).
		Select("upvotes", "comment_count").
		Where("resolved_id = ?", resolvedID).
		First(&existing).Error
	switch {
	case err == nil:
		if upvotes == 0 && existing.Upvotes > 0 {
			upvotes = existing.Upvotes
		}
		if commentCount == 0 && existing.CommentCount > 0 {
			commentCount = existing.CommentCount
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first sighting
	default:
		return "", fmt.Errorf("failed to read existing deal %s: %w", resolvedID, err)
	}

	now := time.Now()
	row := models.LiveDeal{
		ResolvedID:     resolvedID,
		ResolvedURL:    rec.URL,
		OriginalURL:    rec.OriginalURL,
		Title:          rec.Title,
		Price:          rec.Price,
		Description:    rec.Description,
		CouponCode:     rec.CouponCode,
		Tags:           serializeTags(rec.Tags),
		Upvotes:        upvotes,
		Downvotes:      rec.Downvotes,
		CommentCount:   commentCount,
		Timestamp:      now,
		TimeStr:        rec.TimeStr,
		User:           rec.User,
		Action:         rec.Action,
		Type:           rec.Type,
		IsExpired:      rec.IsExpired,
		PostedDate:     rec.PostedDate,
		ExternalDomain: rec.ExternalDomain,
		Source:         source,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to upsert deal %s: %w", resolvedID, err)
		}
		snapshot := models.DealSnapshot{
			DealID:       resolvedID,
			Timestamp:    now,
			Upvotes:      upvotes,
			CommentCount: commentCount,
		}
		if err := tx.Create(&snapshot).Error; err != nil {
			return fmt.Errorf("failed to append snapshot for %s: %w", resolvedID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return resolvedID, nil
}

// GetDeal fetches a deal row by canonical id. Returns nil when absent.
func (s *Store) GetDeal(ctx context.Context, resolvedID string) (*models.LiveDeal, error) {
	var deal models.LiveDeal
	err := s.db.WithContext(ctx).Where("resolved_id = ?", resolvedID).First(&deal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal %s: %w", resolvedID, err)
	}
	return &deal, nil
}

// GetTrendingDeals returns live, unexpired deals written within the window
// whose heat score meets minScore, hottest first. limit <= 0 means no limit.
//
// The score is computed from current row state, not from the snapshot
// history; snapshots are retained for velocity analysis but are write-only
// as far as trending decisions go. Known gap, kept deliberately.
func (s *Store) GetTrendingDeals(ctx context.Context, window time.Duration, minScore, limit int) ([]models.TrendingDeal, error) {
	q := s.db.WithContext(ctx).Model(&models.LiveDeal{}).
		Select("*, (upvotes * 2 + comment_count) AS heat_score").
		Where("timestamp > ?", time.Now().Add(-window)).
		Where("(upvotes * 2 + comment_count) >= ?", minScore).
		Where("(is_expired = ? OR is_expired IS NULL)", false).
		Where("source = ?", models.SourceLive).
		Order("heat_score DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var deals []models.TrendingDeal
	if err := q.Scan(&deals).Error; err != nil {
		return nil, fmt.Errorf("failed to query trending deals: %w", err)
	}
	return deals, nil
}

// ResolveNodeIDByTitle maps a deal title to its canonical node id, used to
// attach comment events to their parent deal. Exact title match first, then
// a substring match; only node ids are considered. Returns "" when no match.
func (s *Store) ResolveNodeIDByTitle(ctx context.Context, title string) (string, error) {
	if title == "" {
		return "", nil
	}

	var ids []string
	err := s.db.WithContext(ctx).Model(&models.LiveDeal{}).
		Where("title = ? AND resolved_id LIKE ?", title, "node/%").
		Limit(1).
		Pluck("resolved_id", &ids).Error
	if err != nil {
		return "", fmt.Errorf("failed to resolve node id by title: %w", err)
	}
	if len(ids) == 0 {
		err = s.db.WithContext(ctx).Model(&models.LiveDeal{}).
			Where("title LIKE ? AND resolved_id LIKE ?", "%"+title+"%", "node/%").
			Limit(1).
			Pluck("resolved_id", &ids).Error
		if err != nil {
			return "", fmt.Errorf("failed to resolve node id by title: %w", err)
		}
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// HasAlerted reports whether an alert of the given type was already
// delivered for the deal.
func (s *Store) HasAlerted(ctx context.Context, dealID, alertType string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AlertHistory{}).
		Where("deal_id = ? AND alert_type = ?", dealID, alertType).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check alert history: %w", err)
	}
	return count > 0, nil
}

// LogAlert records a delivered alert. Insert-if-absent: logging an already
// recorded pair is a no-op, never an error.
func (s *Store) LogAlert(ctx context.Context, dealID, alertType string) error {
	entry := models.AlertHistory{DealID: dealID, AlertType: alertType, Timestamp: time.Now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to log alert %s/%s: %w", dealID, alertType, err)
	}
	return nil
}

// GetWatchedTags returns the operator's watched tag set.
func (s *Store) GetWatchedTags(ctx context.Context) ([]string, error) {
	var tags []string
	if err := s.db.WithContext(ctx).Model(&models.WatchedTag{}).Pluck("tag", &tags).Error; err != nil {
		return nil, fmt.Errorf("failed to get watched tags: %w", err)
	}
	return tags, nil
}

func (s *Store) AddWatchedTag(ctx context.Context, tag string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.WatchedTag{Tag: tag}).Error
	if err != nil {
		return fmt.Errorf("failed to add watched tag %s: %w", tag, err)
	}
	return nil
}

func (s *Store) RemoveWatchedTag(ctx context.Context, tag string) error {
	err := s.db.WithContext(ctx).Where("tag = ?", tag).Delete(&models.WatchedTag{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove watched tag %s: %w", tag, err)
	}
	return nil
}

// LogUserActivity archives one backfilled activity item. activityRef is the
// conflict key, so repeated backfill runs replace rather than duplicate.
func (s *Store) LogUserActivity(ctx context.Context, userID, dealID, activityRef, content, activityType string) error {
	entry := models.UserActivity{
		UserID:       userID,
		DealID:       dealID,
		ActivityRef:  activityRef,
		Content:      content,
		ActivityType: activityType,
		Timestamp:    time.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "activity_ref"}},
			UpdateAll: true,
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to log user activity %s: %w", activityRef, err)
	}
	return nil
}

// CleanupSnapshots deletes snapshots older than the retention window and
// returns the number of rows removed.
func (s *Store) CleanupSnapshots(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := s.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.DealSnapshot{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// serializeTags produces the stored JSON form of a tag set: duplicates
// removed, original order preserved.
func serializeTags(tags []string) string {
	seen := make(map[string]struct{}, len(tags))
	deduped := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		deduped = append(deduped, t)
	}
	data, err := json.Marshal(deduped)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DeserializeTags decodes a stored tag set. Malformed data yields nil.
func DeserializeTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}

// keyedMutex hands out one mutex per resolved_id. Entries are never evicted;
// the map is bounded by the number of distinct deals seen in a process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
