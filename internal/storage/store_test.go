package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pauljones0/ozb-monitor/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string) *models.DealRecord {
	return &models.DealRecord{
		ID:           id,
		URL:          "https://www.ozbargain.com.au/" + id,
		Title:        "Test Deal",
		Upvotes:      10,
		CommentCount: 5,
	}
}

func TestUpsertDeal_InsertAndUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("node/100")
	id, err := s.UpsertDeal(ctx, rec, models.SourceLive)
	if err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}
	if id != "node/100" {
		t.Errorf("Expected resolved id node/100, got %s", id)
	}

	rec.Upvotes = 20
	rec.Title = "Updated Title"
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() update error = %v", err)
	}

	var count int64
	s.db.Model(&models.LiveDeal{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 deal row after two upserts, got %d", count)
	}

	deal, err := s.GetDeal(ctx, "node/100")
	if err != nil {
		t.Fatalf("GetDeal() error = %v", err)
	}
	if deal.Upvotes != 20 || deal.Title != "Updated Title" {
		t.Errorf("Update not applied: upvotes=%d title=%q", deal.Upvotes, deal.Title)
	}

	var snaps int64
	s.db.Model(&models.DealSnapshot{}).Where("deal_id = ?", "node/100").Count(&snaps)
	if snaps != 2 {
		t.Errorf("Expected 2 snapshots after two upserts, got %d", snaps)
	}
}

func TestUpsertDeal_FallsBackToURLKey(t *testing.T) {
	s := testStore(t)

	rec := testRecord("")
	rec.URL = "https://example.com/deal"
	id, err := s.UpsertDeal(context.Background(), rec, models.SourceLive)
	if err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}
	if id != "https://example.com/deal" {
		t.Errorf("Expected URL fallback key, got %s", id)
	}
}

func TestUpsertDeal_IntegrityGuard(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("node/200")
	rec.Upvotes = 50
	rec.CommentCount = 30
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}

	// Zeroed counters look like a scrape failure and must not clobber.
	rec.Upvotes = 0
	rec.CommentCount = 0
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}

	deal, _ := s.GetDeal(ctx, "node/200")
	if deal.Upvotes != 50 || deal.CommentCount != 30 {
		t.Errorf("Guard failed: upvotes=%d comments=%d, want 50/30", deal.Upvotes, deal.CommentCount)
	}

	// A genuinely lower nonzero value is a real moderation event.
	rec.Upvotes = 45
	rec.CommentCount = 28
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}
	deal, _ = s.GetDeal(ctx, "node/200")
	if deal.Upvotes != 45 || deal.CommentCount != 28 {
		t.Errorf("Lower nonzero rejected: upvotes=%d comments=%d, want 45/28", deal.Upvotes, deal.CommentCount)
	}
}

func TestUpsertDeal_GuardIsPerCounter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("node/201")
	rec.Upvotes = 50
	rec.CommentCount = 30
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}

	rec.Upvotes = 0
	rec.CommentCount = 31
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}

	deal, _ := s.GetDeal(ctx, "node/201")
	if deal.Upvotes != 50 {
		t.Errorf("Upvotes guard failed: got %d, want 50", deal.Upvotes)
	}
	if deal.CommentCount != 31 {
		t.Errorf("CommentCount should update: got %d, want 31", deal.CommentCount)
	}
}

func TestUpsertDeal_SnapshotHoldsPostGuardValues(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("node/202")
	rec.Upvotes = 40
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}
	rec.Upvotes = 0
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}

	var snaps []models.DealSnapshot
	s.db.Where("deal_id = ?", "node/202").Order("id ASC").Find(&snaps)
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[1].Upvotes != 40 {
		t.Errorf("Snapshot should hold guarded value 40, got %d", snaps[1].Upvotes)
	}
}

func TestUpsertDeal_TagsDeduplicated(t *testing.T) {
	s := testStore(t)

	rec := testRecord("node/203")
	rec.Tags = []string{"gaming", "tech", "gaming"}
	if _, err := s.UpsertDeal(context.Background(), rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}

	deal, _ := s.GetDeal(context.Background(), "node/203")
	tags := DeserializeTags(deal.Tags)
	if len(tags) != 2 || tags[0] != "gaming" || tags[1] != "tech" {
		t.Errorf("Expected deduped ordered tags [gaming tech], got %v", tags)
	}
}

func TestGetTrendingDeals(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// A: upvotes 10, comments 5 -> heat 25, qualifies at threshold 25.
	a := testRecord("node/301")
	a.Upvotes, a.CommentCount = 10, 5
	// B: heat 24, below threshold.
	b := testRecord("node/302")
	b.Upvotes, b.CommentCount = 10, 4
	// C: hot but expired.
	c := testRecord("node/303")
	c.Upvotes, c.CommentCount = 100, 50
	c.IsExpired = true
	// D: hot but archived by backfill, not a live sighting.
	d := testRecord("node/304")
	d.Upvotes, d.CommentCount = 100, 50

	for _, rec := range []*models.DealRecord{a, b, c} {
		if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
			t.Fatalf("UpsertDeal() error = %v", err)
		}
	}
	if _, err := s.UpsertDeal(ctx, d, models.SourceManualFetch); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}

	deals, err := s.GetTrendingDeals(ctx, 24*time.Hour, 25, 10)
	if err != nil {
		t.Fatalf("GetTrendingDeals() error = %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("Expected exactly 1 trending deal, got %d", len(deals))
	}
	if deals[0].ResolvedID != "node/301" {
		t.Errorf("Expected node/301, got %s", deals[0].ResolvedID)
	}
	if deals[0].HeatScore != 25 {
		t.Errorf("Expected heat score 25, got %d", deals[0].HeatScore)
	}
}

func TestGetTrendingDeals_OrderAndLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, up := range []int{30, 50, 40} {
		rec := testRecord(fmt.Sprintf("node/40%d", i))
		rec.Upvotes = up
		rec.CommentCount = 0
		if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
			t.Fatalf("UpsertDeal() error = %v", err)
		}
	}

	deals, err := s.GetTrendingDeals(ctx, 24*time.Hour, 1, 2)
	if err != nil {
		t.Fatalf("GetTrendingDeals() error = %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("Expected 2 deals with limit 2, got %d", len(deals))
	}
	if deals[0].HeatScore < deals[1].HeatScore {
		t.Errorf("Deals not ordered hottest first: %d then %d", deals[0].HeatScore, deals[1].HeatScore)
	}

	all, err := s.GetTrendingDeals(ctx, 24*time.Hour, 1, 0)
	if err != nil {
		t.Fatalf("GetTrendingDeals() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected all 3 deals with limit 0, got %d", len(all))
	}
}

func TestResolveNodeIDByTitle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := testRecord("node/500")
	rec.Title = "Half Price Widgets at BigStore"
	if _, err := s.UpsertDeal(ctx, rec, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}
	// Non-node rows must never resolve.
	raw := testRecord("")
	raw.URL = "https://example.com/other"
	raw.Title = "Half Price Widgets at BigStore"
	if _, err := s.UpsertDeal(ctx, raw, models.SourceLive); err != nil {
		t.Fatalf("UpsertDeal() error = %v", err)
	}

	id, err := s.ResolveNodeIDByTitle(ctx, "Half Price Widgets at BigStore")
	if err != nil {
		t.Fatalf("ResolveNodeIDByTitle() error = %v", err)
	}
	if id != "node/500" {
		t.Errorf("Exact match: got %q, want node/500", id)
	}

	id, err = s.ResolveNodeIDByTitle(ctx, "Price Widgets")
	if err != nil {
		t.Fatalf("ResolveNodeIDByTitle() error = %v", err)
	}
	if id != "node/500" {
		t.Errorf("Substring match: got %q, want node/500", id)
	}

	id, err = s.ResolveNodeIDByTitle(ctx, "")
	if err != nil || id != "" {
		t.Errorf("Empty title should resolve to nothing, got %q, %v", id, err)
	}

	id, err = s.ResolveNodeIDByTitle(ctx, "No Such Deal")
	if err != nil || id != "" {
		t.Errorf("Unknown title should resolve to nothing, got %q, %v", id, err)
	}
}

func TestAlertHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	alerted, err := s.HasAlerted(ctx, "node/600", models.AlertPriority)
	if err != nil {
		t.Fatalf("HasAlerted() error = %v", err)
	}
	if alerted {
		t.Error("HasAlerted() should be false before logging")
	}

	if err := s.LogAlert(ctx, "node/600", models.AlertPriority); err != nil {
		t.Fatalf("LogAlert() error = %v", err)
	}
	// Logging again must be a silent no-op.
	if err := s.LogAlert(ctx, "node/600", models.AlertPriority); err != nil {
		t.Fatalf("LogAlert() repeat error = %v", err)
	}

	alerted, err = s.HasAlerted(ctx, "node/600", models.AlertPriority)
	if err != nil {
		t.Fatalf("HasAlerted() error = %v", err)
	}
	if !alerted {
		t.Error("HasAlerted() should be true after logging")
	}

	// Types are independent per deal.
	alerted, err = s.HasAlerted(ctx, "node/600", models.AlertTrending)
	if err != nil {
		t.Fatalf("HasAlerted() error = %v", err)
	}
	if alerted {
		t.Error("Trending alert should not be marked by a priority alert")
	}
}

func TestWatchedTags(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.AddWatchedTag(ctx, "gaming"); err != nil {
		t.Fatalf("AddWatchedTag() error = %v", err)
	}
	if err := s.AddWatchedTag(ctx, "gaming"); err != nil {
		t.Fatalf("AddWatchedTag() repeat error = %v", err)
	}
	if err := s.AddWatchedTag(ctx, "tech"); err != nil {
		t.Fatalf("AddWatchedTag() error = %v", err)
	}

	tags, err := s.GetWatchedTags(ctx)
	if err != nil {
		t.Fatalf("GetWatchedTags() error = %v", err)
	}
	if len(tags) != 2 {
		t.Errorf("Expected 2 watched tags, got %v", tags)
	}

	if err := s.RemoveWatchedTag(ctx, "gaming"); err != nil {
		t.Fatalf("RemoveWatchedTag() error = %v", err)
	}
	tags, _ = s.GetWatchedTags(ctx)
	if len(tags) != 1 || tags[0] != "tech" {
		t.Errorf("Expected [tech] after removal, got %v", tags)
	}
}

func TestLogUserActivity_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.LogUserActivity(ctx, "someuser", "node/700", "comment-123", "nice deal", "comment")
		if err != nil {
			t.Fatalf("LogUserActivity() error = %v", err)
		}
	}

	var count int64
	s.db.Model(&models.UserActivity{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 activity row after 3 identical logs, got %d", count)
	}
}

func TestCleanupSnapshots(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := models.DealSnapshot{DealID: "node/800", Timestamp: time.Now().Add(-200 * time.Hour), Upvotes: 1}
	fresh := models.DealSnapshot{DealID: "node/800", Timestamp: time.Now(), Upvotes: 2}
	if err := s.db.Create(&old).Error; err != nil {
		t.Fatalf("seed error = %v", err)
	}
	if err := s.db.Create(&fresh).Error; err != nil {
		t.Fatalf("seed error = %v", err)
	}

	removed, err := s.CleanupSnapshots(ctx, 168*time.Hour)
	if err != nil {
		t.Fatalf("CleanupSnapshots() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed snapshot, got %d", removed)
	}

	var count int64
	s.db.Model(&models.DealSnapshot{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 surviving snapshot, got %d", count)
	}
}

func TestGetDeal_Missing(t *testing.T) {
	s := testStore(t)
	deal, err := s.GetDeal(context.Background(), "node/999999")
	if err != nil {
		t.Fatalf("GetDeal() error = %v", err)
	}
	if deal != nil {
		t.Errorf("Expected nil for missing deal, got %+v", deal)
	}
}
