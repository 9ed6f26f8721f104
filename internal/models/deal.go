package models

import (
	"time"
)

// Deal sources. Trending queries only consider SourceLive.
const (
	SourceLive        = "live"
	SourceManualFetch = "manual_fetch"
)

// Alert types. Each type is deduplicated independently per deal.
const (
	AlertPriority = "priority"
	AlertTrending = "trending"
)

// LiveDeal is the canonical deal row. The primary key is the resolved
// identifier ("node/<n>", or the raw URL when unresolved) and is immutable
// once assigned.
type LiveDeal struct {
	ResolvedID     string    `gorm:"column:resolved_id;primaryKey"`
	ResolvedURL    string    `gorm:"column:resolved_url"`
	OriginalURL    string    `gorm:"column:original_url"`
	Title          string    `gorm:"column:title"`
	Price          string    `gorm:"column:price"`
	Description    string    `gorm:"column:description"`
	CouponCode     string    `gorm:"column:coupon_code"`
	Tags           string    `gorm:"column:tags"` // JSON array, order preserved, deduped
	Upvotes        int       `gorm:"column:upvotes"`
	Downvotes      int       `gorm:"column:downvotes"`
	CommentCount   int       `gorm:"column:comment_count"`
	Timestamp      time.Time `gorm:"column:timestamp"` // last write time, not event time
	TimeStr        string    `gorm:"column:time_str"`
	User           string    `gorm:"column:user"`
	Action         string    `gorm:"column:action"`
	Type           string    `gorm:"column:type"`
	IsExpired      bool      `gorm:"column:is_expired"`
	PostedDate     string    `gorm:"column:posted_date"`
	ExternalDomain string    `gorm:"column:external_domain"`
	Source         string    `gorm:"column:source;default:live"`
}

func (LiveDeal) TableName() string { return "live_deals" }

// HeatScore is the current popularity metric: upvotes*2 + comments.
func (d *LiveDeal) HeatScore() int {
	return d.Upvotes*2 + d.CommentCount
}

// TrendingDeal is a LiveDeal annotated with the heat score computed by the
// trending query.
type TrendingDeal struct {
	LiveDeal  `gorm:"embedded"`
	HeatScore int `gorm:"column:heat_score"`
}

// DealSnapshot is an append-only popularity sample, one per upsert, holding
// the post-guard counter values. Rows outside the retention window are reaped.
type DealSnapshot struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	DealID       string    `gorm:"column:deal_id;index:idx_snapshots_deal_time"`
	Timestamp    time.Time `gorm:"column:timestamp;index:idx_snapshots_deal_time"`
	Upvotes      int       `gorm:"column:upvotes"`
	CommentCount int       `gorm:"column:comment_count"`
}

func (DealSnapshot) TableName() string { return "deal_snapshots" }

// WatchedTag is a tag the operator wants priority alerts for.
type WatchedTag struct {
	Tag string `gorm:"column:tag;primaryKey"`
}

func (WatchedTag) TableName() string { return "watched_tags" }

// AlertHistory is the permanent dedup ledger: existence of a row means an
// alert of that type was delivered for that deal and must never fire again.
type AlertHistory struct {
	DealID    string    `gorm:"column:deal_id;primaryKey"`
	AlertType string    `gorm:"column:alert_type;primaryKey"`
	Timestamp time.Time `gorm:"column:timestamp"`
}

func (AlertHistory) TableName() string { return "alert_history" }

// UserActivity archives one backfilled comment or post. ActivityRef is the
// natural dedup key, so re-running backfill is idempotent.
type UserActivity struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       string    `gorm:"column:user_id"`
	DealID       string    `gorm:"column:deal_id"`
	ActivityRef  string    `gorm:"column:activity_ref;uniqueIndex"`
	Content      string    `gorm:"column:content"`
	ActivityType string    `gorm:"column:activity_type"`
	Timestamp    time.Time `gorm:"column:timestamp"`
}

func (UserActivity) TableName() string { return "user_activity" }

// DealRecord is a scraper result plus the feed-event metadata merged in
// before upsert. It is the unit the monitor validates and hands to storage.
type DealRecord struct {
	ID              string `validate:"required"`
	URL             string `validate:"required,url"`
	Title           string
	Description     string
	Price           string
	CouponCode      string
	Tags            []string
	Upvotes         int `validate:"gte=0"`
	Downvotes       int `validate:"gte=0"`
	CommentCount    int `validate:"gte=0"`
	IsExpired       bool
	LinkedComment   string
	LinkedCommentID string
	PostedDate      string
	ExternalDomain  string

	// Feed event metadata, informational only.
	OriginalURL string
	Timestamp   time.Time
	TimeStr     string
	User        string
	Action      string
	Type        string
}

// FeedEvent is one row read from the live feed.
type FeedEvent struct {
	Title       string // title hint from the feed row, used for title recovery
	OriginalURL string
	Timestamp   time.Time
	TimeStr     string
	User        string
	Action      string
	Type        string
}

// ActivityItem is one entry from a user's activity stream.
type ActivityItem struct {
	Text string
	URL  string
}
