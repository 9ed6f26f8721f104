package scraper

import (
	"encoding/json"
	"fmt"
	"os"
)

type SelectorConfig struct {
	LiveFeed FeedSelectors     `json:"live_feed"`
	DealPage DealPageSelectors `json:"deal_page"`
	Activity ActivitySelectors `json:"activity"`
}

// FeedSelectors locate the cells of one /live table row.
type FeedSelectors struct {
	Body        string `json:"body"`
	Row         string `json:"row"`
	TimeCell    string `json:"time_cell"`
	UserCell    string `json:"user_cell"`
	ActionIcon  string `json:"action_icon"`
	SubjectLink string `json:"subject_link"`
	TypeCell    string `json:"type_cell"`
}

type DealPageSelectors struct {
	Title           string `json:"title"`
	TitleFallback   string `json:"title_fallback"`
	Node            string `json:"node"`
	ExpiredMarker   string `json:"expired_marker"`
	Submitted       string `json:"submitted"`
	GotoLink        string `json:"goto_link"`
	CouponCode      string `json:"coupon_code"`
	CouponStrong    string `json:"coupon_strong"`
	Content         string `json:"content"`
	ContentFallback string `json:"content_fallback"`
	TagLinks        string `json:"tag_links"`
	TagLinksAll     string `json:"tag_links_all"`
	Upvotes         string `json:"upvotes"`
	Downvotes       string `json:"downvotes"`
	Comment         string `json:"comment"`
	PagerLinks      string `json:"pager_links"`
	CommentsHeader  string `json:"comments_header"`
}

type ActivitySelectors struct {
	Container string `json:"container"`
	Item      string `json:"item"`
	Action    string `json:"action"`
	LoadMore  string `json:"load_more"`
}

// LoadSelectors loads the selector configuration from the specified JSON file.
func LoadSelectors(path string) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to read selector config file: %w", err)
	}
	return LoadSelectorsFromBytes(data)
}

// LoadSelectorsFromBytes parses selector configuration from raw JSON bytes.
// This supports loading from embedded data via go:embed.
func LoadSelectorsFromBytes(data []byte) (SelectorConfig, error) {
	var config SelectorConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}
	return config, nil
}

// DefaultSelectors returns the fallback configuration if no JSON file is
// loaded. The embedded selectors.json should be preferred.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		LiveFeed: FeedSelectors{
			Body:        "tbody#livebody",
			Row:         "tbody#livebody tr",
			TimeCell:    "td:nth-child(1)",
			UserCell:    "td:nth-child(2)",
			ActionIcon:  "td:nth-child(3) i",
			SubjectLink: "td:nth-child(4) a",
			TypeCell:    "td:nth-child(5)",
		},
		DealPage: DealPageSelectors{
			Title:           "h1#title",
			TitleFallback:   "h1",
			Node:            "div.node",
			ExpiredMarker:   ".expired, .node-expired",
			Submitted:       "div.submitted",
			GotoLink:        "a[href^='/goto/']",
			CouponCode:      "div.couponcode",
			CouponStrong:    "div.couponcode strong",
			Content:         "div.node-content",
			ContentFallback: "div.content",
			TagLinks:        "div.taxonomy a[href^='/cat/'], div.taxonomy a[href^='/tag/'], div.taxonomy a[href^='/brand/']",
			TagLinksAll:     "div.taxonomy a",
			Upvotes:         "div.n-vote span.voteup span",
			Downvotes:       "div.n-vote span.votedown span",
			Comment:         "div.comment",
			PagerLinks:      "ul.pager a",
			CommentsHeader:  "h2#comments",
		},
		Activity: ActivitySelectors{
			Container: "div.activities",
			Item:      "div.activities > div",
			Action:    ".right .action",
			LoadMore:  "ul.pager li.pager-next a",
		},
	}
}
