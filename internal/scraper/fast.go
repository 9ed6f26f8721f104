package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/pauljones0/ozb-monitor/internal/models"
	"github.com/pauljones0/ozb-monitor/internal/util"
)

const scrapeUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36"

// FastScraper fetches deal pages over plain HTTP. It gets the static fields
// (title, description, coupon, tags, expiry, linked comment) but no vote or
// comment counters, which are rendered client-side. Suitable for bulk
// archival where counter freshness does not matter.
type FastScraper struct {
	httpClient *http.Client
	sel        SelectorConfig
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

func NewFastScraper(sel SelectorConfig) *FastScraper {
	return &FastScraper{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		sel:        sel,
		// Two requests per second keeps bulk backfill under the radar.
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		maxRetries: 5,
		retryDelay: 2 * time.Second,
	}
}

// ScrapeDealFast fetches and parses one deal page.
func (f *FastScraper) ScrapeDealFast(ctx context.Context, rawURL string) (*models.DealRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var doc *goquery.Document
	var finalURL string

	err := util.RetryWithBackoff(ctx, f.maxRetries, f.retryDelay, func(_ int) error {
		req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", scrapeUserAgent)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s for %s", resp.Status, rawURL)
		}

		finalURL = resp.Request.URL.String()
		doc, err = goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to parse page: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deal page %s: %w", rawURL, err)
	}

	return f.parseDealPage(doc, rawURL, finalURL), nil
}

func (f *FastScraper) parseDealPage(doc *goquery.Document, rawURL, finalURL string) *models.DealRecord {
	sel := f.sel.DealPage

	title := strings.TrimSpace(doc.Find("title").Text())
	title = strings.TrimSpace(strings.TrimSuffix(title, " - OzBargain"))
	if title == "" {
		title = "Unknown Deal"
	}

	description, _ := doc.Find("meta[property='og:description']").Attr("content")

	var coupon string
	if el := doc.Find(sel.CouponCode).First(); el.Length() > 0 {
		coupon = strings.TrimSpace(el.Text())
	}

	var tags []string
	doc.Find(sel.TagLinksAll).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			tags = append(tags, t)
		}
	})

	// The deep-linked comment is identified from the resolved URL; the raw
	// URL is the fallback when the redirect lost the anchor.
	anchor := util.ExtractCommentAnchor(finalURL)
	if anchor == "" {
		anchor = util.ExtractCommentAnchor(rawURL)
	}
	var linkedComment string
	if anchor != "" {
		if content := doc.Find("div#" + anchor).Find("div.content").First(); content.Length() > 0 {
			linkedComment = strings.Join(strings.Fields(content.Text()), " ")
		}
	}

	isExpired := doc.Find(sel.ExpiredMarker).Length() > 0

	now := time.Now()
	return &models.DealRecord{
		ID:              util.ExtractDealID(finalURL),
		URL:             finalURL,
		Title:           title,
		Description:     description,
		CouponCode:      coupon,
		Tags:            tags,
		IsExpired:       isExpired,
		LinkedComment:   linkedComment,
		LinkedCommentID: anchor,
		Timestamp:       now,
		TimeStr:         now.Format("15:04"),
		User:            "Unknown",
		Action:          "scraped",
		Type:            "deal",
	}
}
