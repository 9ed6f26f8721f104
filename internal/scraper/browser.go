package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/pauljones0/ozb-monitor/internal/models"
	"github.com/pauljones0/ozb-monitor/internal/util"
)

// ErrSessionLost signals that the live feed browser session died and the
// caller should rebuild it from scratch.
var ErrSessionLost = errors.New("feed session lost")

var postedDatePattern = regexp.MustCompile(`on (\d{2}/\d{2}/\d{4} - \d{2}:\d{2})`)
var headerCountPattern = regexp.MustCompile(`\((\d+)\)`)

// Browser owns one headless Chrome instance shared by deal scrapes, the live
// feed session and activity streaming. Each operation runs in its own tab.
type Browser struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	sel      SelectorConfig
}

func NewBrowser(ctx context.Context, sel SelectorConfig, headless bool) *Browser {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.UserAgent(scrapeUserAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Browser{allocCtx: allocCtx, cancel: cancel, sel: sel}
}

func (b *Browser) Close() {
	b.cancel()
}

// newTab opens a fresh tab whose lifetime is bound to the caller's context.
func (b *Browser) newTab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancel := chromedp.NewContext(b.allocCtx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tabCtx.Done():
		}
	}()
	return tabCtx, cancel
}

// dealPageData is the raw extraction result from the in-page script.
type dealPageData struct {
	Title          string   `json:"title"`
	IsExpired      bool     `json:"isExpired"`
	SubmittedText  string   `json:"submittedText"`
	ExternalDomain string   `json:"externalDomain"`
	CouponCodes    []string `json:"couponCodes"`
	CouponText     string   `json:"couponText"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	Upvotes        string   `json:"upvotes"`
	Downvotes      string   `json:"downvotes"`
	LinkedComment  string   `json:"linkedComment"`
	DOMComments    int      `json:"domComments"`
	MaxPage        int      `json:"maxPage"`
	LastPageHref   string   `json:"lastPageHref"`
	HeaderText     string   `json:"headerText"`
}

// ScrapeDeal loads a deal page in the browser and extracts the full record,
// including the vote counters and an exact comment count.
func (b *Browser) ScrapeDeal(ctx context.Context, rawURL string) (*models.DealRecord, error) {
	tabCtx, cancel := b.newTab(ctx)
	defer cancel()

	runCtx, cancelTimeout := context.WithTimeout(tabCtx, 90*time.Second)
	defer cancelTimeout()

	var finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load deal page %s: %w", rawURL, err)
	}

	anchor := util.ExtractCommentAnchor(finalURL)
	if anchor == "" {
		anchor = util.ExtractCommentAnchor(rawURL)
	}

	var data dealPageData
	if err := chromedp.Run(runCtx, chromedp.Evaluate(b.extractScript(anchor), &data)); err != nil {
		return nil, fmt.Errorf("failed to extract deal data from %s: %w", finalURL, err)
	}

	commentCount := b.resolveCommentCount(runCtx, finalURL, &data)

	coupon := data.CouponText
	if len(data.CouponCodes) > 0 {
		coupon = strings.Join(data.CouponCodes, ", ")
	}

	description := data.Description
	if coupon != "" {
		if strings.HasPrefix(description, coupon) {
			description = strings.TrimSpace(strings.TrimPrefix(description, coupon))
		} else {
			description = strings.TrimSpace(strings.ReplaceAll(description, coupon, ""))
		}
	}

	var postedDate string
	if m := postedDatePattern.FindStringSubmatch(data.SubmittedText); m != nil {
		postedDate = m[1]
	}

	rec := &models.DealRecord{
		ID:              util.ExtractDealID(finalURL),
		URL:             finalURL,
		Title:           data.Title,
		Description:     description,
		Price:           util.ExtractPrice(data.Title),
		CouponCode:      coupon,
		Tags:            data.Tags,
		Upvotes:         util.SafeAtoi(data.Upvotes),
		Downvotes:       util.SafeAtoi(data.Downvotes),
		CommentCount:    commentCount,
		IsExpired:       data.IsExpired,
		LinkedComment:   strings.TrimSpace(data.LinkedComment),
		LinkedCommentID: anchor,
		PostedDate:      postedDate,
		ExternalDomain:  data.ExternalDomain,
		Timestamp:       time.Now(),
	}
	return rec, nil
}

// resolveCommentCount turns the in-page pager observations into a total.
// Multi-page threads hold 100 comments per full page, so the count is
// maxPage*100 plus whatever the last page shows. Falls back to the DOM
// count, then to the "Comments (N)" header.
func (b *Browser) resolveCommentCount(ctx context.Context, pageURL string, data *dealPageData) int {
	if data.MaxPage >= 0 && data.LastPageHref != "" {
		base := data.MaxPage * 100
		target := data.LastPageHref
		switch {
		case strings.HasPrefix(target, "?"):
			target = strings.SplitN(pageURL, "?", 2)[0] + target
		case strings.HasPrefix(target, "/"):
			target = util.BaseURL + target
		}

		var remainder int
		err := chromedp.Run(ctx,
			chromedp.Navigate(target),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Evaluate(fmt.Sprintf("document.querySelectorAll(%q).length", b.sel.DealPage.Comment), &remainder),
		)
		if err != nil {
			slog.Warn("Failed to count comments on last page, using page estimate", "url", target, "error", err)
			return base
		}
		return base + remainder
	}

	if data.DOMComments > 0 {
		return data.DOMComments
	}

	if m := headerCountPattern.FindStringSubmatch(data.HeaderText); m != nil {
		return util.SafeAtoi(m[1])
	}
	return 0
}

func (b *Browser) extractScript(commentAnchor string) string {
	sel := b.sel.DealPage
	return fmt.Sprintf(`(() => {
	const text = (el) => el ? el.textContent.trim() : "";
	const data = {
		title: "", isExpired: false, submittedText: "", externalDomain: "",
		couponCodes: [], couponText: "", description: "", tags: [],
		upvotes: "", downvotes: "", linkedComment: "", domComments: 0,
		maxPage: -1, lastPageHref: "", headerText: ""
	};

	const titleEl = document.querySelector(%q) || document.querySelector(%q);
	data.title = text(titleEl);

	const node = document.querySelector(%q);
	if (node) {
		data.isExpired = Array.from(node.querySelectorAll('span'))
			.some(s => s.textContent.trim().toLowerCase().includes('expired'));
	}
	if (!data.isExpired) {
		data.isExpired = document.querySelector(%q) !== null;
	}

	const submitted = document.querySelector(%q);
	if (submitted) {
		data.submittedText = text(submitted);
		data.externalDomain = text(submitted.querySelector(%q));
	}

	const couponEl = document.querySelector(%q);
	if (couponEl) {
		data.couponText = text(couponEl);
		data.couponCodes = Array.from(document.querySelectorAll(%q)).map(el => el.textContent.trim());
	}

	const content = document.querySelector(%q) || document.querySelector(%q);
	data.description = text(content);

	const seen = new Set();
	for (const link of document.querySelectorAll(%q)) {
		const t = link.textContent.trim();
		if (t && !seen.has(t)) { seen.add(t); data.tags.push(t); }
	}

	data.upvotes = text(document.querySelector(%q));
	data.downvotes = text(document.querySelector(%q));

	const anchor = %q;
	if (anchor) {
		const commentEl = document.querySelector('#' + anchor + ' .content');
		data.linkedComment = text(commentEl);
	}

	data.domComments = document.querySelectorAll(%q).length;

	for (const link of document.querySelectorAll(%q)) {
		const href = link.getAttribute('href') || "";
		const m = href.match(/page=(\d+)/);
		if (m) {
			const idx = parseInt(m[1], 10);
			if (idx > data.maxPage) { data.maxPage = idx; data.lastPageHref = href; }
		}
	}

	const header = document.querySelector(%q) ||
		Array.from(document.querySelectorAll('h2')).find(h => h.textContent.includes('Comments'));
	data.headerText = text(header);

	return data;
})()`,
		sel.Title, sel.TitleFallback,
		sel.Node,
		sel.ExpiredMarker,
		sel.Submitted, sel.GotoLink,
		sel.CouponCode, sel.CouponStrong,
		sel.Content, sel.ContentFallback,
		sel.TagLinks,
		sel.Upvotes, sel.Downvotes,
		commentAnchor,
		sel.Comment,
		sel.PagerLinks,
		sel.CommentsHeader,
	)
}

// FeedRow is one raw entry from the live feed table.
type FeedRow struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	TimeStr string `json:"timeStr"`
	User    string `json:"user"`
	Action  string `json:"action"`
	Type    string `json:"type"`
}

// FeedSession is a long-lived tab on the live feed page with the event
// filters configured: wiki and forum noise off, deals on.
type FeedSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	sel    FeedSelectors
}

const feedFilterScriptBody = `
	function setFilterByText(text, desiredState) {
		const labels = Array.from(document.querySelectorAll('label'));
		const label = labels.find(l => l.innerText.trim() === text);
		if (label) {
			const input = label.querySelector('input');
			if (input && input.checked !== desiredState) {
				input.click();
			}
		}
	}`

// OpenFeed navigates a tab to the live feed and applies the filters. The
// type filter panel only renders after the first filter interaction, hence
// the two-step script with a settle pause in between.
func (b *Browser) OpenFeed(ctx context.Context) (*FeedSession, error) {
	tabCtx, cancel := b.newTab(ctx)

	wikiScript := fmt.Sprintf(`(() => {%s
	setFilterByText('Wiki', false);
	const typeHeader = Array.from(document.querySelectorAll('#filters a'))
		.find(a => a.innerText.includes('Type'));
	if (typeHeader) typeHeader.click();
})()`, feedFilterScriptBody)

	typeScript := fmt.Sprintf(`(() => {%s
	setFilterByText('Comp', false);
	setFilterByText('Forum', false);
	setFilterByText('Deal', true);
})()`, feedFilterScriptBody)

	err := chromedp.Run(tabCtx,
		chromedp.Navigate(util.BaseURL+"/live"),
		chromedp.WaitVisible(b.sel.LiveFeed.Body, chromedp.ByQuery),
		chromedp.Evaluate(wikiScript, nil),
		chromedp.Sleep(time.Second),
		chromedp.Evaluate(typeScript, nil),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open live feed: %w", err)
	}

	slog.Info("Live feed session established, filters configured")
	return &FeedSession{ctx: tabCtx, cancel: cancel, sel: b.sel.LiveFeed}, nil
}

// ReadRows reads the newest rows from the feed table. Any failure here is
// treated as a dead session: the page may have navigated away, the tab
// crashed, or the browser is gone.
func (s *FeedSession) ReadRows(ctx context.Context, limit int) ([]FeedRow, error) {
	script := fmt.Sprintf(`(() => {
	const rows = Array.from(document.querySelectorAll(%q)).slice(0, %d);
	return rows.map(row => {
		const link = row.querySelector(%q);
		const icon = row.querySelector(%q);
		const cellText = (sel) => {
			const el = row.querySelector(sel);
			return el ? el.textContent.trim() : "";
		};
		return {
			url: link ? (link.getAttribute('href') || "") : "",
			title: link ? link.textContent.trim() : "",
			timeStr: cellText(%q),
			user: cellText(%q),
			action: icon ? (icon.getAttribute('title') || "Unknown") : "Unknown",
			type: cellText(%q)
		};
	});
})()`, s.sel.Row, limit, s.sel.SubjectLink, s.sel.ActionIcon, s.sel.TimeCell, s.sel.UserCell, s.sel.TypeCell)

	runCtx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	var rows []FeedRow
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &rows)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return rows, nil
}

func (s *FeedSession) Close() {
	s.cancel()
}

// StreamUserActivity walks a user's profile activity feed via infinite
// scroll and emits comment/post items as they appear. The items channel is
// closed when maxItems is reached, the feed is exhausted, or the context is
// cancelled; the error channel then yields at most one error.
func (b *Browser) StreamUserActivity(ctx context.Context, userID string, maxItems int) (<-chan models.ActivityItem, <-chan error) {
	items := make(chan models.ActivityItem)
	errc := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errc)

		tabCtx, cancel := b.newTab(ctx)
		defer cancel()

		profileURL := fmt.Sprintf("%s/user/%s", util.BaseURL, userID)
		slog.Info("Loading profile", "url", profileURL)

		loadCtx, cancelLoad := context.WithTimeout(tabCtx, 60*time.Second)
		err := chromedp.Run(loadCtx,
			chromedp.Navigate(profileURL),
			chromedp.WaitVisible(b.sel.Activity.Container, chromedp.ByQuery),
		)
		cancelLoad()
		if err != nil {
			errc <- fmt.Errorf("failed to load profile %s: %w", profileURL, err)
			return
		}

		collectScript := fmt.Sprintf(`(() => {
	const out = [];
	for (const item of document.querySelectorAll(%q)) {
		const action = item.querySelector(%q);
		if (!action) continue;
		const text = action.textContent.trim();
		if (!(text.includes('replied to') || text.includes('commented on') || text.includes('posted'))) continue;
		const links = action.querySelectorAll('a');
		if (links.length === 0) continue;
		const href = links[links.length - 1].getAttribute('href');
		if (!href) continue;
		out.push({text: text, url: href});
	}
	return out;
})()`, b.sel.Activity.Item, b.sel.Activity.Action)

		loadMoreScript := fmt.Sprintf(`(() => {
	const btn = document.querySelector(%q);
	if (btn && btn.offsetParent !== null) { btn.click(); return true; }
	return false;
})()`, b.sel.Activity.LoadMore)

		seen := make(map[string]struct{})
		count := 0
		lastHeight := -1
		retries := 0

		for count < maxItems {
			var found []models.ActivityItem
			if err := chromedp.Run(tabCtx, chromedp.Evaluate(collectScript, &found)); err != nil {
				errc <- fmt.Errorf("activity scan failed: %w", err)
				return
			}

			for _, item := range found {
				if count >= maxItems {
					break
				}
				item.URL = util.AbsoluteURL(item.URL)
				if _, ok := seen[item.URL]; ok {
					continue
				}
				seen[item.URL] = struct{}{}
				count++

				select {
				case items <- item:
				case <-ctx.Done():
					return
				}
			}
			if count >= maxItems {
				break
			}

			var height int
			err := chromedp.Run(tabCtx,
				chromedp.Evaluate("window.scrollBy(0, document.body.scrollHeight); document.body.scrollHeight", &height),
			)
			if err != nil {
				errc <- fmt.Errorf("activity scroll failed: %w", err)
				return
			}

			// Pause like a reader would, not like a bot.
			select {
			case <-time.After(2*time.Second + time.Duration(rand.Intn(2000))*time.Millisecond):
			case <-ctx.Done():
				return
			}

			if height == lastHeight {
				retries++
				if retries > 3 {
					// Jiggle: scroll up then hard down to wake the lazy loader.
					_ = chromedp.Run(tabCtx, chromedp.Evaluate(
						"window.scrollBy(0, -1000); window.scrollBy(0, 10000)", nil))
				}
				if retries > 5 {
					var clicked bool
					if err := chromedp.Run(tabCtx, chromedp.Evaluate(loadMoreScript, &clicked)); err == nil && clicked {
						slog.Info("Activity feed stalled, clicked load-more")
						retries = 0
						continue
					}
				}
				if retries >= 10 {
					slog.Info("End of activity feed reached", "user", userID, "items", count)
					return
				}
			} else {
				retries = 0
				lastHeight = height
			}
		}
	}()

	return items, errc
}
