package util

import (
	"regexp"
	"strings"
)

const BaseURL = "https://www.ozbargain.com.au"

var (
	nodeIDRegex    = regexp.MustCompile(`/node/(\d+)`)
	commentIDRegex = regexp.MustCompile(`/comment/(\d+)`)
)

// AbsoluteURL resolves a feed href against the OzBargain origin.
func AbsoluteURL(href string) string {
	if strings.HasPrefix(href, "/") {
		return BaseURL + href
	}
	return href
}

// StripRedirect removes the /redir wrapper segment from deal URLs.
// It only applies to /node/ paths: a comment-leading URL keeps its path so
// the link in alert text still lands on the right anchor.
func StripRedirect(rawURL string) string {
	if !strings.Contains(rawURL, "/node/") {
		return rawURL
	}
	if strings.HasSuffix(rawURL, "/redir") {
		return strings.TrimSuffix(rawURL, "/redir")
	}
	if strings.Contains(rawURL, "/redir?") {
		return strings.Replace(rawURL, "/redir?", "?", 1)
	}
	return rawURL
}

// ExtractDealID derives the canonical identifier from a resolved URL:
// "node/<n>" for deal pages, "comment/<n>" for comment permalinks, and the
// URL itself when neither shape matches.
func ExtractDealID(resolvedURL string) string {
	if m := nodeIDRegex.FindStringSubmatch(resolvedURL); m != nil {
		return "node/" + m[1]
	}
	if m := commentIDRegex.FindStringSubmatch(resolvedURL); m != nil {
		return "comment/" + m[1]
	}
	return resolvedURL
}

// IsCommentID reports whether a canonical id refers to a comment rather
// than a deal node.
func IsCommentID(id string) bool {
	return strings.HasPrefix(id, "comment/")
}

// DealLink builds the public URL for a canonical id, used in alert text.
func DealLink(id string) string {
	return BaseURL + "/" + id
}

// ExtractCommentAnchor pulls the "comment-<n>" fragment identifier out of a
// URL, checking both "#comment-<n>" anchors and "/comment/<n>" paths.
// Returns "" when the URL carries no comment reference.
func ExtractCommentAnchor(rawURL string) string {
	if idx := strings.Index(rawURL, "#comment-"); idx != -1 {
		return rawURL[idx+1:]
	}
	if m := commentIDRegex.FindStringSubmatch(rawURL); m != nil {
		return "comment-" + m[1]
	}
	return ""
}
