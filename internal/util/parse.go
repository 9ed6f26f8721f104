package util

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SafeAtoi converts a string to an int, tolerating commas and surrounding
// whitespace. Returns 0 on any parse failure.
func SafeAtoi(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return i
}

var nonNumericRegex = regexp.MustCompile(`[^\d]`)

func CleanNumericString(s string) string {
	return nonNumericRegex.ReplaceAllString(s, "")
}

var extractSignedNumberRegex = regexp.MustCompile(`-?\d+`)

func ParseSignedNumericString(s string) string {
	return extractSignedNumberRegex.FindString(s)
}

var priceRegex = regexp.MustCompile(`\$\d+(?:,\d+)*(?:\.\d+)?`)

// ExtractPrice pulls the first dollar amount out of a deal title.
// Returns "" when the title carries no price.
func ExtractPrice(title string) string {
	return priceRegex.FindString(title)
}

// ParseRelativeTime converts a live-feed relative-time phrase ("now",
// "5 min", "2 hours", "1 day") into an absolute time anchored at now.
// Unparseable input falls open to now; this never fails.
func ParseRelativeTime(s string, now time.Time) time.Time {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.Contains(s, "now") {
		return now
	}

	parts := strings.Fields(s)
	if len(parts) < 2 {
		return now
	}
	val, err := strconv.Atoi(parts[0])
	if err != nil {
		return now
	}

	unit := parts[1]
	var delta time.Duration
	switch {
	case strings.Contains(unit, "sec"):
		delta = time.Duration(val) * time.Second
	case strings.Contains(unit, "min"):
		delta = time.Duration(val) * time.Minute
	case strings.Contains(unit, "hour"):
		delta = time.Duration(val) * time.Hour
	case strings.Contains(unit, "day"):
		delta = time.Duration(val) * 24 * time.Hour
	}
	return now.Add(-delta)
}
