package util

import (
	"testing"
	"time"
)

func TestSafeAtoi(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"42", 42},
		{" 42 ", 42},
		{"1,234", 1234},
		{"abc", 0},
		{"", 0},
		{"-7", -7},
	}
	for _, tt := range tests {
		if got := SafeAtoi(tt.input); got != tt.want {
			t.Errorf("SafeAtoi(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestCleanNumericString(t *testing.T) {
	if got := CleanNumericString("1,234 views"); got != "1234" {
		t.Errorf("CleanNumericString = %q, want 1234", got)
	}
}

func TestParseSignedNumericString(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"+12 votes", "12"},
		{"-3", "-3"},
		{"none", ""},
	}
	for _, tt := range tests {
		if got := ParseSignedNumericString(tt.input); got != tt.want {
			t.Errorf("ParseSignedNumericString(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestExtractPrice(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Widget $49.99 Delivered", "$49.99"},
		{"TV $1,299 at Store", "$1,299"},
		{"Free Sample", ""},
	}
	for _, tt := range tests {
		if got := ExtractPrice(tt.title); got != tt.want {
			t.Errorf("ExtractPrice(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestParseRelativeTime(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"now", "now", now},
		{"just now", "Just now", now},
		{"seconds", "30 sec", now.Add(-30 * time.Second)},
		{"minutes", "5 min", now.Add(-5 * time.Minute)},
		{"hours", "2 hours", now.Add(-2 * time.Hour)},
		{"days", "1 day", now.Add(-24 * time.Hour)},
		{"garbage", "???", now},
		{"missing unit", "5", now},
		{"non numeric value", "five min", now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRelativeTime(tt.input, now); !got.Equal(tt.want) {
				t.Errorf("ParseRelativeTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripRedirect(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"node redir suffix",
			"https://www.ozbargain.com.au/node/123456/redir",
			"https://www.ozbargain.com.au/node/123456",
		},
		{
			"node redir with query",
			"https://www.ozbargain.com.au/node/123456/redir?page=2",
			"https://www.ozbargain.com.au/node/123456?page=2",
		},
		{
			"comment url untouched",
			"https://www.ozbargain.com.au/comment/987/redir",
			"https://www.ozbargain.com.au/comment/987/redir",
		},
		{
			"plain node untouched",
			"https://www.ozbargain.com.au/node/123456",
			"https://www.ozbargain.com.au/node/123456",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripRedirect(tt.input); got != tt.want {
				t.Errorf("StripRedirect(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractDealID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://www.ozbargain.com.au/node/896662", "node/896662"},
		{"https://www.ozbargain.com.au/node/896662#comment-123", "node/896662"},
		{"https://www.ozbargain.com.au/node/896662?page=1", "node/896662"},
		{"https://www.ozbargain.com.au/comment/456789/redir", "comment/456789"},
		{"https://example.com/something", "https://example.com/something"},
	}
	for _, tt := range tests {
		if got := ExtractDealID(tt.input); got != tt.want {
			t.Errorf("ExtractDealID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestExtractCommentAnchor(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://www.ozbargain.com.au/node/1#comment-999", "comment-999"},
		{"https://www.ozbargain.com.au/comment/999", "comment-999"},
		{"https://www.ozbargain.com.au/node/1", ""},
	}
	for _, tt := range tests {
		if got := ExtractCommentAnchor(tt.input); got != tt.want {
			t.Errorf("ExtractCommentAnchor(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAbsoluteURL(t *testing.T) {
	if got := AbsoluteURL("/node/1"); got != "https://www.ozbargain.com.au/node/1" {
		t.Errorf("AbsoluteURL relative = %q", got)
	}
	if got := AbsoluteURL("https://example.com/x"); got != "https://example.com/x" {
		t.Errorf("AbsoluteURL absolute = %q", got)
	}
}
