package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength bounds the text sent for classification.
const MaxTextLength = 280

// Item represents one post observed in a feed.
type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Truncated returns a copy of the item with its text cut to MaxTextLength.
func (i Item) Truncated() Item {
	return Item{ID: i.ID, Text: TruncateText(i.Text, MaxTextLength)}
}

// TruncateText shortens text to at most maxLen runes, marking the cut with "...".
func TruncateText(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return string([]rune(text)[:maxLen])
	}
	return string([]rune(text)[:maxLen-3]) + "..."
}

// ItemIDFromPermalink extracts the status id from a post permalink
// such as https://x.com/user/status/1823636915897151580/photo/1.
func ItemIDFromPermalink(href string) (string, bool) {
	_, rest, found := strings.Cut(href, "/status/")
	if !found {
		return "", false
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// ClassificationRecord is an archived classification of one post.
type ClassificationRecord struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Topics       []string  `json:"topics"`
	Requested    []string  `json:"requested_topics"`
	Host         string    `json:"host,omitempty"`
	ClassifiedAt time.Time `json:"classified_at"`
}
