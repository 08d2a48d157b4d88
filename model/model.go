package model

import "time"

// Source type labels stored alongside every delivered item.
const (
	SourceYouTube  = "youtube"
	SourceRSS      = "rss"
	SourceNews     = "news"
	SourceBreaking = "breaking_news"
)

// DefaultCategory is used whenever classification yields nothing usable.
const DefaultCategory = "World News"

// MarketCategory items are held back from the evening digest and delivered
// in the morning market briefing instead.
const MarketCategory = "Stock & Market"

// Item is a candidate content item pulled from one of the collectors,
// identified by its URL or GUID. Breaking is pre-set only by the keyword
// collector; the summarizer may flag it afterwards.
type Item struct {
	ID           string
	Title        string
	URL          string
	Snippet      string
	Source       string
	SourceType   string
	CategoryHint string
	Published    time.Time
	Breaking     bool
}

// Summary is the classification result attached to an item.
type Summary struct {
	Text     string
	Category string
	Breaking bool
}

// SummarizedItem pairs an item with its summary for formatting and routing.
type SummarizedItem struct {
	Item
	Summary Summary
}
